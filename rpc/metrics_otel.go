package rpc

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetricsOptions configures NewOTelMetrics.
type OTelMetricsOptions struct {
	MeterProvider          metric.MeterProvider
	Meter                  metric.Meter
	InstrumentationName    string
	InstrumentationVersion string
}

var _ MetricHook = (*OTelMetrics)(nil)

// OTelMetrics implements MetricHook using OpenTelemetry counters.
type OTelMetrics struct {
	meter              metric.Meter
	requestsForwarded  metric.Int64Counter
	requestsDispatched metric.Int64Counter
	responsesSent      metric.Int64Counter
	callbacks          metric.Int64Counter
	handlesCanceled    metric.Int64Counter
	progressErrors     metric.Int64Counter
	listenPosted       metric.Int64Counter
}

// NewOTelMetrics constructs a MetricHook that emits OpenTelemetry counter
// measurements.
func NewOTelMetrics(opts OTelMetricsOptions) (*OTelMetrics, error) {
	meter := opts.Meter
	if meter == nil {
		provider := opts.MeterProvider
		if provider == nil {
			provider = otel.GetMeterProvider()
		}
		name := opts.InstrumentationName
		if name == "" {
			name = "github.com/rocketbitz/narpc-go/rpc"
		}
		meter = provider.Meter(name, metric.WithInstrumentationVersion(opts.InstrumentationVersion))
	}

	requestsForwarded, err := meter.Int64Counter("rpc.requests.forwarded")
	if err != nil {
		return nil, err
	}
	requestsDispatched, err := meter.Int64Counter("rpc.requests.dispatched")
	if err != nil {
		return nil, err
	}
	responsesSent, err := meter.Int64Counter("rpc.responses.sent")
	if err != nil {
		return nil, err
	}
	callbacks, err := meter.Int64Counter("rpc.callbacks.dispatched")
	if err != nil {
		return nil, err
	}
	handlesCanceled, err := meter.Int64Counter("rpc.handles.canceled")
	if err != nil {
		return nil, err
	}
	progressErrors, err := meter.Int64Counter("rpc.progress.errors")
	if err != nil {
		return nil, err
	}
	listenPosted, err := meter.Int64Counter("rpc.listen.posted")
	if err != nil {
		return nil, err
	}

	return &OTelMetrics{
		meter:              meter,
		requestsForwarded:  requestsForwarded,
		requestsDispatched: requestsDispatched,
		responsesSent:      responsesSent,
		callbacks:          callbacks,
		handlesCanceled:    handlesCanceled,
		progressErrors:     progressErrors,
		listenPosted:       listenPosted,
	}, nil
}

// RequestForwarded records a request posted toward a peer.
func (o *OTelMetrics) RequestForwarded(attrs map[string]string) {
	o.requestsForwarded.Add(context.Background(), 1, metric.WithAttributes(otelAttrsWithOperation(attrs)...))
}

// RequestDispatched records an incoming request handed to its handler.
func (o *OTelMetrics) RequestDispatched(attrs map[string]string) {
	o.requestsDispatched.Add(context.Background(), 1, metric.WithAttributes(otelAttrsWithOperation(attrs)...))
}

// ResponseSent records a response posted back to the request source.
func (o *OTelMetrics) ResponseSent(attrs map[string]string) {
	o.responsesSent.Add(context.Background(), 1, metric.WithAttributes(otelAttrsWithOperation(attrs)...))
}

// CallbackDispatched records a completion callback run by Trigger.
func (o *OTelMetrics) CallbackDispatched(attrs map[string]string) {
	o.callbacks.Add(context.Background(), 1, metric.WithAttributes(otelAttrsWithStatus(attrs)...))
}

// HandleCanceled records a handle cancelled before completion.
func (o *OTelMetrics) HandleCanceled(attrs map[string]string) {
	o.handlesCanceled.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

// ProgressError counts transport errors observed by the progress loop.
func (o *OTelMetrics) ProgressError(kind string, _ error, attrs map[string]string) {
	attributes := append(otelAttrs(attrs), attribute.String(labelKind, kind))
	o.progressErrors.Add(context.Background(), 1, metric.WithAttributes(attributes...))
}

// ListenPosted counts unexpected receives posted to the listen backlog.
func (o *OTelMetrics) ListenPosted(attrs map[string]string) {
	o.listenPosted.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

func otelAttrs(attrs map[string]string) []attribute.KeyValue {
	kvs := []attribute.KeyValue{
		attribute.String(labelClass, attrs[labelClass]),
	}
	return kvs
}

func otelAttrsWithOperation(attrs map[string]string) []attribute.KeyValue {
	kvs := otelAttrs(attrs)
	if v := attrs[labelOperation]; v != "" {
		kvs = append(kvs, attribute.String(labelOperation, v))
	}
	return kvs
}

func otelAttrsWithStatus(attrs map[string]string) []attribute.KeyValue {
	kvs := otelAttrs(attrs)
	if v := attrs[labelStatus]; v != "" {
		kvs = append(kvs, attribute.String(labelStatus, v))
	}
	return kvs
}
