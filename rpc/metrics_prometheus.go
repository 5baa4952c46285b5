package rpc

import "github.com/prometheus/client_golang/prometheus"

// PrometheusMetricsOptions configures NewPrometheusMetrics.
type PrometheusMetricsOptions struct {
	Registerer  prometheus.Registerer
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

var _ MetricHook = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements MetricHook using Prometheus counters.
type PrometheusMetrics struct {
	requestsForwarded  *prometheus.CounterVec
	requestsDispatched *prometheus.CounterVec
	responsesSent      *prometheus.CounterVec
	callbacks          *prometheus.CounterVec
	handlesCanceled    *prometheus.CounterVec
	progressErrors     *prometheus.CounterVec
	listenPosted       *prometheus.CounterVec
}

var (
	classLabelKeys     = []string{labelClass}
	operationLabelKeys = []string{labelClass, labelOperation}
	callbackLabelKeys  = []string{labelClass, labelStatus}
	errorLabelKeys     = []string{labelClass, labelKind}
)

// NewPrometheusMetrics constructs a MetricHook backed by Prometheus counters.
func NewPrometheusMetrics(opts PrometheusMetricsOptions) (*PrometheusMetrics, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &PrometheusMetrics{
		requestsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "rpc_requests_forwarded_total",
			Help:        "Number of requests forwarded to peers",
			ConstLabels: opts.ConstLabels,
		}, operationLabelKeys),
		requestsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "rpc_requests_dispatched_total",
			Help:        "Number of incoming requests dispatched to handlers",
			ConstLabels: opts.ConstLabels,
		}, operationLabelKeys),
		responsesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "rpc_responses_sent_total",
			Help:        "Number of responses posted back to request sources",
			ConstLabels: opts.ConstLabels,
		}, operationLabelKeys),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "rpc_callbacks_dispatched_total",
			Help:        "Number of completion callbacks dispatched by Trigger",
			ConstLabels: opts.ConstLabels,
		}, callbackLabelKeys),
		handlesCanceled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "rpc_handles_canceled_total",
			Help:        "Number of handles cancelled before completion",
			ConstLabels: opts.ConstLabels,
		}, classLabelKeys),
		progressErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "rpc_progress_errors_total",
			Help:        "Number of transport errors surfaced by the progress loop",
			ConstLabels: opts.ConstLabels,
		}, errorLabelKeys),
		listenPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "rpc_listen_receives_posted_total",
			Help:        "Number of unexpected receives posted to the listen backlog",
			ConstLabels: opts.ConstLabels,
		}, classLabelKeys),
	}

	var err error
	if p.requestsForwarded, err = registerCounterVec(reg, p.requestsForwarded); err != nil {
		return nil, err
	}
	if p.requestsDispatched, err = registerCounterVec(reg, p.requestsDispatched); err != nil {
		return nil, err
	}
	if p.responsesSent, err = registerCounterVec(reg, p.responsesSent); err != nil {
		return nil, err
	}
	if p.callbacks, err = registerCounterVec(reg, p.callbacks); err != nil {
		return nil, err
	}
	if p.handlesCanceled, err = registerCounterVec(reg, p.handlesCanceled); err != nil {
		return nil, err
	}
	if p.progressErrors, err = registerCounterVec(reg, p.progressErrors); err != nil {
		return nil, err
	}
	if p.listenPosted, err = registerCounterVec(reg, p.listenPosted); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *PrometheusMetrics) RequestForwarded(attrs map[string]string) {
	p.requestsForwarded.With(labels(attrs, operationLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) RequestDispatched(attrs map[string]string) {
	p.requestsDispatched.With(labels(attrs, operationLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) ResponseSent(attrs map[string]string) {
	p.responsesSent.With(labels(attrs, operationLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) CallbackDispatched(attrs map[string]string) {
	p.callbacks.With(labels(attrs, callbackLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) HandleCanceled(attrs map[string]string) {
	p.handlesCanceled.With(labels(attrs, classLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) ProgressError(kind string, _ error, attrs map[string]string) {
	labs := labels(attrs, errorLabelKeys...)
	labs[labelKind] = kind
	p.progressErrors.With(labs).Inc()
}

func (p *PrometheusMetrics) ListenPosted(attrs map[string]string) {
	p.listenPosted.With(labels(attrs, classLabelKeys...)).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return vec, nil
}

func labels(attrs map[string]string, keys ...string) prometheus.Labels {
	labs := make(prometheus.Labels, len(keys))
	for _, key := range keys {
		labs[key] = attrs[key]
	}
	return labs
}
