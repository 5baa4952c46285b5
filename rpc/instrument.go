package rpc

import (
	"fmt"
	"strings"
)

// Logger provides formatted debug logging hooks for the runtime.
type Logger interface {
	Debugf(format string, args ...any)
}

// StructuredLogger emits key/value pairs for structured logging backends.
type StructuredLogger interface {
	Debugw(msg string, keyvals ...any)
}

// TraceAttribute represents a tracing attribute attached to spans or events.
type TraceAttribute struct {
	Key   string
	Value any
}

// Tracer starts spans that wrap progress-loop activity.
type Tracer interface {
	StartSpan(name string, attrs ...TraceAttribute) Span
}

// Span records lifecycle, events, and errors for tracing systems.
type Span interface {
	End(err error)
	AddEvent(name string, attrs ...TraceAttribute)
	RecordError(err error)
}

// MetricHook captures runtime telemetry events.
type MetricHook interface {
	RequestForwarded(attrs map[string]string)
	RequestDispatched(attrs map[string]string)
	ResponseSent(attrs map[string]string)
	CallbackDispatched(attrs map[string]string)
	HandleCanceled(attrs map[string]string)
	ProgressError(kind string, err error, attrs map[string]string)
	ListenPosted(attrs map[string]string)
}

const (
	labelClass     = "class"
	labelOperation = "operation"
	labelStatus    = "status"
	labelKind      = "kind"
)

type logField struct {
	key   string
	value any
}

func logKV(key string, value any) logField {
	return logField{key: key, value: value}
}

func (c *Class) metricAttrs(fields ...logField) map[string]string {
	attrs := make(map[string]string, len(fields)+1)
	attrs[labelClass] = c.cfg.Name
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		attrs[field.key] = fmt.Sprint(field.value)
	}
	return attrs
}

func (c *Class) logEvent(event string, fields ...logField) {
	if c == nil {
		return
	}
	if c.structuredLogger != nil {
		kv := make([]any, 0, len(fields)*2+4)
		kv = append(kv, "event", event)
		if c.cfg.Name != "" {
			kv = append(kv, "class", c.cfg.Name)
		}
		for _, field := range fields {
			if field.key == "" {
				continue
			}
			kv = append(kv, field.key, field.value)
		}
		c.structuredLogger.Debugw("rpc runtime", kv...)
		return
	}
	if c.logger == nil {
		return
	}
	var b strings.Builder
	b.WriteString(event)
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(field.key)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(field.value))
	}
	c.logger.Debugf("rpc runtime %s", b.String())
}

func (c *Class) metricRequestForwarded(fields ...logField) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.RequestForwarded(c.metricAttrs(fields...))
}

func (c *Class) metricRequestDispatched(fields ...logField) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.RequestDispatched(c.metricAttrs(fields...))
}

func (c *Class) metricResponseSent(fields ...logField) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.ResponseSent(c.metricAttrs(fields...))
}

func (c *Class) metricCallbackDispatched(fields ...logField) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.CallbackDispatched(c.metricAttrs(fields...))
}

func (c *Class) metricHandleCanceled(fields ...logField) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.HandleCanceled(c.metricAttrs(fields...))
}

func (c *Class) metricProgressError(kind string, err error, fields ...logField) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.ProgressError(kind, err, c.metricAttrs(fields...))
}

func (c *Class) metricListenPosted(fields ...logField) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.ListenPosted(c.metricAttrs(fields...))
}

func (c *Class) startProgressSpan() Span {
	if c == nil || c.tracer == nil {
		return nil
	}
	attrs := []TraceAttribute{{Key: "component", Value: "rpc-progress"}}
	if c.cfg.Name != "" {
		attrs = append(attrs, TraceAttribute{Key: "class", Value: c.cfg.Name})
	}
	return c.tracer.StartSpan("rpc-progress", attrs...)
}

func spanAddEvent(span Span, name string, fields ...logField) {
	if span == nil {
		return
	}
	span.AddEvent(name, attributesFromFields(fields...)...)
}

func spanRecordError(span Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
}

func attributesFromFields(fields ...logField) []TraceAttribute {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]TraceAttribute, 0, len(fields))
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		attrs = append(attrs, TraceAttribute{Key: field.key, Value: field.value})
	}
	return attrs
}
