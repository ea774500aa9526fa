package adapters

import (
	"context"
	"fmt"

	ports "github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/ports"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelTracer maps harness spans onto OpenTelemetry spans.
type OTelTracer struct {
	tracer trace.Tracer
}

func NewOTelTracer(tracer trace.Tracer) *OTelTracer {
	return &OTelTracer{tracer: tracer}
}

func (t *OTelTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(ctx, "harness."+name, trace.WithAttributes(toAttributes(attrs)...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func (t *OTelTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(toAttributes(attrs)...))
}

func toAttributes(attrs map[string]any) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch x := v.(type) {
		case string:
			kvs = append(kvs, attribute.String(k, x))
		case int:
			kvs = append(kvs, attribute.Int(k, x))
		case int64:
			kvs = append(kvs, attribute.Int64(k, x))
		case float64:
			kvs = append(kvs, attribute.Float64(k, x))
		case bool:
			kvs = append(kvs, attribute.Bool(k, x))
		default:
			kvs = append(kvs, attribute.String(k, fmt.Sprint(x)))
		}
	}
	return kvs
}

var _ ports.Tracer = (*OTelTracer)(nil)
