package adapters

import (
	"context"
	"time"

	ports "github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/ports"
	"github.com/ZanzyTHEbar/srag-analyst/srag/metrics"
)

// PrometheusTracer records span durations and event counts.
type PrometheusTracer struct {
	m *metrics.Metrics
}

func NewPrometheusTracer(m *metrics.Metrics) *PrometheusTracer {
	return &PrometheusTracer{m: m}
}

func (t *PrometheusTracer) StartSpan(ctx context.Context, name string, _ map[string]any) (context.Context, func(err error)) {
	start := time.Now()
	return ctx, func(err error) {
		status := "ok"
		if err != nil {
			status = "error"
		}
		t.m.SpanDuration.WithLabelValues(name, status).Observe(time.Since(start).Seconds())
	}
}

func (t *PrometheusTracer) Event(_ context.Context, name string, _ map[string]any) {
	t.m.Events.WithLabelValues(name).Inc()
}

var _ ports.Tracer = (*PrometheusTracer)(nil)
