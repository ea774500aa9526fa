package adapters

import (
	"context"

	ports "github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/ports"
)

// MultiTracer fans spans and events out to several tracers.
type MultiTracer struct {
	tracers []ports.Tracer
}

func NewMultiTracer(tracers ...ports.Tracer) *MultiTracer {
	return &MultiTracer{tracers: tracers}
}

func (m *MultiTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	finishers := make([]func(error), 0, len(m.tracers))
	for _, t := range m.tracers {
		var finish func(error)
		ctx, finish = t.StartSpan(ctx, name, attrs)
		finishers = append(finishers, finish)
	}
	return ctx, func(err error) {
		for i := len(finishers) - 1; i >= 0; i-- {
			finishers[i](err)
		}
	}
}

func (m *MultiTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	for _, t := range m.tracers {
		t.Event(ctx, name, attrs)
	}
}

var _ ports.Tracer = (*MultiTracer)(nil)
