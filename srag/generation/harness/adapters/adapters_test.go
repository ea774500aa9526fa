package adapters_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/adapters"
	"github.com/ZanzyTHEbar/srag-analyst/srag/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestZerologTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := adapters.NewZerologTracer(zerolog.New(&buf).Level(zerolog.DebugLevel))

	ctx, finish := tracer.StartSpan(context.Background(), "tool_call", map[string]any{"tool": "stats_tool"})
	tracer.Event(ctx, "tool_error", map[string]any{"tool": "stats_tool"})
	finish(errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, `"event":"span_start"`)
	assert.Contains(t, out, `"event":"tool_error"`)
	assert.Contains(t, out, `"span":"tool_call"`)
	assert.Contains(t, out, `"event":"span_end"`)
	assert.Contains(t, out, `"error":"boom"`)
}

func TestPrometheusTracer(t *testing.T) {
	m := metrics.New()
	tracer := adapters.NewPrometheusTracer(m)

	_, finish := tracer.StartSpan(context.Background(), "provider_call", nil)
	finish(nil)
	_, finish = tracer.StartSpan(context.Background(), "provider_call", nil)
	finish(errors.New("down"))
	tracer.Event(context.Background(), "input_rejected", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues("input_rejected")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.SpanDuration))
}

func TestOTelTracer(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := adapters.NewOTelTracer(tp.Tracer("test"))

	ctx, finish := tracer.StartSpan(context.Background(), "run", map[string]any{"run_id": "r1", "max_turns": 3})
	tracer.Event(ctx, "tool_call_rejected", map[string]any{"tool": "plot_tool"})
	finish(errors.New("policy violation"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "harness.run", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "tool_call_rejected", spans[0].Events()[0].Name)
}

func TestMultiTracer(t *testing.T) {
	var a, b bytes.Buffer
	tracer := adapters.NewMultiTracer(
		adapters.NewZerologTracer(zerolog.New(&a).Level(zerolog.DebugLevel)),
		adapters.NewZerologTracer(zerolog.New(&b).Level(zerolog.DebugLevel)),
	)

	ctx, finish := tracer.StartSpan(context.Background(), "run", nil)
	tracer.Event(ctx, "note", nil)
	finish(nil)

	for _, buf := range []*bytes.Buffer{&a, &b} {
		assert.Contains(t, buf.String(), `"event":"span_end"`)
		assert.Contains(t, buf.String(), `"event":"note"`)
		assert.Equal(t, 1, strings.Count(buf.String(), `"event":"note"`))
	}
}

func TestZerologTracer_EventUsesOwnSpanLogger(t *testing.T) {
	var outer, inner bytes.Buffer
	first := adapters.NewZerologTracer(zerolog.New(&outer).With().Str("sink", "outer").Logger())
	second := adapters.NewZerologTracer(zerolog.New(&inner).With().Str("sink", "inner").Logger())

	ctx, finishFirst := first.StartSpan(context.Background(), "run", map[string]any{"run_id": "r1"})
	ctx, finishSecond := second.StartSpan(ctx, "tool", nil)
	first.Event(ctx, "note", nil)
	finishSecond(nil)
	finishFirst(nil)

	assert.Contains(t, outer.String(), `"event":"note"`)
	assert.Contains(t, outer.String(), `"run_id":"r1"`)
	assert.NotContains(t, inner.String(), `"event":"note"`)
}

func TestRateLimiter(t *testing.T) {
	limiter := adapters.NewRateLimiter(0.001, 1)

	release, err := limiter.Acquire(context.Background(), "provider")
	require.NoError(t, err)
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = limiter.Acquire(ctx, "provider")
	assert.Error(t, err)

	// Keys are limited independently.
	release, err = limiter.Acquire(context.Background(), "search")
	require.NoError(t, err)
	release()
}
