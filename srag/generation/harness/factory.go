package harness

import (
	"context"
	"fmt"

	internal "github.com/ZanzyTHEbar/srag-analyst/srag"
	"github.com/ZanzyTHEbar/srag-analyst/srag/config"
	"github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/ports"
	"github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/tools"
	"github.com/ZanzyTHEbar/srag-analyst/srag/metrics"
	"github.com/ZanzyTHEbar/srag-analyst/srag/store"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

const (
	minTurns = 1
	maxTurns = 50
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	cfg     *config.Config
	metrics *metrics.Metrics // optional
	logger  zerolog.Logger
}

// NewFactory creates a new harness factory.
func NewFactory(cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// CreateOrchestrator creates a fully wired Orchestrator. The provider is injected
// separately because it depends on network credentials.
func (f *Factory) CreateOrchestrator(provider ports.Provider, deps *store.DependencyContext) (*Orchestrator, error) {
	registry, err := f.CreateRegistry()
	if err != nil {
		return nil, err
	}
	guardrails, err := f.CreateGuardrails(registry)
	if err != nil {
		return nil, err
	}

	return NewOrchestrator(
		provider,
		registry,
		guardrails,
		f.CreatePromptBuilder(deps),
		f.createRateLimiter(),
		f.createTracer(),
		f.CreatePolicy(),
		f.logger.With().Str("component", "orchestrator").Logger(),
	), nil
}

// CreateRegistry binds the query, chart and search tools.
func (f *Factory) CreateRegistry() (*tools.Registry, error) {
	return tools.NewRegistry(f.cfg.Harness.ToolTimeout,
		tools.NewQueryTool(f.cfg.Harness.MaxResultRows),
		tools.NewChartTool(f.cfg.Store.PlotsDir, f.logger.With().Str("component", "chart").Logger()),
		tools.NewSearchTool(f.cfg.Search),
	)
}

// CreateGuardrails creates the policy gate from config.
func (f *Factory) CreateGuardrails(registry *tools.Registry) (*Guardrails, error) {
	inputs, err := BuildInputPredicates(f.cfg.Guardrails)
	if err != nil {
		return nil, fmt.Errorf("failed to build input predicates: %w", err)
	}
	return NewGuardrails(registry, inputs...)
}

// CreatePromptBuilder creates a prompt builder whose schema description comes from
// the store. The first description is loaded eagerly; a store that is not ready yet
// leaves the placeholder in place.
func (f *Factory) CreatePromptBuilder(deps *store.DependencyContext) *PromptBuilder {
	var describe SchemaSource
	if deps != nil {
		describe = deps.DescribeSchema
	}
	b := NewPromptBuilder(describe)
	if err := b.Refresh(context.Background()); err != nil {
		f.logger.Warn().Err(err).Msg("schema description unavailable, using placeholder")
	}
	return b
}

// CreatePolicy creates a policy from config with validation.
func (f *Factory) CreatePolicy() *Policy {
	policy := DefaultPolicy()
	policy.MaxTurns = f.cfg.Harness.MaxTurns
	policy.Options.Temperature = f.cfg.LLM.Temperature
	if f.cfg.LLM.MaxOutputTokens > 0 {
		policy.Options.MaxNewTokens = f.cfg.LLM.MaxOutputTokens
	}

	// Validate and clamp policy values
	if policy.MaxTurns < minTurns {
		policy.MaxTurns = minTurns
		f.logger.Warn().Int("max_turns", f.cfg.Harness.MaxTurns).Msg("MaxTurns clamped to minimum of 1")
	}
	if policy.MaxTurns > maxTurns {
		policy.MaxTurns = maxTurns
		f.logger.Warn().Int("max_turns", f.cfg.Harness.MaxTurns).Msg("MaxTurns clamped to maximum of 50")
	}

	return policy
}

// createRateLimiter creates a rate limiter adapter from config.
func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.cfg.Harness.RateLimitEnabled || f.cfg.Harness.RateLimitPerSecond <= 0 {
		return &noOpRateLimiter{}
	}
	return adapters.NewRateLimiter(f.cfg.Harness.RateLimitPerSecond, f.cfg.Harness.RateLimitBurst)
}

// createTracer combines every enabled tracing backend.
func (f *Factory) createTracer() ports.Tracer {
	var tracers []ports.Tracer
	if f.cfg.Harness.EnableTracing {
		tracers = append(tracers, adapters.NewZerologTracer(f.logger))
	}
	if f.metrics != nil {
		tracers = append(tracers, adapters.NewPrometheusTracer(f.metrics))
	}
	if f.cfg.Telemetry.OTLPEndpoint != "" {
		tracers = append(tracers, adapters.NewOTelTracer(otel.Tracer(internal.DefaultAppName+"/harness")))
	}

	switch len(tracers) {
	case 0:
		return &noOpTracer{}
	case 1:
		return tracers[0]
	default:
		return adapters.NewMultiTracer(tracers...)
	}
}

// noOpRateLimiter implements RateLimiter interface with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// Ensure all no-op types implement their interfaces.
var (
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
)
