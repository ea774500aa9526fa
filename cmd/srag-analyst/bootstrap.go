package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ZanzyTHEbar/srag-analyst/srag/analyst"
	"github.com/ZanzyTHEbar/srag-analyst/srag/archive"
	"github.com/ZanzyTHEbar/srag-analyst/srag/config"
	"github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness"
	"github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/adapters"
	"github.com/ZanzyTHEbar/srag-analyst/srag/logging"
	"github.com/ZanzyTHEbar/srag-analyst/srag/metrics"
	"github.com/ZanzyTHEbar/srag-analyst/srag/store"
)

// application holds everything built once at start-up.
type application struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	tracer  *sdktrace.TracerProvider
	deps    *store.DependencyContext
	orch    *harness.Orchestrator
	analyst *analyst.Service
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig(opts.Config)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logging.New(cfg.Logging), nil
}

func bootstrap(ctx context.Context) (*application, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &application{cfg: cfg, logger: logger}
	if cfg.Telemetry.MetricsEnabled {
		a.metrics = metrics.New()
	}

	if a.tracer, err = metrics.InitTracer(ctx, cfg.Telemetry); err != nil {
		return nil, fmt.Errorf("failed to initialise tracing: %w", err)
	}

	provider, err := adapters.NewOpenAIProvider(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}

	a.deps = store.NewDependencyContext(cfg.Store.Path, cfg.Store.Table)
	a.orch, err = harness.NewFactory(cfg, a.metrics, logger).CreateOrchestrator(provider, a.deps)
	if err != nil {
		return nil, fmt.Errorf("failed to build orchestrator: %w", err)
	}

	var archiver analyst.Archiver
	if cfg.Archive.Enabled && cfg.Archive.URL != "" {
		archiver = archive.New(cfg.Archive.URL, cfg.Store.PlotsDir, logger.With().Str("component", "archive").Logger())
	}
	a.analyst = analyst.New(a.orch, a.deps, archiver, a.metrics, logger)

	logger.Info().
		Str("store", cfg.Store.Path).
		Str("model", cfg.LLM.Model).
		Strs("input_predicates", cfg.Guardrails.InputPredicates).
		Int("max_turns", cfg.Harness.MaxTurns).
		Msg("analyst ready")
	return a, nil
}

func (a *application) Close(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}
}
