package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZanzyTHEbar/srag-analyst/srag/server"
)

// ServeCmd starts the HTTP server.
// Usage: srag-analyst serve --addr :8000
type ServeCmd struct {
	Addr string `short:"a" long:"addr" description:"listen address (overrides server.addr)"`
}

func (s *ServeCmd) Execute(_ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		app.Close(shutdownCtx)
	}()

	if app.cfg.Store.WatchSchema {
		if err := app.analyst.WatchSchema(ctx, app.orch.Prompts()); err != nil {
			app.logger.Warn().Err(err).Msg("schema watcher disabled")
		}
	}

	cfg := app.cfg.Server
	if s.Addr != "" {
		cfg.Addr = s.Addr
	}
	srv := server.New(cfg, app.analyst, app.deps, app.cfg.Store.PlotsDir, app.metrics, app.logger)
	app.logger.Info().Str("addr", cfg.Addr).Msg("serving")
	return srv.Run(ctx)
}
