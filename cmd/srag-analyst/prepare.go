package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ZanzyTHEbar/srag-analyst/srag/store"
)

// PrepareCmd builds the analytical store from a CSV export.
// Usage: srag-analyst prepare --csv data/processed/srag_analytics.csv
type PrepareCmd struct {
	CSV  string `long:"csv" description:"CSV export with a header row" required:"yes"`
	Path string `long:"path" description:"store path (overrides store.path)"`
}

func (c *PrepareCmd) Execute(_ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	path := cfg.Store.Path
	if c.Path != "" {
		path = c.Path
	}

	f, err := os.Open(c.CSV)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", c.CSV, err)
	}
	defer f.Close()

	n, err := store.Prepare(context.Background(), path, f)
	if err != nil {
		return err
	}

	if err := store.NewDependencyContext(path, cfg.Store.Table).Verify(context.Background()); err != nil {
		return err
	}
	logger.Info().Str("path", path).Int("rows", n).Msg("analytical store prepared")
	return nil
}
