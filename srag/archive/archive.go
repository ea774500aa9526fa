// Package archive stores finished reports together with their charts so they can be
// read without a running server.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/srag-analyst/srag"
	"github.com/ZanzyTHEbar/srag-analyst/srag/generation/artifacts"
	"github.com/rs/zerolog"
	"github.com/viant/afs"
	"github.com/viant/afs/url"

	_ "github.com/viant/afsc/gs"
	_ "github.com/viant/afsc/s3"
)

// ReportName is the markdown file written at the root of every bundle.
const ReportName = "report.md"

// Archiver uploads report bundles under <base>/<run id>/. The base may be a local
// path or any afs URL (file://, s3://, gs://).
type Archiver struct {
	fs       afs.Service
	baseURL  string
	plotsDir string
	logger   zerolog.Logger
}

// New creates an archiver reading charts from plotsDir.
func New(baseURL, plotsDir string, logger zerolog.Logger) *Archiver {
	return &Archiver{
		fs:       afs.New(),
		baseURL:  strings.TrimRight(baseURL, "/"),
		plotsDir: plotsDir,
		logger:   logger,
	}
}

// Archive uploads every chart that exists on disk and the report with its chart
// links rewritten to the bundle layout. It returns the bundle URL.
func (a *Archiver) Archive(ctx context.Context, runID, report string, plots []string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("archive requires a run id")
	}
	dest := url.Join(a.baseURL, runID)

	for _, name := range plots {
		data, err := os.ReadFile(filepath.Join(a.plotsDir, filepath.Base(name)))
		if err != nil {
			a.logger.Warn().Err(err).Str("plot", name).Msg("chart missing on disk, skipping")
			continue
		}
		target := url.Join(dest, internal.OfflinePlotsDir, name)
		if err := a.fs.Upload(ctx, target, 0o644, bytes.NewReader(data)); err != nil {
			return "", fmt.Errorf("failed to upload %s: %w", target, err)
		}
		a.logger.Debug().Str("target", target).Msg("chart archived")
	}

	offline := artifacts.Offline(report, plots)
	target := url.Join(dest, ReportName)
	if err := a.fs.Upload(ctx, target, 0o644, strings.NewReader(offline)); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", target, err)
	}

	a.logger.Info().Str("bundle", dest).Int("plots", len(plots)).Msg("report archived")
	return dest, nil
}
