// Package analyst is the application service behind the CLI and the HTTP server: it
// turns chat questions and report requests into orchestrator runs.
package analyst

import (
	"context"
	"errors"
	"time"

	"github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness"
	"github.com/ZanzyTHEbar/srag-analyst/srag/metrics"
	"github.com/ZanzyTHEbar/srag-analyst/srag/store"
	"github.com/rs/zerolog"
)

// ReportPrompt asks for the executive report. The focus area is appended by the query.
const ReportPrompt = "Generate a comprehensive **Executive Report** on the current **SRAG situation**.\n" +
	"STRICTLY FOLLOW this structure and formatting rules:\n\n" +
	"1. **KEY METRICS**: Calculate and present:\n" +
	"   - Case Increase Rate (Growth %)\n" +
	"   - Mortality Rate (CFR %)\n" +
	"   - ICU Occupation Rate (%)\n" +
	"   - Vaccination Rate for COVID-19 (%)\n" +
	"   - Vaccination Rate for Influenza (Flu) (%)\n\n" +
	"2. **VISUAL ANALYSIS** (Mandatory):\n" +
	"   - You MUST generate two charts: 'trend_30d' and 'history_12m'.\n" +
	"   - When embedding charts, use the EXACT filename returned by the tool (including .png):\n" +
	"     `![Desc](/api/v1/plots/<exact_filename_from_tool_output>)`\n" +
	"   - Do NOT use the local data directory in the Markdown link.\n\n" +
	"3. **CONTEXTUAL ANALYSIS**:\n" +
	"   Search the web for relevant news (outbreaks, variants, public health events) that\n" +
	"   explains the trends and anomalies in the data.\n\n" +
	"4. **CONCLUSION**: Brief executive summary.\n\n" +
	"5. **OUTPUT FORMAT**:\n" +
	"   - Include only the analytical sections above.\n" +
	"   - Write in a neutral, report-style format.\n" +
	"   - End the document at the conclusion section."

const schemaDebounce = 500 * time.Millisecond

// Runner executes one orchestrator run.
type Runner interface {
	Run(ctx context.Context, q harness.Query, deps *store.DependencyContext) (*harness.RunResult, error)
}

// Archiver persists a finished report with its charts.
type Archiver interface {
	Archive(ctx context.Context, runID, report string, plots []string) (string, error)
}

// Refresher reloads the cached schema description.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Answer is what callers receive for a successful run.
type Answer struct {
	RunID         string   `json:"run_id"`
	Response      string   `json:"response"`
	Plots         []string `json:"plots"`
	ExecutionTime float64  `json:"execution_time"` // seconds
	Archive       string   `json:"archive,omitempty"`
}

// Service is built once at start-up and is safe for concurrent use.
type Service struct {
	runner   Runner
	deps     *store.DependencyContext
	archiver Archiver         // optional
	metrics  *metrics.Metrics // optional
	logger   zerolog.Logger
}

// New creates the analyst service.
func New(runner Runner, deps *store.DependencyContext, archiver Archiver, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		runner:   runner,
		deps:     deps,
		archiver: archiver,
		metrics:  m,
		logger:   logger,
	}
}

// Chat answers a free-form question.
func (s *Service) Chat(ctx context.Context, query string) (*Answer, error) {
	return s.ask(ctx, harness.Query{Text: query})
}

// Report produces the executive report and archives it when an archiver is set.
// Archival failures are logged and counted; they never fail the request.
func (s *Service) Report(ctx context.Context, focusArea string) (*Answer, error) {
	ans, err := s.ask(ctx, harness.Query{Text: ReportPrompt, FocusArea: focusArea})
	if err != nil || s.archiver == nil {
		return ans, err
	}

	dest, err := s.archiver.Archive(ctx, ans.RunID, ans.Response, ans.Plots)
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", ans.RunID).Msg("report archival failed")
		if s.metrics != nil {
			s.metrics.ArchiveFailures.Inc()
		}
		return ans, nil
	}
	ans.Archive = dest
	return ans, nil
}

func (s *Service) ask(ctx context.Context, q harness.Query) (*Answer, error) {
	res, err := s.runner.Run(ctx, q, s.deps)
	s.record(res, err)
	if err != nil {
		return nil, err
	}

	plots := res.Artifacts
	if plots == nil {
		plots = []string{}
	}
	return &Answer{
		RunID:         res.RunID,
		Response:      res.Text,
		Plots:         plots,
		ExecutionTime: res.Elapsed.Seconds(),
	}, nil
}

func (s *Service) record(res *harness.RunResult, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "done"
	if err != nil {
		outcome = harness.KindInternal.String()
		var runErr *harness.RunError
		if errors.As(err, &runErr) {
			outcome = runErr.Kind.String()
		}
	}
	s.metrics.Runs.WithLabelValues(outcome).Inc()
	if res != nil {
		s.metrics.Tokens.WithLabelValues("prompt").Add(float64(res.Usage.PromptTokens))
		s.metrics.Tokens.WithLabelValues("completion").Add(float64(res.Usage.CompletionTokens))
	}
}

// WatchSchema refreshes the schema description whenever the store file is replaced.
func (s *Service) WatchSchema(ctx context.Context, prompts Refresher) error {
	if s.deps == nil {
		return nil
	}
	return s.deps.Watch(ctx, s.logger, schemaDebounce, func() {
		if err := prompts.Refresh(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("schema refresh failed, keeping previous description")
			return
		}
		s.logger.Info().Msg("schema description refreshed")
	})
}
