package analyst_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/srag-analyst/srag/analyst"
	"github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness"
	ports "github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/ports"
	"github.com/ZanzyTHEbar/srag-analyst/srag/metrics"
	"github.com/ZanzyTHEbar/srag-analyst/srag/store"
)

type stubRunner struct {
	queries []harness.Query
	result  *harness.RunResult
	err     error
}

func (r *stubRunner) Run(_ context.Context, q harness.Query, _ *store.DependencyContext) (*harness.RunResult, error) {
	r.queries = append(r.queries, q)
	return r.result, r.err
}

type stubArchiver struct {
	runID  string
	report string
	plots  []string
	err    error
}

func (a *stubArchiver) Archive(_ context.Context, runID, report string, plots []string) (string, error) {
	a.runID, a.report, a.plots = runID, report, plots
	if a.err != nil {
		return "", a.err
	}
	return "file:///archive/" + runID, nil
}

func doneResult() *harness.RunResult {
	return &harness.RunResult{
		RunID:     "run-1",
		Text:      "![Trend](/api/v1/plots/trend_30d_20240701_120000.png)",
		Artifacts: []string{"trend_30d_20240701_120000.png"},
		Elapsed:   1500 * time.Millisecond,
		Usage:     ports.Usage{PromptTokens: 300, CompletionTokens: 60, TotalTokens: 360},
		State:     harness.StateDone,
	}
}

func TestChat(t *testing.T) {
	runner := &stubRunner{result: doneResult()}
	m := metrics.New()
	svc := analyst.New(runner, nil, nil, m, zerolog.Nop())

	ans, err := svc.Chat(context.Background(), "How many cases?")
	require.NoError(t, err)

	assert.Equal(t, "run-1", ans.RunID)
	assert.Equal(t, doneResult().Text, ans.Response)
	assert.Equal(t, []string{"trend_30d_20240701_120000.png"}, ans.Plots)
	assert.InDelta(t, 1.5, ans.ExecutionTime, 1e-9)
	assert.Equal(t, []harness.Query{{Text: "How many cases?"}}, runner.queries)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("done")))
	assert.Equal(t, 300.0, testutil.ToFloat64(m.Tokens.WithLabelValues("prompt")))
	assert.Equal(t, 60.0, testutil.ToFloat64(m.Tokens.WithLabelValues("completion")))
}

func TestChat_FailureIsRecordedByKind(t *testing.T) {
	runErr := &harness.RunError{Kind: harness.KindPolicyViolation, Reason: "Input rejected by pii"}
	runner := &stubRunner{result: &harness.RunResult{State: harness.StateFailed}, err: runErr}
	m := metrics.New()
	svc := analyst.New(runner, nil, nil, m, zerolog.Nop())

	ans, err := svc.Chat(context.Background(), "CPF 123.456.789-00")
	assert.Nil(t, ans)
	assert.ErrorIs(t, err, harness.ErrPolicyViolation)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("PolicyViolation")))
}

func TestReport_ArchivesBundle(t *testing.T) {
	runner := &stubRunner{result: doneResult()}
	archiver := &stubArchiver{}
	svc := analyst.New(runner, nil, archiver, nil, zerolog.Nop())

	ans, err := svc.Report(context.Background(), "ICU occupancy")
	require.NoError(t, err)

	require.Len(t, runner.queries, 1)
	assert.Equal(t, analyst.ReportPrompt, runner.queries[0].Text)
	assert.Equal(t, "ICU occupancy", runner.queries[0].FocusArea)

	assert.Equal(t, "run-1", archiver.runID)
	assert.Equal(t, ans.Response, archiver.report)
	assert.Equal(t, ans.Plots, archiver.plots)
	assert.Equal(t, "file:///archive/run-1", ans.Archive)
}

func TestReport_ArchiveFailureDoesNotFailRequest(t *testing.T) {
	m := metrics.New()
	svc := analyst.New(&stubRunner{result: doneResult()}, nil, &stubArchiver{err: errors.New("bucket down")}, m, zerolog.Nop())

	ans, err := svc.Report(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, ans.Archive)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ArchiveFailures))
}

func TestReport_NoPlotsIsEmptyList(t *testing.T) {
	res := doneResult()
	res.Artifacts = nil
	svc := analyst.New(&stubRunner{result: res}, nil, nil, nil, zerolog.Nop())

	ans, err := svc.Report(context.Background(), "")
	require.NoError(t, err)
	assert.NotNil(t, ans.Plots)
	assert.Empty(t, ans.Plots)
}

type countingRefresher struct{ n atomic.Int32 }

func (r *countingRefresher) Refresh(context.Context) error {
	r.n.Add(1)
	return nil
}

func TestWatchSchema_RefreshesOnStoreChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "srag_analytics.db")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := analyst.New(&stubRunner{}, store.NewDependencyContext(path, ""), nil, nil, zerolog.Nop())
	refresher := &countingRefresher{}
	require.NoError(t, svc.WatchSchema(ctx, refresher))

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	assert.Eventually(t, func() bool { return refresher.n.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
}
