package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	internal "github.com/ZanzyTHEbar/srag-analyst/srag"
	ports "github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/ports"
	"github.com/ZanzyTHEbar/srag-analyst/srag/store"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ChartSchema defines the JSON schema for chart tool parameters.
const ChartSchema = `{
  "type": "object",
  "properties": {
    "chart_type": {
      "type": "string",
      "description": "The specific type of chart to generate.",
      "enum": ["trend_30d", "history_12m"]
    }
  },
  "required": ["chart_type"]
}`

const (
	ChartToolName = "plot_tool"

	ChartTrend30d   = "trend_30d"
	ChartHistory12m = "history_12m"

	// ChartTimestampLayout is the timestamp part of chart filenames.
	ChartTimestampLayout = "20060102_150405"

	trendWindowDays = 45
	trendPlotDays   = 30
	historyMonths   = 12
)

// ChartTool renders kind-specific charts anchored on the latest stored date.
type ChartTool struct {
	outputDir string
	now       func() time.Time
	logger    zerolog.Logger
}

// NewChartTool creates a chart tool writing PNG files under outputDir.
func NewChartTool(outputDir string, logger zerolog.Logger) *ChartTool {
	return &ChartTool{outputDir: outputDir, now: time.Now, logger: logger}
}

func (t *ChartTool) Kind() ports.ToolKind { return ports.ToolChart }
func (t *ChartTool) Name() string         { return ChartToolName }
func (t *ChartTool) Schema() []byte       { return []byte(ChartSchema) }

func (t *ChartTool) Description() string {
	return "Generates a chart and saves it to disk. " +
		"Returns a statistical summary to help interpret the visual data."
}

// ChartFilename builds "{chart_type}_{timestamp}.png".
func ChartFilename(chartType string, at time.Time) string {
	return fmt.Sprintf("%s_%s%s", chartType, at.Format(ChartTimestampLayout), internal.DefaultChartExtension)
}

// Invoke computes the aggregate, renders the chart and returns its path with a summary.
func (t *ChartTool) Invoke(ctx context.Context, deps *store.DependencyContext, args json.RawMessage) (ports.ToolOutput, error) {
	var params struct {
		ChartType string `json:"chart_type"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ports.ToolOutput{Text: fmt.Sprintf("Error: invalid arguments: %v", err), Advisory: true}, nil
	}

	if err := os.MkdirAll(t.outputDir, 0o755); err != nil {
		return ports.ToolOutput{Text: fmt.Sprintf("Error generating chart: %v", err), Advisory: true}, nil
	}

	filename := ChartFilename(params.ChartType, t.now())
	path := filepath.Join(t.outputDir, filename)

	var summary string
	err := deps.WithHandle(ctx, func(ctx context.Context, h *store.Handle) error {
		maxDate, err := h.MaxTimestamp(ctx)
		if err != nil {
			return err
		}

		switch params.ChartType {
		case ChartTrend30d:
			summary, err = t.trend(ctx, h, maxDate, path)
		case ChartHistory12m:
			summary, err = t.history(ctx, h, maxDate, path)
		default:
			err = fmt.Errorf("unsupported chart type %q", params.ChartType)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return ports.ToolOutput{}, err
		}
		t.logger.Error().Err(err).Str("chart_type", params.ChartType).Msg("chart generation failed")
		return ports.ToolOutput{Text: fmt.Sprintf("Error generating chart: %v", err), Advisory: true}, nil
	}

	t.logger.Info().Str("path", path).Msg("chart saved")
	return ports.ToolOutput{
		Text:     fmt.Sprintf("**System Note:** Chart generated at %s.\n\n%s", path, summary),
		Artifact: filename,
	}, nil
}

// DailySeries is a zero-filled run of daily counts.
type DailySeries struct {
	Days   []time.Time
	Counts []float64
}

// TrendSummary holds the figures reported for a daily trend.
type TrendSummary struct {
	Growth   float64
	LastWeek int
	Peak     int
	PeakDay  time.Time
}

// Summarize compares the last 7 days to the 7 before them and finds the peak day.
// Growth is 0 when the previous week has no cases.
func (s DailySeries) Summarize() TrendSummary {
	n := len(s.Counts)
	if n == 0 {
		return TrendSummary{}
	}

	last := floats.Sum(s.Counts[max(0, n-7):])
	prev := 0.0
	if n > 7 {
		prev = floats.Sum(s.Counts[max(0, n-14) : n-7])
	}

	var growth float64
	if prev > 0 {
		growth = (last - prev) / prev * 100
	}

	peak := floats.MaxIdx(s.Counts)
	return TrendSummary{
		Growth:   growth,
		LastWeek: int(last),
		Peak:     int(s.Counts[peak]),
		PeakDay:  s.Days[peak],
	}
}

func (s TrendSummary) String() string {
	return fmt.Sprintf("DATA SUMMARY FOR AGENT: Growth rate: %+.1f%%. Last 7 days total: %d. Peak: %d on %s.",
		s.Growth, s.LastWeek, s.Peak, store.FormatDate(s.PeakDay))
}

func (t *ChartTool) trend(ctx context.Context, h *store.Handle, maxDate time.Time, path string) (string, error) {
	from := maxDate.AddDate(0, 0, -trendWindowDays)
	q := fmt.Sprintf(
		"SELECT substr(%[1]s, 1, 10) AS day, COUNT(*) AS cases FROM %[2]s WHERE %[1]s >= ? GROUP BY 1 ORDER BY 1 ASC",
		internal.DefaultTimestampColumn, h.QuotedTable())
	res, err := h.Query(ctx, q, -1, store.FormatDate(from))
	if err != nil {
		return "", err
	}

	byDay := make(map[string]float64, len(res.Rows))
	for _, row := range res.Rows {
		byDay[fmt.Sprint(row[0])] = toFloat(row[1])
	}

	series := DailySeries{}
	for d := from; !d.After(maxDate); d = d.AddDate(0, 0, 1) {
		series.Days = append(series.Days, d)
		series.Counts = append(series.Counts, byDay[store.FormatDate(d)])
	}

	summary := series.Summarize()

	cutoff := maxDate.AddDate(0, 0, -trendPlotDays)
	start := 0
	for start < len(series.Days) && series.Days[start].Before(cutoff) {
		start++
	}
	if err := renderTrend(path, series.Days[start:], series.Counts[start:], summary.Growth); err != nil {
		return "", err
	}
	return summary.String(), nil
}

// MonthsBefore steps back n calendar months, clamping to the last day of the
// target month instead of rolling over (2024-02-29 minus 12 months is 2023-02-28).
func MonthsBefore(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, -n, 0)
	last := first.AddDate(0, 1, -1).Day()
	day := min(t.Day(), last)
	return time.Date(first.Year(), first.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// HistorySummary holds the figures reported for a monthly history.
type HistorySummary struct {
	Total     int
	Average   float64
	PeakMonth string
}

func (s HistorySummary) String() string {
	return fmt.Sprintf("DATA SUMMARY FOR AGENT: 12 months total: %d. Avg: %.1f. Peak: %s.",
		s.Total, s.Average, s.PeakMonth)
}

// SummarizeMonths computes total, mean and the first peak month.
func SummarizeMonths(months []string, counts []float64) HistorySummary {
	if len(counts) == 0 {
		return HistorySummary{}
	}
	return HistorySummary{
		Total:     int(floats.Sum(counts)),
		Average:   stat.Mean(counts, nil),
		PeakMonth: months[floats.MaxIdx(counts)],
	}
}

func (t *ChartTool) history(ctx context.Context, h *store.Handle, maxDate time.Time, path string) (string, error) {
	from := MonthsBefore(maxDate, historyMonths)
	q := fmt.Sprintf(
		"SELECT strftime('%%Y-%%m', %[1]s) AS month_str, COUNT(*) AS cases FROM %[2]s WHERE %[1]s >= ? GROUP BY 1 ORDER BY 1 ASC",
		internal.DefaultTimestampColumn, h.QuotedTable())
	res, err := h.Query(ctx, q, -1, store.FormatDate(from))
	if err != nil {
		return "", err
	}

	months := make([]string, 0, len(res.Rows))
	counts := make([]float64, 0, len(res.Rows))
	for _, row := range res.Rows {
		months = append(months, fmt.Sprint(row[0]))
		counts = append(counts, toFloat(row[1]))
	}
	if len(counts) == 0 {
		return "", fmt.Errorf("no notifications in the last %d months", historyMonths)
	}

	if err := renderHistory(path, months, counts); err != nil {
		return "", err
	}
	return SummarizeMonths(months, counts).String(), nil
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case int:
		return float64(x)
	case float64:
		return x
	default:
		return 0
	}
}

var _ ports.Tool = (*ChartTool)(nil)
