package tools

import (
	"fmt"
	"image/color"
	"math"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

var (
	trendColor   = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	historyColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
)

const (
	chartWidth  = 10 * vg.Inch
	chartHeight = 6 * vg.Inch
)

func renderTrend(path string, days []time.Time, counts []float64, growth float64) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("30-Day Trend | Growth: %+.1f%%", growth)
	p.X.Label.Text = "Notification date"
	p.Y.Label.Text = "Cases"
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02"}
	rotateTicks(p)

	pts := make(plotter.XYs, len(days))
	for i := range days {
		pts[i].X = float64(days[i].Unix())
		pts[i].Y = counts[i]
	}

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return fmt.Errorf("failed to build trend line: %w", err)
	}
	line.Color = trendColor
	points.Color = trendColor
	points.Shape = draw.CircleGlyph{}

	p.Add(plotter.NewGrid(), line, points)
	if err := p.Save(chartWidth, chartHeight, path); err != nil {
		return fmt.Errorf("failed to save chart: %w", err)
	}
	return nil
}

func renderHistory(path string, months []string, counts []float64) error {
	p := plot.New()
	p.Title.Text = "12-Month History"
	p.Y.Label.Text = "Cases"
	rotateTicks(p)

	bars, err := plotter.NewBarChart(plotter.Values(counts), vg.Points(20))
	if err != nil {
		return fmt.Errorf("failed to build bar chart: %w", err)
	}
	bars.Color = historyColor
	bars.LineStyle.Width = 0

	p.Add(plotter.NewGrid(), bars)
	p.NominalX(months...)
	if err := p.Save(chartWidth, chartHeight, path); err != nil {
		return fmt.Errorf("failed to save chart: %w", err)
	}
	return nil
}

func rotateTicks(p *plot.Plot) {
	p.X.Tick.Label.Rotation = math.Pi / 4
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter
}
