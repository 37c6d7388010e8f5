// Package report renders sweep summaries as charts.
package report

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/weisiCeltics/teacp/internal/sweep"
)

// metric selects one mean/std pair from a summary.
type metric struct {
	name  string
	label string
	get   func(sweep.Summary) (mean, std float64)
}

var metrics = []metric{
	{"delivery", "Delivery ratio", func(s sweep.Summary) (float64, float64) { return s.DeliveryMean, s.DeliveryStd }},
	{"delay", "Avg delay (ms)", func(s sweep.Summary) (float64, float64) { return s.DelayMean, s.DelayStd }},
	{"goodput", "Goodput", func(s sweep.Summary) (float64, float64) { return s.GoodputMean, s.GoodputStd }},
}

// Title names a chart set.
type Title struct {
	Text   string
	Column string
}

func (t Title) column() string {
	if t.Column == "" {
		return "PktRate"
	}
	return t.Column
}

// errorSeries pairs points with symmetric std error bars.
type errorSeries struct {
	plotter.XYs
	plotter.YErrors
}

// WritePNG draws the three metrics as stacked panels and encodes a PNG to w.
func WritePNG(w io.Writer, title Title, rows []sweep.Summary) error {
	if len(rows) == 0 {
		return fmt.Errorf("no rows to plot")
	}
	plots := make([][]*plot.Plot, len(metrics))
	for i, m := range metrics {
		p := plot.New()
		if i == 0 {
			p.Title.Text = title.Text
		}
		p.X.Label.Text = title.column()
		p.Y.Label.Text = m.label

		series := errorSeries{
			XYs:     make(plotter.XYs, len(rows)),
			YErrors: make(plotter.YErrors, len(rows)),
		}
		for j, r := range rows {
			mean, std := m.get(r)
			series.XYs[j] = plotter.XY{X: r.Value, Y: mean}
			series.YErrors[j].Low = std
			series.YErrors[j].High = std
		}

		line, points, err := plotter.NewLinePoints(series.XYs)
		if err != nil {
			return fmt.Errorf("%s line: %w", m.name, err)
		}
		line.Width = vg.Points(1)
		line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
		points.Shape = draw.CircleGlyph{}
		points.Color = line.Color

		bars, err := plotter.NewYErrorBars(series)
		if err != nil {
			return fmt.Errorf("%s error bars: %w", m.name, err)
		}
		p.Add(line, points, bars, plotter.NewGrid())
		plots[i] = []*plot.Plot{p}
	}

	img := vgimg.New(8*vg.Inch, 10*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      len(metrics),
		Cols:      1,
		PadX:      vg.Millimeter,
		PadY:      2 * vg.Millimeter,
		PadTop:    vg.Millimeter,
		PadBottom: vg.Millimeter,
		PadLeft:   vg.Millimeter,
		PadRight:  vg.Millimeter,
	}
	canvases := plot.Align(plots, tiles, dc)
	for i := range plots {
		plots[i][0].Draw(canvases[i][0])
	}
	_, err := vgimg.PngCanvas{Canvas: img}.WriteTo(w)
	return err
}

// WriteHTML renders one go-echarts line chart per metric into a single page.
func WriteHTML(w io.Writer, title Title, rows []sweep.Summary) error {
	x := make([]string, len(rows))
	for i, r := range rows {
		x[i] = strconv.FormatFloat(r.Value, 'g', -1, 64)
	}

	page := components.NewPage()
	page.PageTitle = title.Text
	for _, m := range metrics {
		means := make([]opts.LineData, len(rows))
		upper := make([]opts.LineData, len(rows))
		lower := make([]opts.LineData, len(rows))
		for i, r := range rows {
			mean, std := m.get(r)
			means[i] = opts.LineData{Value: mean}
			upper[i] = opts.LineData{Value: mean + std}
			lower[i] = opts.LineData{Value: mean - std}
		}

		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
			charts.WithTitleOpts(opts.Title{Title: m.label, Subtitle: title.Text}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Name: title.column(), NameLocation: "middle", NameGap: 25}),
		)
		line.SetXAxis(x).
			AddSeries("mean", means, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)})).
			AddSeries("+std", upper, charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"})).
			AddSeries("-std", lower, charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"}))
		page.AddCharts(line)
	}
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}
