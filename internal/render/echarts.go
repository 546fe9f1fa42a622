package render

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/KaramelBytes/gemdash-cli/internal/payload"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// histogramBins is the bin count used when a histogram trace is re-binned.
const histogramBins = 30

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// HTMLRenderer writes a standalone echarts page.
type HTMLRenderer struct {
	Width      string
	Height     string
	AssetsHost string
}

// NewHTMLRenderer returns an HTML renderer sized for a browser tab.
func NewHTMLRenderer() *HTMLRenderer {
	return &HTMLRenderer{Width: "960px", Height: "600px"}
}

func (r *HTMLRenderer) Ext() string { return ".html" }

// Render draws c as one chart on a page. The first trace decides the chart
// shape; scatter and line traces are overlaid on bar or scatter bases.
func (r *HTMLRenderer) Render(w io.Writer, c *payload.Chart) error {
	if c == nil || len(c.Traces) == 0 {
		return errNoTraces
	}
	var chart components.Charter
	switch kindOf(c.Traces[0]) {
	case kindBox:
		chart = r.boxPlot(c)
	case kindHeatmap:
		chart = r.heatMap(c)
	case kindHistogram:
		chart = r.histogram(c)
	case kindBar:
		chart = r.bar(c)
	default:
		if c.Traces[0].X.Numeric() {
			chart = r.scatter(c)
		} else {
			chart = r.categoryLine(c)
		}
	}
	page := components.NewPage()
	if r.AssetsHost != "" {
		page.SetAssetsHost(r.AssetsHost)
	}
	page.AddCharts(chart)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

func (r *HTMLRenderer) globals(c *payload.Chart) []charts.GlobalOpts {
	return []charts.GlobalOpts{
		charts.WithInitializationOpts(opts.Initialization{PageTitle: pageTitle(c), Width: r.Width, Height: r.Height, AssetsHost: r.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: c.Layout.Title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(len(c.Traces) > 1), Top: "bottom"}),
	}
}

func pageTitle(c *payload.Chart) string {
	if c.Layout.Title != "" {
		return c.Layout.Title
	}
	return "gemdash chart"
}

func (r *HTMLRenderer) scatter(c *payload.Chart) *charts.Scatter {
	sc := charts.NewScatter()
	sc.SetGlobalOptions(append(r.globals(c),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: c.Layout.XAxisTitle, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: c.Layout.YAxisTitle, NameLocation: "middle", NameGap: 40}),
	)...)
	for i, t := range c.Traces {
		xs, ys := xyPoints(t)
		if kindOf(t) == kindLine {
			ln := charts.NewLine()
			data := make([]opts.LineData, len(xs))
			for j := range xs {
				data[j] = opts.LineData{Value: []interface{}{xs[j], ys[j]}}
			}
			ln.AddSeries(traceName(t, i), data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
			sc.Overlap(ln)
			continue
		}
		data := make([]opts.ScatterData, len(xs))
		for j := range xs {
			data[j] = opts.ScatterData{Value: []interface{}{xs[j], ys[j]}}
		}
		sc.AddSeries(traceName(t, i), data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))
	}
	return sc
}

// categoryLine draws scatter or line traces whose X values are labels.
func (r *HTMLRenderer) categoryLine(c *payload.Chart) *charts.Line {
	ln := charts.NewLine()
	ln.SetGlobalOptions(append(r.globals(c),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: c.Layout.XAxisTitle, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: c.Layout.YAxisTitle, NameLocation: "middle", NameGap: 40}),
	)...)
	ln.SetXAxis(categories(c.Traces, func(t payload.Trace) payload.Series { return t.X }))
	for i, t := range c.Traces {
		data := make([]opts.LineData, 0, t.Y.Len())
		for j, y := range t.Y.Numbers {
			if j >= t.X.Len() {
				break
			}
			data = append(data, opts.LineData{Value: []interface{}{t.X.Labels[j], finite(y)}})
		}
		ln.AddSeries(traceName(t, i), data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(kindOf(t) != kindLine)}))
	}
	return ln
}

func (r *HTMLRenderer) bar(c *payload.Chart) *charts.Bar {
	b := charts.NewBar()
	b.SetGlobalOptions(append(r.globals(c),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: c.Layout.XAxisTitle, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: c.Layout.YAxisTitle, NameLocation: "middle", NameGap: 40}),
	)...)
	b.SetXAxis(categories(c.Traces, func(t payload.Trace) payload.Series { return t.X }))
	for i, t := range c.Traces {
		switch kindOf(t) {
		case kindBar:
			data := make([]opts.BarData, len(t.Y.Numbers))
			for j, y := range t.Y.Numbers {
				data[j] = opts.BarData{Value: finite(y)}
			}
			b.AddSeries(traceName(t, i), data)
		default:
			// scree plots pair explained variance bars with a cumulative line
			ln := charts.NewLine()
			data := make([]opts.LineData, len(t.Y.Numbers))
			for j, y := range t.Y.Numbers {
				data[j] = opts.LineData{Value: finite(y)}
			}
			ln.AddSeries(traceName(t, i), data)
			b.Overlap(ln)
		}
	}
	return b
}

func (r *HTMLRenderer) histogram(c *payload.Chart) *charts.Bar {
	b := charts.NewBar()
	b.SetGlobalOptions(append(r.globals(c),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: c.Layout.XAxisTitle, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "count", NameLocation: "middle", NameGap: 40}),
	)...)
	edges, counts := Histogram(histogramValues(c.Traces[0]), histogramBins)
	labels := make([]string, len(counts))
	data := make([]opts.BarData, len(counts))
	for i, n := range counts {
		labels[i] = strconv.FormatFloat((edges[i]+edges[i+1])/2, 'g', 4, 64)
		data[i] = opts.BarData{Value: n}
	}
	b.SetXAxis(labels).AddSeries(traceName(c.Traces[0], 0), data,
		charts.WithBarChartOpts(opts.BarChart{BarCategoryGap: "0%"}),
	)
	return b
}

func (r *HTMLRenderer) boxPlot(c *payload.Chart) *charts.BoxPlot {
	bp := charts.NewBoxPlot()
	bp.SetGlobalOptions(append(r.globals(c),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: c.Layout.XAxisTitle, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: c.Layout.YAxisTitle, NameLocation: "middle", NameGap: 40}),
	)...)
	stats := BoxSummaries(c)
	names := make([]string, len(stats))
	data := make([]opts.BoxPlotData, len(stats))
	for i, s := range stats {
		names[i] = s.Name
		data[i] = opts.BoxPlotData{Name: s.Name, Value: s.Values()}
	}
	bp.SetXAxis(names).AddSeries("distribution", data)
	return bp
}

func (r *HTMLRenderer) heatMap(c *payload.Chart) *charts.HeatMap {
	t := c.Traces[0]
	xl := axisLabels(t.X, columns(t.Z))
	yl := axisLabels(t.Y, len(t.Z))
	lo, hi := zRange(t.Z)

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(append(r.globals(c),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: xl, SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: yl, SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)...)
	data := make([]opts.HeatMapData, 0, len(xl)*len(yl))
	for y, row := range t.Z {
		for x, v := range row {
			if math.IsNaN(v) {
				continue
			}
			data = append(data, opts.HeatMapData{Value: [3]interface{}{x, y, roundTo(v, 3)}})
		}
	}
	hm.SetXAxis(xl).AddSeries(traceName(t, 0), data,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(len(xl) <= 12)}),
	)
	return hm
}

func columns(z [][]float64) int {
	n := 0
	for _, row := range z {
		n = max(n, len(row))
	}
	return n
}

// axisLabels returns the series labels, or indices when the series is
// missing or shorter than the matrix side.
func axisLabels(s payload.Series, n int) []string {
	if s.Len() >= n {
		return s.Labels[:n]
	}
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i)
	}
	return out
}

func roundTo(v float64, digits int) float64 {
	f, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', digits, 64), 64)
	return f
}

// finite maps NaN holes to echarts' missing-value marker.
func finite(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return v
}
