package render

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"

	"github.com/KaramelBytes/gemdash-cli/internal/payload"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ChartFormat selects the chart output.
type ChartFormat string

const (
	ChartHTML ChartFormat = "html"
	ChartPNG  ChartFormat = "png"
)

// ParseChartFormat validates a chart format name.
func ParseChartFormat(s string) (ChartFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "html":
		return ChartHTML, nil
	case "png":
		return ChartPNG, nil
	}
	return "", fmt.Errorf("unknown chart format %q (use html or png)", s)
}

// ChartRenderer draws a chart description.
type ChartRenderer interface {
	Render(w io.Writer, c *payload.Chart) error
	Ext() string
}

// NewChartRenderer returns the renderer for format with default sizing.
func NewChartRenderer(format ChartFormat) ChartRenderer {
	if format == ChartPNG {
		return NewPNGRenderer()
	}
	return NewHTMLRenderer()
}

var errNoTraces = errors.New("chart has no traces")

// chartKind groups plotly trace types into the shapes the renderers draw.
type chartKind int

const (
	kindScatter chartKind = iota
	kindLine
	kindBar
	kindHistogram
	kindBox
	kindHeatmap
)

func kindOf(t payload.Trace) chartKind {
	switch strings.ToLower(t.Type) {
	case "bar":
		return kindBar
	case "histogram":
		return kindHistogram
	case "box", "violin":
		return kindBox
	case "heatmap":
		return kindHeatmap
	}
	if strings.Contains(t.Mode, "lines") {
		return kindLine
	}
	return kindScatter
}

// BoxStats is the five-number summary drawn by a box plot.
type BoxStats struct {
	Name                     string
	Min, Q1, Median, Q3, Max float64
	Count                    int
}

// Values returns the summary in echarts box order.
func (b BoxStats) Values() []float64 {
	return []float64{b.Min, b.Q1, b.Median, b.Q3, b.Max}
}

// boxGroups splits a box trace into one sample per category. Plotly box
// traces carry the category of every point in X (or Y when horizontal).
func boxGroups(t payload.Trace) (names []string, groups map[string][]float64) {
	values, cats := t.Y, t.X
	if t.Orientation == "h" {
		values, cats = t.X, t.Y
	}
	groups = map[string][]float64{}
	name := t.Name
	if name == "" {
		name = "value"
	}
	for i, v := range values.Numbers {
		if math.IsNaN(v) {
			continue
		}
		key := name
		if i < cats.Len() && cats.Labels[i] != "" {
			key = cats.Labels[i]
		}
		if _, ok := groups[key]; !ok {
			names = append(names, key)
		}
		groups[key] = append(groups[key], v)
	}
	return names, groups
}

// BoxSummaries computes the five-number summary of every box category in
// the chart, in first-seen order.
func BoxSummaries(c *payload.Chart) []BoxStats {
	var out []BoxStats
	for _, t := range c.Traces {
		if kindOf(t) != kindBox {
			continue
		}
		names, groups := boxGroups(t)
		for _, n := range names {
			out = append(out, summarize(n, groups[n]))
		}
	}
	return out
}

func summarize(name string, vals []float64) BoxStats {
	s := slices.Clone(vals)
	slices.Sort(s)
	if len(s) == 0 {
		return BoxStats{Name: name}
	}
	return BoxStats{
		Name:   name,
		Min:    s[0],
		Q1:     stat.Quantile(0.25, stat.Empirical, s, nil),
		Median: stat.Quantile(0.5, stat.Empirical, s, nil),
		Q3:     stat.Quantile(0.75, stat.Empirical, s, nil),
		Max:    s[len(s)-1],
		Count:  len(s),
	}
}

// Histogram bins the non-NaN values into n equal-width bins and returns the
// bin edges (n+1) and counts (n).
func Histogram(values []float64, n int) (edges, counts []float64) {
	if n <= 0 {
		n = 30
	}
	s := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			s = append(s, v)
		}
	}
	if len(s) == 0 {
		return nil, nil
	}
	slices.Sort(s)
	lo, hi := s[0], s[len(s)-1]
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	edges = make([]float64, n+1)
	floats.Span(edges, lo, hi)
	// stat.Histogram excludes the upper edge
	edges[n] = math.Nextafter(hi, math.Inf(1))
	counts = stat.Histogram(nil, edges, s, nil)
	edges[n] = hi
	return edges, counts
}

// histogramValues returns the sample a histogram trace bins.
func histogramValues(t payload.Trace) []float64 {
	if t.X.Numeric() && t.X.Len() > 0 {
		return t.X.Numbers
	}
	return t.Y.Numbers
}

// xyPoints pairs numeric X and Y, dropping NaN holes.
func xyPoints(t payload.Trace) (xs, ys []float64) {
	n := min(len(t.X.Numbers), len(t.Y.Numbers))
	for i := 0; i < n; i++ {
		x, y := t.X.Numbers[i], t.Y.Numbers[i]
		if math.IsNaN(x) || math.IsNaN(y) {
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	return xs, ys
}

// categories returns distinct labels across traces, in first-seen order.
func categories(traces []payload.Trace, pick func(payload.Trace) payload.Series) []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range traces {
		for _, l := range pick(t).Labels {
			if !seen[l] {
				seen[l] = true
				out = append(out, l)
			}
		}
	}
	return out
}

func traceName(t payload.Trace, i int) string {
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("trace %d", i+1)
}

// zRange returns the finite min and max of a matrix.
func zRange(z [][]float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, row := range z {
		for _, v := range row {
			if math.IsNaN(v) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 0) {
		return 0, 1
	}
	if lo == hi {
		hi = lo + 1
	}
	return lo, hi
}
