package render

import (
	"fmt"
	"io"
	"math"

	"github.com/KaramelBytes/gemdash-cli/internal/payload"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PNGRenderer draws charts to PNG images with gonum/plot.
type PNGRenderer struct {
	Width  vg.Length
	Height vg.Length
}

// NewPNGRenderer returns a renderer producing 8x5 inch images.
func NewPNGRenderer() *PNGRenderer {
	return &PNGRenderer{Width: 8 * vg.Inch, Height: 5 * vg.Inch}
}

func (r *PNGRenderer) Ext() string { return ".png" }

// Render draws c and writes the PNG to w.
func (r *PNGRenderer) Render(w io.Writer, c *payload.Chart) error {
	if c == nil || len(c.Traces) == 0 {
		return errNoTraces
	}
	p := plot.New()
	p.Title.Text = c.Layout.Title
	p.X.Label.Text = c.Layout.XAxisTitle
	p.Y.Label.Text = c.Layout.YAxisTitle

	var err error
	switch kindOf(c.Traces[0]) {
	case kindBox:
		err = addBoxes(p, c)
	case kindHeatmap:
		err = addHeatMap(p, c.Traces[0])
	case kindHistogram:
		err = addHistogram(p, c.Traces[0])
	case kindBar:
		err = addBars(p, c)
	default:
		err = addXY(p, c)
	}
	if err != nil {
		return fmt.Errorf("plot %q: %w", c.Layout.Title, err)
	}

	wt, err := p.WriterTo(r.Width, r.Height, "png")
	if err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

func addXY(p *plot.Plot, c *payload.Chart) error {
	nominal := !c.Traces[0].X.Numeric()
	var names []string
	if nominal {
		names = categories(c.Traces, func(t payload.Trace) payload.Series { return t.X })
	}
	index := make(map[string]int, len(names))
	for i, n := range names {
		index[n] = i
	}
	for i, t := range c.Traces {
		var pts plotter.XYs
		if nominal {
			for j, y := range t.Y.Numbers {
				if j >= t.X.Len() || math.IsNaN(y) {
					continue
				}
				pts = append(pts, plotter.XY{X: float64(index[t.X.Labels[j]]), Y: y})
			}
		} else {
			xs, ys := xyPoints(t)
			pts = make(plotter.XYs, len(xs))
			for j := range xs {
				pts[j] = plotter.XY{X: xs[j], Y: ys[j]}
			}
		}
		if len(pts) == 0 {
			continue
		}
		col := plotutil.Color(i)
		if kindOf(t) == kindLine {
			l, err := plotter.NewLine(pts)
			if err != nil {
				return err
			}
			l.LineStyle.Color = col
			l.LineStyle.Width = vg.Points(1.5)
			p.Add(l)
			p.Legend.Add(traceName(t, i), l)
			continue
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = col
		s.GlyphStyle.Radius = vg.Points(2)
		p.Add(s)
		p.Legend.Add(traceName(t, i), s)
	}
	if nominal {
		p.NominalX(names...)
	}
	p.Add(plotter.NewGrid())
	return nil
}

func addBars(p *plot.Plot, c *payload.Chart) error {
	names := categories(c.Traces, func(t payload.Trace) payload.Series { return t.X })
	bars := 0
	for _, t := range c.Traces {
		if kindOf(t) == kindBar {
			bars++
		}
	}
	width := vg.Points(40 / float64(max(bars, 1)))
	n := 0
	for i, t := range c.Traces {
		vals := make(plotter.Values, len(t.Y.Numbers))
		for j, y := range t.Y.Numbers {
			if math.IsNaN(y) {
				y = 0
			}
			vals[j] = y
		}
		if len(vals) == 0 {
			continue
		}
		if kindOf(t) != kindBar {
			pts := make(plotter.XYs, len(vals))
			for j, y := range vals {
				pts[j] = plotter.XY{X: float64(j), Y: y}
			}
			l, s, err := plotter.NewLinePoints(pts)
			if err != nil {
				return err
			}
			l.LineStyle.Color = plotutil.Color(i)
			s.GlyphStyle.Color = plotutil.Color(i)
			p.Add(l, s)
			p.Legend.Add(traceName(t, i), l, s)
			continue
		}
		b, err := plotter.NewBarChart(vals, width)
		if err != nil {
			return err
		}
		b.Color = plotutil.Color(i)
		b.LineStyle.Width = 0
		b.Offset = width * vg.Length(float64(n)-float64(bars-1)/2)
		n++
		p.Add(b)
		p.Legend.Add(traceName(t, i), b)
	}
	if len(names) > 0 {
		p.NominalX(names...)
	}
	return nil
}

func addHistogram(p *plot.Plot, t payload.Trace) error {
	var vals plotter.Values
	for _, v := range histogramValues(t) {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return fmt.Errorf("histogram has no numeric values")
	}
	h, err := plotter.NewHist(vals, histogramBins)
	if err != nil {
		return err
	}
	h.FillColor = plotutil.Color(0)
	p.Add(h)
	if p.Y.Label.Text == "" {
		p.Y.Label.Text = "count"
	}
	return nil
}

func addBoxes(p *plot.Plot, c *payload.Chart) error {
	var names []string
	loc := 0.0
	for _, t := range c.Traces {
		if kindOf(t) != kindBox {
			continue
		}
		order, groups := boxGroups(t)
		for _, name := range order {
			b, err := plotter.NewBoxPlot(vg.Points(30), loc, plotter.Values(groups[name]))
			if err != nil {
				return fmt.Errorf("box %q: %w", name, err)
			}
			b.FillColor = plotutil.Color(int(loc))
			p.Add(b)
			names = append(names, name)
			loc++
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("box plot has no numeric values")
	}
	p.NominalX(names...)
	return nil
}

// zGrid adapts a row-major matrix to plotter.GridXYZ.
type zGrid struct {
	z    [][]float64
	cols int
}

func (g zGrid) Dims() (c, r int) { return g.cols, len(g.z) }
func (g zGrid) X(c int) float64 { return float64(c) }
func (g zGrid) Y(r int) float64 { return float64(r) }

func (g zGrid) Z(c, r int) float64 {
	if c >= len(g.z[r]) {
		return math.NaN()
	}
	return g.z[r][c]
}

func addHeatMap(p *plot.Plot, t payload.Trace) error {
	cols := columns(t.Z)
	if cols == 0 || len(t.Z) == 0 {
		return fmt.Errorf("heatmap has no values")
	}
	lo, hi := zRange(t.Z)
	hm := plotter.NewHeatMap(zGrid{z: t.Z, cols: cols}, palette.Heat(12, 1))
	hm.Min, hm.Max = lo, hi
	p.Add(hm)
	p.NominalX(axisLabels(t.X, cols)...)
	p.NominalY(axisLabels(t.Y, len(t.Z))...)
	return nil
}
