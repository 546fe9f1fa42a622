package payload

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatError reports a payload that decoded but does not have the shape the
// dashboard needs (for example a chart without traces or layout).
type FormatError struct {
	What string
	Err  error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s payload: %v", e.What, e.Err)
	}
	return fmt.Sprintf("invalid %s payload", e.What)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Chart is a parsed chart description: a list of traces plus a layout.
type Chart struct {
	Traces []Trace
	Layout Layout
}

// Trace is one plotted series. Only the fields the renderers use are lifted
// out; everything else stays available in Raw.
type Trace struct {
	Type        string
	Name        string
	Mode        string
	Orientation string
	X           Series
	Y           Series
	Z           [][]float64
	Raw         map[string]json.RawMessage
}

// Layout carries titles for the chart and its axes.
type Layout struct {
	Title      string
	XAxisTitle string
	YAxisTitle string
	Raw        map[string]json.RawMessage
}

// Series is a one-dimensional data column. Labels always holds the string form
// of every element; Numbers is set only when every element is numeric (nulls
// become NaN).
type Series struct {
	Numbers []float64
	Labels  []string
}

// Len returns the number of elements.
func (s Series) Len() int { return len(s.Labels) }

// Numeric reports whether every element is a number.
func (s Series) Numeric() bool { return s.Numbers != nil && len(s.Numbers) == len(s.Labels) }

// ParseChart parses a chart description. The description may be an object
// with traces under "data" (plotly) or "traces", or a JSON string wrapping
// such an object. Missing traces or layout yield a *FormatError.
func ParseChart(raw []byte) (*Chart, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, &FormatError{What: "chart", Err: errors.New("empty chart description")}
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, &FormatError{What: "chart", Err: err}
		}
		raw = []byte(inner)
	}
	var doc struct {
		Data   json.RawMessage `json:"data"`
		Traces json.RawMessage `json:"traces"`
		Layout json.RawMessage `json:"layout"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &FormatError{What: "chart", Err: err}
	}
	tracesRaw := doc.Data
	if isAbsent(tracesRaw) {
		tracesRaw = doc.Traces
	}
	if isAbsent(tracesRaw) {
		return nil, &FormatError{What: "chart", Err: errors.New("missing traces")}
	}
	if isAbsent(doc.Layout) {
		return nil, &FormatError{What: "chart", Err: errors.New("missing layout")}
	}
	var rawTraces []map[string]json.RawMessage
	if err := json.Unmarshal(tracesRaw, &rawTraces); err != nil {
		return nil, &FormatError{What: "chart", Err: fmt.Errorf("traces: %w", err)}
	}
	c := &Chart{Traces: make([]Trace, 0, len(rawTraces))}
	for i, rt := range rawTraces {
		t, err := parseTrace(rt)
		if err != nil {
			return nil, &FormatError{What: "chart", Err: fmt.Errorf("trace %d: %w", i, err)}
		}
		c.Traces = append(c.Traces, t)
	}
	layout, err := parseLayout(doc.Layout)
	if err != nil {
		return nil, &FormatError{What: "chart", Err: fmt.Errorf("layout: %w", err)}
	}
	c.Layout = layout
	return c, nil
}

func isAbsent(m json.RawMessage) bool {
	m = bytes.TrimSpace(m)
	return len(m) == 0 || bytes.Equal(m, []byte("null"))
}

func parseTrace(rt map[string]json.RawMessage) (Trace, error) {
	t := Trace{Raw: rt, Type: "scatter"}
	if v, ok := rt["type"]; ok {
		_ = json.Unmarshal(v, &t.Type)
	}
	for key, dst := range map[string]*string{"name": &t.Name, "mode": &t.Mode, "orientation": &t.Orientation} {
		if v, ok := rt[key]; ok {
			_ = json.Unmarshal(v, dst)
		}
	}
	var err error
	if v, ok := rt["x"]; ok {
		if t.X, err = parseSeries(v); err != nil {
			return t, fmt.Errorf("x: %w", err)
		}
	}
	if v, ok := rt["y"]; ok {
		if t.Y, err = parseSeries(v); err != nil {
			return t, fmt.Errorf("y: %w", err)
		}
	}
	if v, ok := rt["z"]; ok {
		if t.Z, err = parseMatrix(v); err != nil {
			return t, fmt.Errorf("z: %w", err)
		}
	}
	return t, nil
}

func parseLayout(raw json.RawMessage) (Layout, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return Layout{}, err
	}
	l := Layout{Raw: m}
	l.Title = titleText(m["title"])
	if ax, ok := m["xaxis"]; ok {
		var axis map[string]json.RawMessage
		if json.Unmarshal(ax, &axis) == nil {
			l.XAxisTitle = titleText(axis["title"])
		}
	}
	if ay, ok := m["yaxis"]; ok {
		var axis map[string]json.RawMessage
		if json.Unmarshal(ay, &axis) == nil {
			l.YAxisTitle = titleText(axis["title"])
		}
	}
	return l, nil
}

// titleText accepts both "title": "x" and "title": {"text": "x"}.
func titleText(raw json.RawMessage) string {
	if isAbsent(raw) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Text string `json:"text"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Text
	}
	return ""
}

// typedArray is plotly's binary encoding for numpy arrays.
type typedArray struct {
	DType string          `json:"dtype"`
	BData string          `json:"bdata"`
	Shape json.RawMessage `json:"shape"`
}

func parseSeries(raw json.RawMessage) (Series, error) {
	raw = bytes.TrimSpace(raw)
	if isAbsent(raw) {
		return Series{}, nil
	}
	if raw[0] == '{' {
		var ta typedArray
		if err := json.Unmarshal(raw, &ta); err != nil {
			return Series{}, err
		}
		nums, _, err := decodeTypedArray(ta)
		if err != nil {
			return Series{}, err
		}
		return numericSeries(nums), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var elems []any
	if err := dec.Decode(&elems); err != nil {
		return Series{}, err
	}
	s := Series{Labels: make([]string, len(elems))}
	nums := make([]float64, len(elems))
	numeric := true
	for i, e := range elems {
		switch v := e.(type) {
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				numeric = false
			}
			nums[i] = f
			s.Labels[i] = v.String()
		case nil:
			nums[i] = math.NaN()
			s.Labels[i] = ""
		case string:
			numeric = false
			s.Labels[i] = v
		default:
			numeric = false
			s.Labels[i] = fmt.Sprint(v)
		}
	}
	if numeric {
		s.Numbers = nums
	}
	return s, nil
}

func numericSeries(nums []float64) Series {
	s := Series{Numbers: nums, Labels: make([]string, len(nums))}
	for i, f := range nums {
		s.Labels[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return s
}

func parseMatrix(raw json.RawMessage) ([][]float64, error) {
	raw = bytes.TrimSpace(raw)
	if isAbsent(raw) {
		return nil, nil
	}
	if raw[0] == '{' {
		var ta typedArray
		if err := json.Unmarshal(raw, &ta); err != nil {
			return nil, err
		}
		nums, shape, err := decodeTypedArray(ta)
		if err != nil {
			return nil, err
		}
		if len(shape) != 2 {
			return [][]float64{nums}, nil
		}
		rows, cols := shape[0], shape[1]
		if rows < 0 || cols < 0 {
			return nil, fmt.Errorf("negative shape %dx%d", rows, cols)
		}
		if len(nums) == 0 {
			if rows != 0 && cols != 0 {
				return nil, fmt.Errorf("shape %dx%d does not match 0 values", rows, cols)
			}
			return nil, nil
		}
		// division avoids overflowing rows*cols
		if cols == 0 || len(nums)%cols != 0 || rows != len(nums)/cols {
			return nil, fmt.Errorf("shape %dx%d does not match %d values", rows, cols, len(nums))
		}
		out := make([][]float64, rows)
		for r := 0; r < rows; r++ {
			out[r] = nums[r*cols : (r+1)*cols]
		}
		return out, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	out := make([][]float64, 0, len(rows))
	for i, r := range rows {
		s, err := parseSeries(r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if !s.Numeric() && s.Len() > 0 {
			return nil, fmt.Errorf("row %d: non-numeric values", i)
		}
		out = append(out, s.Numbers)
	}
	return out, nil
}

func decodeTypedArray(ta typedArray) ([]float64, []int, error) {
	b, err := base64.StdEncoding.DecodeString(ta.BData)
	if err != nil {
		return nil, nil, fmt.Errorf("bdata: %w", err)
	}
	var size int
	var read func([]byte) float64
	le := binary.LittleEndian
	switch ta.DType {
	case "f8":
		size, read = 8, func(p []byte) float64 { return math.Float64frombits(le.Uint64(p)) }
	case "f4":
		size, read = 4, func(p []byte) float64 { return float64(math.Float32frombits(le.Uint32(p))) }
	case "i1":
		size, read = 1, func(p []byte) float64 { return float64(int8(p[0])) }
	case "u1":
		size, read = 1, func(p []byte) float64 { return float64(p[0]) }
	case "i2":
		size, read = 2, func(p []byte) float64 { return float64(int16(le.Uint16(p))) }
	case "u2":
		size, read = 2, func(p []byte) float64 { return float64(le.Uint16(p)) }
	case "i4":
		size, read = 4, func(p []byte) float64 { return float64(int32(le.Uint32(p))) }
	case "u4":
		size, read = 4, func(p []byte) float64 { return float64(le.Uint32(p)) }
	default:
		return nil, nil, fmt.Errorf("unsupported dtype %q", ta.DType)
	}
	if len(b)%size != 0 {
		return nil, nil, fmt.Errorf("bdata length %d not a multiple of %d", len(b), size)
	}
	out := make([]float64, len(b)/size)
	for i := range out {
		out[i] = read(b[i*size : (i+1)*size])
	}
	shape, err := parseShape(ta.Shape)
	if err != nil {
		return nil, nil, err
	}
	return out, shape, nil
}

// parseShape accepts "3, 4", [3, 4] or nothing.
func parseShape(raw json.RawMessage) ([]int, error) {
	if isAbsent(raw) {
		return nil, nil
	}
	var dims []int
	if json.Unmarshal(raw, &dims) == nil {
		return dims, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("shape: %w", err)
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("shape: %w", err)
		}
		dims = append(dims, n)
	}
	return dims, nil
}
