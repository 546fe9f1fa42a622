// Package render turns service payloads into tables and charts.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/KaramelBytes/gemdash-cli/internal/payload"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// TableFormat selects how a record set is written.
type TableFormat string

const (
	FormatTable    TableFormat = "table"
	FormatMarkdown TableFormat = "markdown"
	FormatCSV      TableFormat = "csv"
	FormatHTML     TableFormat = "html"
)

// TableFormats lists the accepted table formats.
var TableFormats = []TableFormat{FormatTable, FormatMarkdown, FormatCSV, FormatHTML}

// ParseTableFormat validates a table format name; "md" is accepted for markdown.
func ParseTableFormat(s string) (TableFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table", "text":
		return FormatTable, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "csv":
		return FormatCSV, nil
	case "html":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("unknown table format %q (use table, markdown, csv or html)", s)
}

// Ext returns the file extension for the format.
func (f TableFormat) Ext() string {
	switch f {
	case FormatMarkdown:
		return ".md"
	case FormatCSV:
		return ".csv"
	case FormatHTML:
		return ".html"
	}
	return ".txt"
}

// WriteTable renders records with one column per key of the first record.
// Records are assumed to share that key set; missing keys render empty.
func WriteTable(w io.Writer, rs payload.Records, format TableFormat) error {
	cols := rs.Columns()
	if len(rs) == 0 || len(cols) == 0 {
		_, err := fmt.Fprintln(w, "(0 rows)")
		return err
	}

	t := table.NewWriter()
	header := make(table.Row, len(cols))
	for i, c := range cols {
		header[i] = Capitalize(c)
	}
	t.AppendHeader(header)
	for _, r := range rs {
		row := make(table.Row, len(cols))
		for i, c := range cols {
			v, _ := r.Get(c)
			row[i] = FormatValue(v)
		}
		t.AppendRow(row)
	}

	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault

	var out string
	switch format {
	case FormatMarkdown:
		out = t.RenderMarkdown()
	case FormatCSV:
		out = t.RenderCSV()
	case FormatHTML:
		out = t.RenderHTML()
	default:
		out = t.Render()
	}
	if _, err := io.WriteString(w, out+"\n"); err != nil {
		return err
	}
	if format == FormatTable || format == "" {
		_, err := fmt.Fprintf(w, "(%d rows)\n", len(rs))
		return err
	}
	return nil
}

// Capitalize upper-cases the first letter of a column name.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// FormatValue renders a decoded JSON scalar for display.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return x.String()
		}
		if f, err := x.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
