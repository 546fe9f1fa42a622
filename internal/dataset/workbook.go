// Package dataset reads .xlsx workbooks locally: the header check run before
// an upload and the summary of downloaded prediction sheets.
package dataset

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
)

// Workbook is an opened .xlsx file held in memory.
type Workbook struct {
	zr     *zip.Reader
	sheets []sheetEntry
	rels   map[string]string
	shared []string
}

type sheetEntry struct {
	Name    string
	SheetID int
	RID     string
}

// Open parses the workbook structure of an in-memory .xlsx file.
func Open(data []byte) (*Workbook, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	wbXML := readZipFile(zr, "xl/workbook.xml")
	if wbXML == nil {
		return nil, errors.New("open xlsx: missing xl/workbook.xml")
	}
	return &Workbook{
		zr:     zr,
		sheets: parseWorkbook(wbXML),
		rels:   parseRelationships(readZipFile(zr, "xl/_rels/workbook.xml.rels")),
		shared: parseSharedStrings(readZipFile(zr, "xl/sharedStrings.xml")),
	}, nil
}

// OpenFile reads and opens a workbook from disk.
func OpenFile(p string) (*Workbook, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read xlsx: %w", err)
	}
	return Open(b)
}

// SheetNames lists sheets in workbook order.
func (w *Workbook) SheetNames() []string {
	names := make([]string, len(w.sheets))
	for i, s := range w.sheets {
		names[i] = s.Name
	}
	return names
}

// Rows returns a reader over the named sheet; an empty name selects the
// first sheet.
func (w *Workbook) Rows(sheet string) (*RowReader, error) {
	target := ""
	if sheet == "" && len(w.sheets) > 0 {
		sheet = w.sheets[0].Name
	}
	for _, s := range w.sheets {
		if strings.EqualFold(s.Name, sheet) {
			if rel, ok := w.rels[s.RID]; ok {
				target = normalizeRelPath(rel)
			}
			if target == "" && s.SheetID > 0 {
				target = fmt.Sprintf("xl/worksheets/sheet%d.xml", s.SheetID)
			}
			break
		}
	}
	if target == "" {
		if sheet != "" && len(w.sheets) > 0 {
			return nil, fmt.Errorf("sheet %q not found (available: %s)", sheet, strings.Join(w.SheetNames(), ", "))
		}
		target = "xl/worksheets/sheet1.xml"
	}
	data := readZipFile(w.zr, target)
	if data == nil {
		return nil, fmt.Errorf("sheet %q: missing %s", sheet, target)
	}
	return &RowReader{dec: xml.NewDecoder(bytes.NewReader(data)), shared: w.shared}, nil
}

// Header returns the trimmed first row of a sheet.
func (w *Workbook) Header(sheet string) ([]string, error) {
	rr, err := w.Rows(sheet)
	if err != nil {
		return nil, err
	}
	row, ok := rr.Next()
	if !ok {
		return nil, errors.New("sheet has no header row")
	}
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	return out, nil
}

// RowReader streams sheet rows as strings. Shared strings are resolved and
// gaps between referenced cells are filled with "".
type RowReader struct {
	dec    *xml.Decoder
	shared []string
}

// Next returns the next row, or false at the end of the sheet.
func (r *RowReader) Next() ([]string, bool) {
	var row []string
	inRow := false
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return nil, false
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch {
			case el.Name.Local == "row":
				inRow = true
				row = row[:0]
			case inRow && el.Name.Local == "c":
				var ref, typ string
				for _, a := range el.Attr {
					switch a.Name.Local {
					case "r":
						ref = a.Value
					case "t":
						typ = a.Value
					}
				}
				col := len(row)
				if c := colIndexFromRef(ref); c >= 0 {
					col = c
				}
				for len(row) <= col {
					row = append(row, "")
				}
				row[col] = r.cellValue(typ)
			}
		case xml.EndElement:
			if el.Name.Local == "row" && inRow {
				return row, true
			}
		}
	}
}

// cellValue consumes a <c> element and returns its text.
func (r *RowReader) cellValue(typ string) string {
	var val string
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return val
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "v" || el.Name.Local == "t" {
				var sb strings.Builder
				for {
					t, err := r.dec.Token()
					if err != nil {
						break
					}
					if end, ok := t.(xml.EndElement); ok && end.Name.Local == el.Name.Local {
						break
					}
					if cd, ok := t.(xml.CharData); ok {
						sb.Write(cd)
					}
				}
				val += sb.String()
			}
		case xml.EndElement:
			if el.Name.Local != "c" {
				continue
			}
			if typ == "s" {
				idx, err := strconv.Atoi(strings.TrimSpace(val))
				if err != nil || idx < 0 || idx >= len(r.shared) {
					return ""
				}
				return r.shared[idx]
			}
			return val
		}
	}
}

func readZipFile(zr *zip.Reader, name string) []byte {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return nil
		}
		return b
	}
	return nil
}

func parseWorkbook(data []byte) []sheetEntry {
	var sheets []sheetEntry
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return sheets
		}
		el, ok := tok.(xml.StartElement)
		if !ok || el.Name.Local != "sheet" {
			continue
		}
		var s sheetEntry
		for _, a := range el.Attr {
			switch a.Name.Local {
			case "name":
				s.Name = a.Value
			case "sheetId":
				s.SheetID, _ = strconv.Atoi(a.Value)
			case "id":
				s.RID = a.Value
			}
		}
		sheets = append(sheets, s)
	}
}

// parseRelationships maps relationship ids to their targets.
func parseRelationships(data []byte) map[string]string {
	out := map[string]string{}
	if len(data) == 0 {
		return out
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		el, ok := tok.(xml.StartElement)
		if !ok || el.Name.Local != "Relationship" {
			continue
		}
		var id, target string
		for _, a := range el.Attr {
			switch a.Name.Local {
			case "Id":
				id = a.Value
			case "Target":
				target = a.Value
			}
		}
		if id != "" && target != "" {
			out[id] = target
		}
	}
}

func parseSharedStrings(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var (
		out []string
		buf strings.Builder
		inT bool
	)
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "si":
				buf.Reset()
			case "t":
				inT = true
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inT = false
			case "si":
				out = append(out, buf.String())
			}
		case xml.CharData:
			if inT {
				buf.Write(el)
			}
		}
	}
}

// colIndexFromRef turns a cell reference like "C12" into a 0-based column.
func colIndexFromRef(ref string) int {
	idx := 0
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		switch {
		case c >= 'A' && c <= 'Z':
			idx = idx*26 + int(c-'A'+1)
		case c >= 'a' && c <= 'z':
			idx = idx*26 + int(c-'a'+1)
		default:
			return idx - 1
		}
	}
	return idx - 1
}

// normalizeRelPath turns a relationship target into a zip entry name.
// Targets may be absolute ("/xl/worksheets/sheet1.xml") or relative to xl/.
func normalizeRelPath(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if strings.HasPrefix(rel, "xl/") {
		return rel
	}
	return path.Join("xl", rel)
}
