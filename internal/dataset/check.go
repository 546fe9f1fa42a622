package dataset

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RequiredColumns are the gemstone columns the analysis service relies on.
var RequiredColumns = []string{"carat", "cut", "color", "clarity", "depth", "table", "price", "x", "y", "z"}

// MissingColumnsError lists required columns absent from a workbook header.
type MissingColumnsError struct {
	File    string
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%s is missing required columns: %s", e.File, strings.Join(e.Missing, ", "))
}

// MissingColumns returns the required columns not present in header.
// Matching ignores case and surrounding spaces.
func MissingColumns(header []string) []string {
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[strings.ToLower(strings.TrimSpace(h))] = true
	}
	var missing []string
	for _, c := range RequiredColumns {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

// CheckUpload verifies a file before it is sent: it must be an .xlsx
// workbook whose first sheet carries every required column.
func CheckUpload(filename string, data []byte) error {
	name := filepath.Base(filename)
	if !strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return fmt.Errorf("invalid file type %q, please upload an .xlsx file", name)
	}
	wb, err := Open(data)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	header, err := wb.Header("")
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if missing := MissingColumns(header); len(missing) > 0 {
		return &MissingColumnsError{File: name, Missing: missing}
	}
	return nil
}
