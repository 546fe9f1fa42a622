package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Record is one flat row returned by the service. Keys keep the order in which
// the service emitted them so columns render the way the dataset declares them.
type Record struct {
	Keys   []string
	Values map[string]any
}

// Get returns the value stored under key and whether it was present.
func (r Record) Get(key string) (any, bool) {
	v, ok := r.Values[key]
	return v, ok
}

// UnmarshalJSON decodes a flat JSON object while preserving key order.
// Numbers are kept as json.Number so they print exactly as the service sent them.
func (r *Record) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record: expected object, got %v", tok)
	}
	r.Keys = r.Keys[:0]
	r.Values = make(map[string]any)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("record key: %w", err)
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("record: non-string key %v", kt)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("record value %q: %w", key, err)
		}
		if _, dup := r.Values[key]; !dup {
			r.Keys = append(r.Keys, key)
		}
		r.Values[key] = v
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return fmt.Errorf("record: %w", err)
	}
	return nil
}

// MarshalJSON writes the record back out in key order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.Values[k])
		if err != nil {
			return nil, fmt.Errorf("record value %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Records is an ordered sequence of homogeneous rows.
type Records []Record

// Columns derives the column set from the first record. Later records are
// assumed to share it; mixed-shape sets are not reconciled.
func (rs Records) Columns() []string {
	if len(rs) == 0 {
		return nil
	}
	out := make([]string, len(rs[0].Keys))
	copy(out, rs[0].Keys)
	return out
}

// DecodeRecords parses a JSON array of flat objects. A JSON null decodes to an
// empty set.
func DecodeRecords(raw []byte) (Records, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Records{}, nil
	}
	var rs Records
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, &FormatError{What: "records", Err: err}
	}
	if rs == nil {
		rs = Records{}
	}
	return rs, nil
}
