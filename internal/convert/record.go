package convert

import (
	"bytes"
	"encoding/json"
)

// Field is one header/value pair of a Record.
type Field struct {
	Key   string
	Value any
}

// Record is one projected row. Fields keep sheet column order, which a
// map would lose when encoded.
type Record []Field

// Keys returns the header names present in the record, in column order.
func (r Record) Keys() []string {
	keys := make([]string, len(r))
	for i, f := range r {
		keys[i] = f.Key
	}
	return keys
}

// Get returns the value stored under key.
func (r Record) Get(key string) (any, bool) {
	for _, f := range r {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// MarshalJSON encodes the record as an object with keys in column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Projection is the converted first worksheet.
type Projection struct {
	SheetName   string
	Records     []Record
	RowCount    int
	ColumnCount int
}

// Payload serializes the records for storage.
func (p Projection) Payload() (json.RawMessage, error) {
	return json.Marshal(p.Records)
}
