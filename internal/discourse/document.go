// Package discourse models the subset of the Discourse JSON API the archiver
// reads: endpoint URLs, raw documents and the typed views over them.
package discourse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Document is an immutable JSON object. Fields keep their raw encoding so a
// document can be written back to disk without losing anything the typed
// views ignore.
type Document struct {
	fields map[string]json.RawMessage
}

// Parse decodes data, which must hold a JSON object.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, err
	}
	if doc.fields == nil {
		return Document{}, fmt.Errorf("document is not a json object")
	}
	return doc, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		d.fields = nil
		return nil
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	d.fields = fields
	return nil
}

// MarshalJSON implements json.Marshaler. Keys are emitted sorted.
func (d Document) MarshalJSON() ([]byte, error) {
	if d.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.fields)
}

// Bytes encodes the document, ignoring the impossible marshal error.
func (d Document) Bytes() []byte {
	data, err := d.MarshalJSON()
	if err != nil {
		return []byte("{}")
	}
	return data
}

// IsZero reports whether the document holds no fields.
func (d Document) IsZero() bool {
	return len(d.fields) == 0
}

// Len returns the number of top-level fields.
func (d Document) Len() int {
	return len(d.fields)
}

// Has reports whether key is present, even if null.
func (d Document) Has(key string) bool {
	_, ok := d.fields[key]
	return ok
}

// Raw returns the undecoded value of key.
func (d Document) Raw(key string) (json.RawMessage, bool) {
	raw, ok := d.fields[key]
	return raw, ok
}

// Merge returns a new document holding every field of d plus the fields of
// other that d lacks. On conflict d wins.
func (d Document) Merge(other Document) Document {
	out := make(map[string]json.RawMessage, len(d.fields)+len(other.fields))
	for k, v := range other.fields {
		out[k] = v
	}
	for k, v := range d.fields {
		out[k] = v
	}
	return Document{fields: out}
}

// With returns a copy of d with key set to value.
func (d Document) With(key string, value any) (Document, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Document{}, fmt.Errorf("encode %s: %w", key, err)
	}
	out := make(map[string]json.RawMessage, len(d.fields)+1)
	for k, v := range d.fields {
		out[k] = v
	}
	out[key] = raw
	return Document{fields: out}, nil
}

// Decode unmarshals key into v.
func (d Document) Decode(key string, v any) error {
	raw, ok := d.fields[key]
	if !ok {
		return fmt.Errorf("field %q missing", key)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

// Int returns key as an int. Numeric strings are accepted, as some endpoints
// quote ids.
func (d Document) Int(key string) (int, bool) {
	raw, ok := d.fields[key]
	if !ok {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := strconv.Atoi(n.String()); err == nil {
			return v, true
		}
		return 0, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(s); err == nil {
			return v, true
		}
	}
	return 0, false
}

// String returns key as a string.
func (d Document) String(key string) (string, bool) {
	raw, ok := d.fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Object returns key as a nested document.
func (d Document) Object(key string) (Document, bool) {
	raw, ok := d.fields[key]
	if !ok {
		return Document{}, false
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil || doc.fields == nil {
		return Document{}, false
	}
	return doc, true
}

// Objects returns key as an array of documents.
func (d Document) Objects(key string) ([]Document, bool) {
	raw, ok := d.fields[key]
	if !ok {
		return nil, false
	}
	var docs []Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, false
	}
	return docs, true
}
