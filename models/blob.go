package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// StructuredBlob carries an opaque JSON document through the engine. The raw
// text is stored and returned verbatim; the parsed view is derived lazily and
// a document that fails to parse simply has no structured view.
type StructuredBlob struct {
	raw string
}

func NewStructuredBlob(raw string) StructuredBlob {
	return StructuredBlob{raw: raw}
}

// NewStructuredBlobFrom marshals v into a blob. Use for payloads the engine
// builds itself (sync stats, alert context).
func NewStructuredBlobFrom(v interface{}) (StructuredBlob, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return StructuredBlob{}, err
	}
	return StructuredBlob{raw: string(data)}, nil
}

func (b StructuredBlob) Raw() string { return b.raw }

func (b StructuredBlob) IsEmpty() bool { return b.raw == "" }

// Parsed returns the document as a generic map. ok is false when the blob is
// empty, not valid JSON, or not a JSON object.
func (b StructuredBlob) Parsed() (map[string]interface{}, bool) {
	if b.raw == "" {
		return nil, false
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(b.raw), &m); err != nil {
		return nil, false
	}
	return m, true
}

func (b StructuredBlob) Value() (driver.Value, error) {
	if b.raw == "" {
		return nil, nil
	}
	return b.raw, nil
}

func (b *StructuredBlob) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		b.raw = ""
	case string:
		b.raw = v
	case []byte:
		b.raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into StructuredBlob", src)
	}
	return nil
}

// MarshalJSON emits the document itself, not a quoted string, so API
// responses carry the structure through. Unparseable text degrades to null.
func (b StructuredBlob) MarshalJSON() ([]byte, error) {
	if b.raw == "" {
		return []byte("null"), nil
	}
	if !json.Valid([]byte(b.raw)) {
		return []byte("null"), nil
	}
	return []byte(b.raw), nil
}

func (b *StructuredBlob) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		b.raw = ""
		return nil
	}
	if !json.Valid(data) {
		return errors.New("structured blob must be valid JSON")
	}
	b.raw = string(data)
	return nil
}

func (StructuredBlob) GormDataType() string { return "text" }
