package models_test

import (
	"encoding/json"
	"testing"

	"bitbucket.org/mmdatafocus/finsight_backend/models"
)

func TestStructuredBlobParsed(t *testing.T) {
	blob := models.NewStructuredBlob(`{"days_from": 0, "days_to": 30}`)
	m, ok := blob.Parsed()
	if !ok {
		t.Fatalf("expected parsed view")
	}
	if m["days_to"] != float64(30) {
		t.Fatalf("days_to = %v", m["days_to"])
	}

	if _, ok := models.NewStructuredBlob("").Parsed(); ok {
		t.Fatalf("empty blob should have no parsed view")
	}
	if _, ok := models.NewStructuredBlob("not json").Parsed(); ok {
		t.Fatalf("invalid blob should have no parsed view")
	}
	if _, ok := models.NewStructuredBlob(`[1,2]`).Parsed(); ok {
		t.Fatalf("non-object blob should have no parsed view")
	}
}

func TestStructuredBlobJSONRoundTrip(t *testing.T) {
	blob, err := models.NewStructuredBlobFrom(map[string]int{"count": 3})
	if err != nil {
		t.Fatalf("NewStructuredBlobFrom: %v", err)
	}
	out, err := json.Marshal(blob)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"count":3}` {
		t.Fatalf("marshal = %s", out)
	}

	// Unparseable text degrades to null instead of breaking API responses.
	out, err = json.Marshal(models.NewStructuredBlob("{broken"))
	if err != nil {
		t.Fatalf("marshal broken: %v", err)
	}
	if string(out) != "null" {
		t.Fatalf("broken blob marshal = %s, want null", out)
	}

	var decoded models.StructuredBlob
	if err := json.Unmarshal([]byte(`{"a":1}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Raw() != `{"a":1}` {
		t.Fatalf("raw = %q", decoded.Raw())
	}
	if err := json.Unmarshal([]byte(`{bad`), &decoded); err == nil {
		t.Fatalf("invalid JSON should fail to unmarshal")
	}
}

func TestStructuredBlobScan(t *testing.T) {
	var blob models.StructuredBlob
	if err := blob.Scan([]byte(`{"k":"v"}`)); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}
	if blob.Raw() != `{"k":"v"}` {
		t.Fatalf("raw = %q", blob.Raw())
	}
	if err := blob.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if !blob.IsEmpty() {
		t.Fatalf("nil scan should clear the blob")
	}
	if err := blob.Scan(42); err == nil {
		t.Fatalf("scanning an int should fail")
	}
}
