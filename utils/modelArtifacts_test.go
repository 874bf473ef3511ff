package utils

import "testing"

func TestModelArtifactKey(t *testing.T) {
	var runId uint = 7
	got := ModelArtifactKey("payment_risk", runId)
	want := "models/payment_risk/run-7.bin"
	if got != want {
		t.Fatalf("ModelArtifactKey = %q, want %q", got, want)
	}
}
