package finagosync

import (
	"testing"
	"time"
)

func TestParseTimeLayouts(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-05T10:30:00Z", time.Date(2026, 3, 5, 10, 30, 0, 0, time.UTC)},
		{"2026-03-05 10:30:00", time.Date(2026, 3, 5, 10, 30, 0, 0, time.UTC)},
		{"2026-03-05", time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		got := parseTime(c.in)
		if got == nil || !got.Equal(c.want) {
			t.Errorf("parseTime(%q) = %v, want %v", c.in, got, c.want)
		}
	}

	if parseTime("") != nil {
		t.Errorf("empty string should parse to nil")
	}
	if parseTime("05.03.2026") != nil {
		t.Errorf("unknown layout should parse to nil")
	}
}

func TestDecodeModulesDefaultsAndRoundTrip(t *testing.T) {
	if mod := DecodeModules(""); !mod.Companies || !mod.Accounts {
		t.Fatalf("empty selection should default to everything: %+v", mod)
	}
	if mod := DecodeModules("{broken"); !mod.Invoices {
		t.Fatalf("unparseable selection should default to everything: %+v", mod)
	}

	only := SyncModules{Invoices: true, Transactions: true}
	decoded := DecodeModules(EncodeModules(only))
	if decoded != only {
		t.Fatalf("round trip = %+v, want %+v", decoded, only)
	}
	if only.IsEmpty() {
		t.Fatalf("selection with modules should not be empty")
	}
	if !(SyncModules{}).IsEmpty() {
		t.Fatalf("zero selection should be empty")
	}
}

func TestSanitizeEmailBlanksGarbage(t *testing.T) {
	if got := sanitizeEmail(" billing@example.fi "); got != "billing@example.fi" {
		t.Errorf("valid email mangled: %q", got)
	}
	for _, bad := range []string{"", "not-an-email", "a@b", "x@@y.fi"} {
		if got := sanitizeEmail(bad); got != "" {
			t.Errorf("sanitizeEmail(%q) = %q, want empty", bad, got)
		}
	}
}

func TestEnabledModulesRespectsSelection(t *testing.T) {
	mods := enabledModules(SyncModules{Invoices: true, Accounts: true})
	if len(mods) != 2 {
		t.Fatalf("enabled = %d, want 2", len(mods))
	}
	if mods[0].name != "invoices" || mods[1].name != "accounts" {
		t.Fatalf("wrong modules: %s, %s", mods[0].name, mods[1].name)
	}
}
