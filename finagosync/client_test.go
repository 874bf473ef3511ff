package finagosync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func testClient(t *testing.T, baseURL string) *finagoClient {
	t.Helper()
	t.Setenv("FINAGO_API_BASE_URL", baseURL)
	t.Setenv("FINAGO_API_KEY", "test-key")
	t.Setenv("FINAGO_API_KEY_HEADER", "")
	// Keep the limiter out of the way.
	t.Setenv("FINAGO_RATE_LIMIT_PER_MIN", "6000")

	client, err := newFinagoClient()
	if err != nil {
		t.Fatalf("newFinagoClient: %v", err)
	}
	t.Cleanup(client.close)
	return client
}

func TestGetListSendsKeyAndParsesPage(t *testing.T) {
	var gotKey, gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"companyId":1},{"companyId":2}],"next_cursor":"p2","has_more":true}`))
	}))
	defer ts.Close()

	client := testClient(t, ts.URL)
	params := url.Values{}
	params.Set("limit", "200")

	resp, err := client.getList(context.Background(), "/v1/companies", params)
	if err != nil {
		t.Fatalf("getList: %v", err)
	}
	if gotKey != "test-key" {
		t.Fatalf("api key header = %q", gotKey)
	}
	if gotQuery != "limit=200" {
		t.Fatalf("query = %q", gotQuery)
	}
	if len(resp.records()) != 2 {
		t.Fatalf("records = %d, want 2", len(resp.records()))
	}
	if resp.NextCursor != "p2" || resp.HasMore == nil || !*resp.HasMore {
		t.Fatalf("paging fields wrong: %+v", resp)
	}
}

func TestGetListFallsBackToItems(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[{"accountNo":3000}]}`))
	}))
	defer ts.Close()

	resp, err := testClient(t, ts.URL).getList(context.Background(), "/v1/accounts", nil)
	if err != nil {
		t.Fatalf("getList: %v", err)
	}
	if len(resp.records()) != 1 {
		t.Fatalf("records = %d, want 1", len(resp.records()))
	}
	if resp.NextCursor != "" {
		t.Fatalf("unexpected cursor %q", resp.NextCursor)
	}
}

func TestGetListSurfacesAPIErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer ts.Close()

	_, err := testClient(t, ts.URL).getList(context.Background(), "/v1/invoices", nil)
	if err == nil {
		t.Fatalf("expected error for non-2xx response")
	}
}

func TestNewFinagoClientRequiresKey(t *testing.T) {
	t.Setenv("FINAGO_API_BASE_URL", "http://127.0.0.1:1")
	t.Setenv("FINAGO_API_KEY", "")
	if _, err := newFinagoClient(); err == nil {
		t.Fatalf("missing api key must be an error")
	}
}
