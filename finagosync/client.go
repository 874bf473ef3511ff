package finagosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type finagoClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   *time.Ticker
}

// close stops the rate-limit ticker. A client lives for one sync run.
func (c *finagoClient) close() {
	c.limiter.Stop()
}

func newFinagoClient() (*finagoClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("FINAGO_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.finago.com"
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("FINAGO_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	apiKey := strings.TrimSpace(os.Getenv("FINAGO_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("finago api key is empty")
	}
	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv("FINAGO_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &finagoClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.NewTicker(interval),
	}, nil
}

type finagoListResponse struct {
	Data       []json.RawMessage `json:"data"`
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"next_cursor"`
	HasMore    *bool             `json:"has_more"`
}

func (r finagoListResponse) records() []json.RawMessage {
	if len(r.Data) > 0 {
		return r.Data
	}
	return r.Items
}

func (c *finagoClient) getList(ctx context.Context, path string, params url.Values) (finagoListResponse, error) {
	<-c.limiter.C
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return finagoListResponse{}, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return finagoListResponse{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return finagoListResponse{}, fmt.Errorf("finago api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed finagoListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return finagoListResponse{}, err
	}
	return parsed, nil
}
