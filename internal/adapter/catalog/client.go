package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/vertextoedge/story-offline-cache/internal/domain"
	"github.com/vertextoedge/story-offline-cache/internal/port"
)

// maxAssetBytes caps a single artwork download
const maxAssetBytes = 32 << 20

// Client talks to the hosted catalog over HTTP
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client

	selections   map[domain.RecordKey]int
	selectionsAt time.Time
	selectionTTL time.Duration
	selectionsMu sync.RWMutex
}

// defaultSelectionTTL bounds how stale the user's image selections can get
const defaultSelectionTTL = 5 * time.Minute

// Ensure Client implements the catalog ports
var (
	_ port.Catalog           = (*Client)(nil)
	_ port.AssetFetcher      = (*Client)(nil)
	_ port.SelectionProvider = (*Client)(nil)
)

// NewClient creates a new catalog client
func NewClient(baseURL, apiToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		apiToken:     apiToken,
		selectionTTL: defaultSelectionTTL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// listResponse is the body of GET /api/records
type listResponse struct {
	Records []domain.Snapshot `json:"records"`
}

// selectionsResponse is the body of GET /api/selections
type selectionsResponse struct {
	Selections map[string]int `json:"selections"`
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog request %s: status %d", e.URL, e.StatusCode)
}

// ListAll returns the whole catalog in listing order
func (c *Client) ListAll(ctx context.Context) ([]domain.Snapshot, error) {
	var resp listResponse
	if err := c.getJSON(ctx, c.baseURL+"/api/records", &resp); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return resp.Records, nil
}

// GetOne returns a single record or domain.ErrNotFound
func (c *Client) GetOne(ctx context.Context, key domain.RecordKey) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	err := c.getJSON(ctx, c.baseURL+"/api/records/"+url.PathEscape(key.String()), &snap)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record %s: %w", key, err)
	}
	if snap.Key == "" {
		snap.Key = key
	}
	return &snap, nil
}

// FetchAsset downloads artwork from an absolute URL
func (c *Client) FetchAsset(ctx context.Context, assetURL string) (*port.Asset, error) {
	resp, err := c.do(ctx, assetURL, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read asset: %w", err)
	}
	if len(data) > maxAssetBytes {
		return nil, fmt.Errorf("asset %s exceeds %d bytes", assetURL, maxAssetBytes)
	}

	return &port.Asset{
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// SetSelectionTTL sets how long loaded selections are reused. A value of
// zero or less keeps the default.
func (c *Client) SetSelectionTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultSelectionTTL
	}
	c.selectionsMu.Lock()
	c.selectionTTL = ttl
	c.selectionsMu.Unlock()
}

// SelectedImageSlot returns the user's chosen slot for key.
// Selections are reloaded once they are older than the selection TTL.
func (c *Client) SelectedImageSlot(ctx context.Context, key domain.RecordKey) (int, bool, error) {
	c.selectionsMu.RLock()
	loaded := c.selections
	expired := time.Since(c.selectionsAt) >= c.selectionTTL
	c.selectionsMu.RUnlock()

	if loaded == nil || expired {
		var err error
		if loaded, err = c.RefreshSelections(ctx); err != nil {
			return 0, false, err
		}
	}

	slot, ok := loaded[key]
	return slot, ok, nil
}

// RefreshSelections reloads the user's image selections
func (c *Client) RefreshSelections(ctx context.Context) (map[domain.RecordKey]int, error) {
	if c.apiToken == "" {
		// anonymous users have no selections
		empty := map[domain.RecordKey]int{}
		c.setSelections(empty)
		return empty, nil
	}

	var resp selectionsResponse
	if err := c.getJSON(ctx, c.baseURL+"/api/selections", &resp); err != nil {
		return nil, fmt.Errorf("failed to load selections: %w", err)
	}

	selections := make(map[domain.RecordKey]int, len(resp.Selections))
	for k, slot := range resp.Selections {
		selections[domain.RecordKey(k)] = slot
	}
	c.setSelections(selections)
	return selections, nil
}

func (c *Client) setSelections(m map[domain.RecordKey]int) {
	c.selectionsMu.Lock()
	defer c.selectionsMu.Unlock()
	c.selections = m
	c.selectionsAt = time.Now()
}

// getJSON performs an authenticated GET and decodes the body into v
func (c *Client) getJSON(ctx context.Context, urlStr string, v any) error {
	resp, err := c.do(ctx, urlStr, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// do performs a GET request and returns the response for 2xx statuses
func (c *Client) do(ctx context.Context, urlStr string, auth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if auth && c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	if auth {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{URL: urlStr, StatusCode: resp.StatusCode}
	}
	return resp, nil
}
