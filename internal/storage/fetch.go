package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Fetcher resolves any media reference to bytes, regardless of provenance:
// permanent storage references go through the Store, plain HTTP(S) URLs
// (freshly generated third-party results, user uploads, library picks) are
// fetched directly.
type Fetcher struct {
	store      Store
	httpClient *http.Client
}

// NewFetcher constructs a Fetcher over the given store.
func NewFetcher(store Store, httpClient *http.Client) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Fetcher{store: store, httpClient: httpClient}
}

// Fetch downloads the bytes behind any supported reference flavor.
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return nil, fmt.Errorf("fetch: empty reference")
	}
	if IsPermanentRef(trimmed) {
		return f.store.Download(ctx, trimmed)
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		return nil, fmt.Errorf("fetch: unsupported reference %q", ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trimmed, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("fetch: http %d from %s", resp.StatusCode, trimmed)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("fetch: empty body from %s", trimmed)
	}
	return data, nil
}
