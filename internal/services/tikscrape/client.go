package tikscrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"reelpipe/internal/config"
	"reelpipe/internal/services"
)

const (
	defaultBaseURL     = "https://api.tikapi.io"
	defaultHTTPTimeout = 60 * time.Second
)

// Client resolves TikTok page URLs to direct video download URLs through a
// scraping API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option customizes the tikscrape client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the default API base (useful for tests/mocks).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		base = strings.TrimSpace(base)
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// NewClient constructs a TikTok scraping API client from configuration.
func NewClient(cfg config.TikTok, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.RequestTimeout > 0 {
		timeout = time.Duration(cfg.RequestTimeout) * time.Second
	}
	client := &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		client.baseURL = base
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Resolve returns a direct, downloadable video URL for a TikTok page URL.
// The returned URL is short-lived; callers should copy the bytes promptly.
func (c *Client) Resolve(ctx context.Context, tiktokURL string) (string, error) {
	tiktokURL = strings.TrimSpace(tiktokURL)
	if tiktokURL == "" {
		return "", services.Wrap(services.ErrValidation, "tikscrape", "resolve", "tiktok url required", nil)
	}
	if c.apiKey == "" {
		return "", services.Wrap(services.ErrConfiguration, "tikscrape", "resolve", "api key required", nil)
	}

	endpoint, err := url.JoinPath(c.baseURL, "/public/video")
	if err != nil {
		return "", fmt.Errorf("tikscrape resolve: build url: %w", err)
	}
	endpoint += "?url=" + url.QueryEscape(tiktokURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("tikscrape resolve: request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrExternal, "tikscrape", "resolve", "request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("tikscrape resolve: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", services.Wrap(services.ErrExternal, "tikscrape", "resolve",
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var decoded struct {
		Video struct {
			DownloadURL string `json:"downloadAddr"`
			PlayURL     string `json:"playAddr"`
		} `json:"video"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", services.Wrap(services.ErrExternal, "tikscrape", "resolve", "malformed response", err)
	}
	if decoded.Video.DownloadURL != "" {
		return decoded.Video.DownloadURL, nil
	}
	if decoded.Video.PlayURL != "" {
		return decoded.Video.PlayURL, nil
	}
	return "", services.Wrap(services.ErrExternal, "tikscrape", "resolve", "response contains no video url", nil)
}
