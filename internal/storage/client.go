package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"reelpipe/internal/config"
)

const defaultHTTPTimeout = 120 * time.Second

// Client talks to the object storage gateway over HTTP.
type Client struct {
	baseURL    string
	bucket     string
	apiKey     string
	signExpiry time.Duration
	httpClient *http.Client
}

// Option customizes the storage client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a storage gateway client from configuration.
func NewClient(cfg config.Storage, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.RequestTimeout > 0 {
		timeout = time.Duration(cfg.RequestTimeout) * time.Second
	}
	client := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		bucket:     strings.TrimSpace(cfg.Bucket),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		signExpiry: time.Duration(cfg.SignExpiry) * time.Second,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Upload stores the bytes and returns the object's permanent reference.
func (c *Client) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("storage upload: empty payload")
	}
	object := uuid.NewString()
	endpoint, err := url.JoinPath(c.baseURL, "buckets", c.bucket, "objects", object)
	if err != nil {
		return "", fmt.Errorf("storage upload: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("storage upload: request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage upload: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("storage upload: http %d: %s", resp.StatusCode, readBodySnippet(resp.Body))
	}
	return fmt.Sprintf("gs://%s/%s", c.bucket, object), nil
}

// Download fetches the object bytes behind a permanent reference.
func (c *Client) Download(ctx context.Context, ref string) ([]byte, error) {
	bucket, object, err := splitRef(ref)
	if err != nil {
		return nil, err
	}
	endpoint, err := url.JoinPath(c.baseURL, "buckets", bucket, "objects", object)
	if err != nil {
		return nil, fmt.Errorf("storage download: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("storage download: request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage download: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("storage download: http %d: %s", resp.StatusCode, readBodySnippet(resp.Body))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("storage download: read body: %w", err)
	}
	return data, nil
}

// Sign mints a time-limited access URL for a permanent reference.
func (c *Client) Sign(ctx context.Context, ref string) (SignedURL, error) {
	var empty SignedURL
	bucket, object, err := splitRef(ref)
	if err != nil {
		return empty, err
	}
	endpoint, err := url.JoinPath(c.baseURL, "buckets", bucket, "objects", object, "sign")
	if err != nil {
		return empty, fmt.Errorf("storage sign: build url: %w", err)
	}
	payload, err := json.Marshal(map[string]any{
		"expirySeconds": int(c.signExpiry.Seconds()),
	})
	if err != nil {
		return empty, fmt.Errorf("storage sign: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return empty, fmt.Errorf("storage sign: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return empty, fmt.Errorf("storage sign: request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty, fmt.Errorf("storage sign: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return empty, fmt.Errorf("storage sign: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		URL        string    `json:"url"`
		ValidUntil time.Time `json:"validUntil"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return empty, fmt.Errorf("storage sign: decode response: %w", err)
	}
	if decoded.URL == "" {
		return empty, fmt.Errorf("storage sign: gateway returned empty url")
	}
	if decoded.ValidUntil.IsZero() {
		decoded.ValidUntil = time.Now().Add(c.signExpiry)
	}
	return SignedURL{URL: decoded.URL, ValidUntil: decoded.ValidUntil}, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func splitRef(ref string) (bucket, object string, err error) {
	trimmed := strings.TrimSpace(ref)
	if !strings.HasPrefix(trimmed, "gs://") {
		return "", "", fmt.Errorf("storage: not a permanent reference: %q", ref)
	}
	rest := strings.TrimPrefix(trimmed, "gs://")
	bucket, object, found := strings.Cut(rest, "/")
	if !found || bucket == "" || object == "" {
		return "", "", fmt.Errorf("storage: malformed reference: %q", ref)
	}
	return bucket, object, nil
}

// IsPermanentRef reports whether the reference addresses owned object storage
// rather than an external HTTP URL.
func IsPermanentRef(ref string) bool {
	return strings.HasPrefix(strings.TrimSpace(ref), "gs://")
}

func readBodySnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(data))
}
