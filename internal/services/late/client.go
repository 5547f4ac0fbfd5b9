package late

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

	"reelpipe/internal/config"
	"reelpipe/internal/services"
)

const (
	defaultBaseURL     = "https://api.getlate.dev/v1"
	defaultHTTPTimeout = 30 * time.Second
)

// PostRequest describes one social post to create or schedule.
type PostRequest struct {
	MediaURL    string
	Caption     string
	AccountID   string
	ScheduledAt time.Time
}

// PostRecord is the posting API's view of a created post.
type PostRecord struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Permalink   string    `json:"permalink"`
}

// Client wraps the Late social posting API.
type Client struct {
	apiKey           string
	baseURL          string
	defaultAccountID string
	httpClient       *http.Client
}

// Option customizes the Late client.
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

// NewClient constructs a Late API client from configuration.
func NewClient(cfg config.Late, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.RequestTimeout > 0 {
		timeout = time.Duration(cfg.RequestTimeout) * time.Second
	}
	client := &Client{
		apiKey:           strings.TrimSpace(cfg.APIKey),
		baseURL:          defaultBaseURL,
		defaultAccountID: strings.TrimSpace(cfg.DefaultAccountID),
		httpClient:       &http.Client{Timeout: timeout},
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		client.baseURL = base
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// CreatePost publishes or schedules one post carrying the given media URL.
func (c *Client) CreatePost(ctx context.Context, req PostRequest) (PostRecord, error) {
	var empty PostRecord
	if c.apiKey == "" {
		return empty, services.Wrap(services.ErrConfiguration, "late", "create post", "api key required", nil)
	}
	if strings.TrimSpace(req.MediaURL) == "" {
		return empty, services.Wrap(services.ErrValidation, "late", "create post", "media url required", nil)
	}
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		accountID = c.defaultAccountID
	}
	if accountID == "" {
		return empty, services.Wrap(services.ErrConfiguration, "late", "create post", "account id required", nil)
	}

	payload := map[string]any{
		"accountId": accountID,
		"caption":   req.Caption,
		"media":     []map[string]string{{"url": req.MediaURL, "type": "video"}},
	}
	if !req.ScheduledAt.IsZero() {
		payload["scheduledAt"] = req.ScheduledAt.UTC().Format(time.RFC3339)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return empty, fmt.Errorf("late create post: encode request: %w", err)
	}

	endpoint, err := url.JoinPath(c.baseURL, "/posts")
	if err != nil {
		return empty, fmt.Errorf("late create post: build url: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return empty, fmt.Errorf("late create post: request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return empty, services.Wrap(services.ErrExternal, "late", "create post", "request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty, fmt.Errorf("late create post: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return empty, services.Wrap(services.ErrExternal, "late", "create post",
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var record PostRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return empty, services.Wrap(services.ErrExternal, "late", "create post", "malformed response", err)
	}
	if record.ID == "" {
		return empty, services.Wrap(services.ErrExternal, "late", "create post", "response contains no post id", nil)
	}
	return record, nil
}
