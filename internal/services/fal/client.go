package fal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"reelpipe/internal/config"
	"reelpipe/internal/pipeline"
	"reelpipe/internal/services"
)

const (
	defaultBaseURL           = "https://queue.fal.run"
	defaultHTTPTimeout       = 30 * time.Second
	defaultGenerationTimeout = 5 * time.Minute
	defaultPollInterval      = 3 * time.Second

	modelMotionControl   = "fal-ai/kling-video/v2.1/pro/motion-control"
	modelSubtleAnimation = "fal-ai/kling-video/v2.1/pro/image-to-video"
)

// GenerationRequest describes one video generation call.
type GenerationRequest struct {
	Mode            pipeline.GenerationMode
	ImageURL        string
	SourceVideoURL  string
	Prompt          string
	DurationSeconds int
	Resolution      string
}

// Handle identifies an accepted generation request awaiting completion.
type Handle struct {
	RequestID   string
	StatusURL   string
	ResponseURL string
}

// Client wraps the fal.ai queue API. Requests are submitted to the queue
// endpoint and polled until the queue reports a terminal state.
type Client struct {
	apiKey            string
	baseURL           string
	generationTimeout time.Duration
	pollInterval      time.Duration
	httpClient        *http.Client
	limiter           *rate.Limiter
	breaker           *gobreaker.CircuitBreaker[[]byte]
}

// Option customizes the fal client.
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

// WithPollInterval overrides the status poll cadence.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithGenerationTimeout overrides the end-to-end generation budget.
func WithGenerationTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.generationTimeout = timeout
		}
	}
}

// NewClient constructs a fal.ai queue client from configuration.
func NewClient(cfg config.Fal, opts ...Option) *Client {
	httpTimeout := defaultHTTPTimeout
	if cfg.RequestTimeout > 0 {
		httpTimeout = time.Duration(cfg.RequestTimeout) * time.Second
	}
	generationTimeout := defaultGenerationTimeout
	if cfg.GenerationTimeout > 0 {
		generationTimeout = time.Duration(cfg.GenerationTimeout) * time.Second
	}
	pollInterval := defaultPollInterval
	if cfg.PollInterval > 0 {
		pollInterval = time.Duration(cfg.PollInterval) * time.Second
	}
	pollRate := rate.Limit(1)
	if cfg.PollRatePerSecond > 0 {
		pollRate = rate.Limit(cfg.PollRatePerSecond)
	}
	maxFailures := uint32(5)
	if cfg.BreakerMaxFailures > 0 {
		maxFailures = uint32(cfg.BreakerMaxFailures)
	}
	cooldown := 60 * time.Second
	if cfg.BreakerCooldown > 0 {
		cooldown = time.Duration(cfg.BreakerCooldown) * time.Second
	}

	client := &Client{
		apiKey:            strings.TrimSpace(cfg.APIKey),
		baseURL:           defaultBaseURL,
		generationTimeout: generationTimeout,
		pollInterval:      pollInterval,
		httpClient:        &http.Client{Timeout: httpTimeout},
		limiter:           rate.NewLimiter(pollRate, 1),
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:    "fal",
			Timeout: cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
		}),
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		client.baseURL = base
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Generate submits a request and waits for the queue to finish it, returning
// the generated media URL. The URL is short-lived; callers must copy the
// bytes into owned storage before chaining it anywhere durable.
func (c *Client) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	handle, err := c.Submit(ctx, req)
	if err != nil {
		return "", err
	}
	return c.AwaitResult(ctx, handle)
}

// Submit enqueues a generation request.
func (c *Client) Submit(ctx context.Context, req GenerationRequest) (Handle, error) {
	var empty Handle
	if c.apiKey == "" {
		return empty, services.Wrap(services.ErrConfiguration, "fal", "submit", "api key required", nil)
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		return empty, services.Wrap(services.ErrValidation, "fal", "submit", "image url required", nil)
	}

	model := modelSubtleAnimation
	payload := map[string]any{
		"image_url": req.ImageURL,
	}
	switch req.Mode {
	case pipeline.ModeMotionControl:
		if strings.TrimSpace(req.SourceVideoURL) == "" {
			return empty, services.Wrap(services.ErrValidation, "fal", "submit", "motion-control requires a source video", nil)
		}
		model = modelMotionControl
		payload["video_url"] = req.SourceVideoURL
	case pipeline.ModeSubtleAnimation:
	default:
		return empty, services.Wrap(services.ErrValidation, "fal", "submit", fmt.Sprintf("unknown mode %q", req.Mode), nil)
	}
	if req.Prompt != "" {
		payload["prompt"] = req.Prompt
	}
	if req.DurationSeconds > 0 {
		payload["duration"] = req.DurationSeconds
	}
	if req.Resolution != "" {
		payload["resolution"] = req.Resolution
	}

	endpoint, err := url.JoinPath(c.baseURL, model, "requests")
	if err != nil {
		return empty, fmt.Errorf("fal submit: build url: %w", err)
	}
	body, err := c.post(ctx, endpoint, payload)
	if err != nil {
		return empty, services.Wrap(services.ErrExternal, "fal", "submit", "queue rejected request", err)
	}

	var decoded struct {
		RequestID   string `json:"request_id"`
		StatusURL   string `json:"status_url"`
		ResponseURL string `json:"response_url"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return empty, services.Wrap(services.ErrExternal, "fal", "submit", "malformed queue response", err)
	}
	if decoded.RequestID == "" {
		return empty, services.Wrap(services.ErrExternal, "fal", "submit", "queue returned no request id", nil)
	}
	if decoded.StatusURL == "" {
		decoded.StatusURL = endpoint + "/" + decoded.RequestID + "/status"
	}
	if decoded.ResponseURL == "" {
		decoded.ResponseURL = endpoint + "/" + decoded.RequestID
	}
	return Handle(decoded), nil
}

// AwaitResult polls the queue until the request completes, fails, or the
// generation budget runs out. A timeout is indistinguishable from an
// explicit capability failure to callers.
func (c *Client) AwaitResult(ctx context.Context, handle Handle) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.generationTimeout)
	defer cancel()

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			// Wait refuses once the remaining budget cannot cover the
			// wait, before the context itself reports expiry. Either
			// way the budget is spent unless the caller canceled.
			if ctx.Err() == nil || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", services.Wrap(services.ErrTimeout, "fal", "generate", "generation budget exhausted", err)
			}
			return "", err
		}

		body, err := c.get(ctx, handle.StatusURL)
		if err != nil {
			return "", services.Wrap(services.ErrExternal, "fal", "poll", "status check failed", c.timeoutOr(ctx, err))
		}
		var status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(body, &status); err != nil {
			return "", services.Wrap(services.ErrExternal, "fal", "poll", "malformed status response", err)
		}

		switch strings.ToUpper(status.Status) {
		case "COMPLETED":
			return c.fetchResult(ctx, handle)
		case "FAILED", "ERROR":
			message := status.Error
			if message == "" {
				message = "generation failed"
			}
			return "", services.Wrap(services.ErrExternal, "fal", "generate", message, nil)
		}

		select {
		case <-ctx.Done():
			return "", c.timeoutOr(ctx, ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *Client) fetchResult(ctx context.Context, handle Handle) (string, error) {
	body, err := c.get(ctx, handle.ResponseURL)
	if err != nil {
		return "", services.Wrap(services.ErrExternal, "fal", "result", "fetch failed", err)
	}
	var decoded struct {
		Video struct {
			URL string `json:"url"`
		} `json:"video"`
		Image struct {
			URL string `json:"url"`
		} `json:"image"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", services.Wrap(services.ErrExternal, "fal", "result", "malformed result payload", err)
	}
	if decoded.Video.URL != "" {
		return decoded.Video.URL, nil
	}
	if decoded.Image.URL != "" {
		return decoded.Image.URL, nil
	}
	return "", services.Wrap(services.ErrExternal, "fal", "result", "result contains no media url", nil)
}

func (c *Client) timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "fal", "generate", "generation budget exhausted", err)
	}
	return err
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
		if err != nil {
			return nil, fmt.Errorf("request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		c.authorize(req)
		return c.do(req)
	})
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("request: %w", err)
		}
		c.authorize(req)
		return c.do(req)
	})
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Key "+c.apiKey)
}
