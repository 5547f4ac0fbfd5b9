// Package apiclient is the HTTP client the CLI uses to talk to a running
// daemon's API.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"reelpipe/internal/api"
	"reelpipe/internal/store"
)

// Client talks to the daemon HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customizes client construction.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New constructs a client for the given bind address. Bare host:port
// addresses are promoted to http URLs.
func New(bind, token string, opts ...Option) *Client {
	base := strings.TrimSpace(bind)
	if base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}
	c := &Client{
		baseURL:    strings.TrimRight(base, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status fetches daemon runtime information.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var out api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// Queue lists jobs, optionally filtered by status.
func (c *Client) Queue(ctx context.Context, statuses ...store.Status) ([]api.JobView, error) {
	path := "/api/queue"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", string(status))
		}
		path += "?" + values.Encode()
	}
	var out api.JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Job fetches a single job.
func (c *Client) Job(ctx context.Context, id string) (api.JobView, error) {
	var out api.JobResponse
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &out)
	return out.Job, err
}

// CreateJob queues a new job.
func (c *Client) CreateJob(ctx context.Context, req api.CreateJobRequest) (api.JobView, error) {
	var out api.JobResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs", req, &out)
	return out.Job, err
}

// Regenerate restarts a job from the given step.
func (c *Client) Regenerate(ctx context.Context, id string, fromStep int) (api.JobView, error) {
	var out api.JobResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/regenerate", api.RegenerateRequest{FromStep: fromStep}, &out)
	return out.Job, err
}

// Review records a posting decision on a job.
func (c *Client) Review(ctx context.Context, id string, req api.ReviewRequest) (api.JobView, error) {
	var out api.JobResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/review", req, &out)
	return out.Job, err
}

// Batches lists batches of the given kind.
func (c *Client) Batches(ctx context.Context, kind store.BatchKind) ([]api.BatchView, error) {
	var out api.BatchListResponse
	if err := c.do(ctx, http.MethodGet, "/api/batches?kind="+url.QueryEscape(string(kind)), nil, &out); err != nil {
		return nil, err
	}
	return out.Batches, nil
}

// Batch fetches a single batch with its child jobs.
func (c *Client) Batch(ctx context.Context, id string) (api.BatchView, error) {
	var out api.BatchResponse
	err := c.do(ctx, http.MethodGet, "/api/batches/"+url.PathEscape(id), nil, &out)
	return out.Batch, err
}

// CreateBatch queues a fan-out batch.
func (c *Client) CreateBatch(ctx context.Context, req api.CreateBatchRequest) (api.BatchView, error) {
	var out api.BatchResponse
	err := c.do(ctx, http.MethodPost, "/api/batches", req, &out)
	return out.Batch, err
}

// CreateMasterBatch queues a per-persona master batch.
func (c *Client) CreateMasterBatch(ctx context.Context, req api.CreateMasterBatchRequest) (api.BatchView, error) {
	var out api.BatchResponse
	err := c.do(ctx, http.MethodPost, "/api/master-batches", req, &out)
	return out.Batch, err
}

func (c *Client) do(ctx context.Context, method, path string, body, into any) error {
	if c.baseURL == "" {
		return errors.New("daemon api address not configured")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapDialError(err, c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if into == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("daemon: %s", payload.Error)
	}
	return fmt.Errorf("daemon: %s", resp.Status)
}

func wrapDialError(err error, base string) error {
	var netErr *net.OpError
	if errors.As(err, &netErr) || errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: %v; start it with `reelpipe daemon`", base, err)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}
