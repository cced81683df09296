package workflow

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Config describes one external workflow endpoint. The workflow itself is a
// black box: we send inputs, it returns an outputs object and token usage.
type Config struct {
	BaseURL      string
	Token        string
	Path         string        // default: /v1/workflows/run
	ResponseMode string        // default: blocking
	Timeout      time.Duration // per-request, default 60s
	Retries      int           // extra attempts after the first, default 2
	// MaxConcurrency caps in-flight calls to this endpoint so a large task
	// cannot overwhelm it (or trip its rate limiter). Default 8.
	MaxConcurrency int64
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = "/v1/workflows/run"
	}
	if c.ResponseMode == "" {
		c.ResponseMode = "blocking"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	return c
}

// Usage totals the LLM tokens a workflow run consumed.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add merges usage from consecutive workflow calls on the same item.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// Client calls one workflow endpoint with retry, backoff, and a concurrency
// cap.
type Client struct {
	cfg    Config
	http   *http.Client
	policy retrypolicy.RetryPolicy[*http.Response]
	sem    *semaphore.Weighted
	log    *logrus.Logger
}

// New creates a workflow client. A nil logger falls back to the standard one.
func New(cfg Config, log *logrus.Logger) *Client {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}

	//nolint:bodyclose // generic type parameter, not an actual response
	policy := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(500*time.Millisecond, 5*time.Second).
		WithMaxRetries(cfg.Retries).
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			if resp == nil {
				return true
			}
			switch resp.StatusCode {
			case http.StatusInternalServerError,
				http.StatusBadGateway,
				http.StatusServiceUnavailable,
				http.StatusGatewayTimeout,
				http.StatusTooManyRequests:
				return true
			default:
				return false
			}
		}).
		Build()

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		policy: policy,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrency),
		log:    log,
	}
}

// Run executes the workflow with the given inputs and returns its outputs
// object plus token usage. Outputs are read from data.outputs, falling back
// to a top-level outputs key; usage fields likewise come from either level.
func (c *Client) Run(ctx context.Context, inputs map[string]any, user string) (map[string]any, Usage, error) {
	payload, err := json.Marshal(map[string]any{
		"inputs":        inputs,
		"response_mode": c.cfg.ResponseMode,
		"user":          user,
	})
	if err != nil {
		return nil, Usage{}, fmt.Errorf("marshal workflow payload: %w", err)
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, Usage{}, err
	}
	defer c.sem.Release(1)

	url := strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.Path

	resp, err := failsafe.With(c.policy).WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		// Drain retryable responses so the retry loop can reuse the
		// connection.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return resp, nil
	})
	if err != nil {
		return nil, Usage{}, fmt.Errorf("call workflow %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, Usage{}, fmt.Errorf("workflow %s status %d", url, resp.StatusCode)
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, Usage{}, fmt.Errorf("decode workflow response: %w", err)
	}

	data, _ := raw["data"].(map[string]any)

	outputs, _ := data["outputs"].(map[string]any)
	if outputs == nil {
		outputs, _ = raw["outputs"].(map[string]any)
	}

	usage := Usage{
		InputTokens:  intField(data, raw, "input_tokens"),
		OutputTokens: intField(data, raw, "output_tokens"),
		TotalTokens:  intField(data, raw, "total_tokens"),
	}
	return outputs, usage, nil
}

// intField reads a numeric field from data, falling back to the top level.
// Different workflow engine versions report usage at different depths.
func intField(data, raw map[string]any, key string) int {
	for _, m := range []map[string]any{data, raw} {
		if m == nil {
			continue
		}
		switch n := m[key].(type) {
		case float64:
			return int(n)
		case int:
			return n
		case json.Number:
			f, _ := n.Float64()
			return int(f)
		}
	}
	return 0
}
