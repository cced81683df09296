// Package callback delivers finished analysis results to the configured
// downstream endpoint.
package callback

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Reporter posts task results to the material-library callback endpoint.
type Reporter struct {
	client *http.Client
	url    string
	secret string
}

// New creates a reporter. secret, when non-empty, enables HMAC signing so
// the receiver can verify the payload.
func New(url, secret string) *Reporter {
	return &Reporter{
		client: &http.Client{Timeout: 30 * time.Second},
		url:    url,
		secret: secret,
	}
}

// Enabled reports whether a callback URL is configured at all.
func (r *Reporter) Enabled() bool { return r != nil && r.url != "" }

// Report posts {"task_id": ..., "data": [...]} to the callback endpoint and
// returns whether delivery succeeded along with the response body (useful
// for task bookkeeping either way).
func (r *Reporter) Report(ctx context.Context, taskID string, data any) (bool, string, error) {
	body, err := json.Marshal(map[string]any{
		"task_id": taskID,
		"data":    data,
	})
	if err != nil {
		return false, "", fmt.Errorf("marshal callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return false, "", fmt.Errorf("create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	// HMAC signature for verification.
	if r.secret != "" {
		mac := hmac.New(sha256.New, []byte(r.secret))
		mac.Write(body)
		sig := hex.EncodeToString(mac.Sum(nil))
		req.Header.Set("X-Signature-256", "sha256="+sig)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("send callback: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	return ok, string(respBody), nil
}
