// Package challan is the boundary to the downstream citation system.
// Approval of a violation record fires the trigger; generating the
// citation itself happens elsewhere.
package challan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"traffic-violation/internal/store"
)

// Trigger is invoked after a review approval commits. Failures are the
// caller's to log; they never roll back the approval.
type Trigger interface {
	ViolationApproved(ctx context.Context, rec *store.Record) error
}

// Noop discards approvals. Used when no downstream system is wired.
type Noop struct{}

func (Noop) ViolationApproved(context.Context, *store.Record) error { return nil }

// Webhook POSTs the approved record as JSON to a configured endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, timeout time.Duration) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is empty")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (w *Webhook) ViolationApproved(ctx context.Context, rec *store.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d body=%q", resp.StatusCode, string(body))
	}
	return nil
}
