// Package ingest delivers violation events to the backend without ever
// blocking the frame-processing path. Events are queued to a bounded
// channel and submitted by background workers with retry and backoff.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"traffic-violation/internal/domain/violation"
)

// ErrPermanent marks a submission the backend rejected for cause
// (4xx). Such events are never retried.
var ErrPermanent = errors.New("permanent submission failure")

// Multipart field names of the ingestion wire contract.
const (
	FieldEventData    = "event_data_str"
	FieldEvidenceFile = "evidence_file"
)

// Config sizes the queue, worker pool, and retry policy.
type Config struct {
	BackendURL      string
	QueueSize       int
	Workers         int
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Metrics counts queue and delivery outcomes.
type Metrics struct {
	Enqueued    uint64
	Dropped     uint64
	Submitted   uint64
	Unsubmitted uint64
}

type submitResponse struct {
	Status  string `json:"status"`
	EventID int64  `json:"event_id"`
}

// Client submits violation events to the backend.
type Client struct {
	cfg    Config
	http   *http.Client
	queue  chan *violation.Event
	log    zerolog.Logger
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool

	metricsMu sync.Mutex
	metrics   Metrics
}

// NewClient starts the delivery workers.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	c := &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.RequestTimeout},
		queue: make(chan *violation.Event, cfg.QueueSize),
		log:   log,
	}
	for i := 0; i < cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	return c
}

// Submit enqueues an event for delivery without blocking. When the
// queue is full the event is dropped with a logged warning; it is never
// dropped silently.
func (c *Client) Submit(ev *violation.Event) bool {
	if ev == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.count(func(m *Metrics) { m.Dropped++ })
		c.log.Warn().Str("camera_id", ev.CameraID).Msg("ingest client closed, event dropped")
		return false
	}
	select {
	case c.queue <- ev:
		c.count(func(m *Metrics) { m.Enqueued++ })
		return true
	default:
		c.count(func(m *Metrics) { m.Dropped++ })
		c.log.Warn().
			Str("violation_type", ev.ViolationType).
			Str("plate", ev.PlateNumber).
			Msg("submission queue full, event dropped")
		return false
	}
}

// Close stops accepting events and lets in-flight submissions drain for
// a bounded time before abandoning the rest.
func (c *Client) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ShutdownTimeout)
	defer cancel()

	select {
	case <-done:
	case <-ctx.Done():
		c.log.Warn().Msg("shutdown timeout, abandoning queued submissions")
	}
}

// MetricsSnapshot copies the current counters.
func (c *Client) MetricsSnapshot() Metrics {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	return c.metrics
}

func (c *Client) count(f func(*Metrics)) {
	c.metricsMu.Lock()
	f(&c.metrics)
	c.metricsMu.Unlock()
}

func (c *Client) worker() {
	defer c.wg.Done()
	for ev := range c.queue {
		id, err := c.deliver(context.Background(), ev)
		if err != nil {
			c.count(func(m *Metrics) { m.Unsubmitted++ })
			c.log.Error().Err(err).
				Str("violation_type", ev.ViolationType).
				Str("plate", ev.PlateNumber).
				Time("detected_at", ev.DetectedAt).
				Msg("event unsubmitted")
			continue
		}
		c.count(func(m *Metrics) { m.Submitted++ })
		c.log.Info().Int64("event_id", id).Str("plate", ev.PlateNumber).Msg("violation submitted")
	}
}

// deliver retries transient failures with bounded exponential backoff.
// Permanent failures (4xx) surface immediately.
func (c *Client) deliver(ctx context.Context, ev *violation.Event) (int64, error) {
	var lastErr error
	backoff := c.cfg.BackoffBase
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		id, err := c.post(ctx, ev)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, ErrPermanent) {
			return 0, err
		}
		lastErr = err
		if attempt == c.cfg.MaxAttempts {
			break
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("submission retry")
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		}
		backoff *= 2
		if backoff > c.cfg.BackoffMax {
			backoff = c.cfg.BackoffMax
		}
	}
	return 0, fmt.Errorf("gave up after %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

// post encodes the event and its evidence as one multipart body so the
// backend accepts or rejects them atomically.
func (c *Client) post(ctx context.Context, ev *violation.Event) (int64, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	payload, err := json.Marshal(ev.WirePayload())
	if err != nil {
		return 0, fmt.Errorf("%w: encode event: %v", ErrPermanent, err)
	}
	if err := mw.WriteField(FieldEventData, string(payload)); err != nil {
		return 0, fmt.Errorf("write event part: %w", err)
	}
	name := fmt.Sprintf("%s.jpg", ev.DetectedAt.Format("20060102T150405.000000000"))
	fw, err := mw.CreateFormFile(FieldEvidenceFile, name)
	if err != nil {
		return 0, fmt.Errorf("write evidence part: %w", err)
	}
	if _, err := fw.Write(ev.Evidence); err != nil {
		return 0, fmt.Errorf("write evidence part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return 0, fmt.Errorf("finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BackendURL, &body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var sr submitResponse
		if err := json.Unmarshal(raw, &sr); err != nil {
			return 0, fmt.Errorf("decode response: %w", err)
		}
		return sr.EventID, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return 0, fmt.Errorf("%w: status %d body=%q", ErrPermanent, resp.StatusCode, truncate(raw))
	default:
		return 0, fmt.Errorf("status %d body=%q", resp.StatusCode, truncate(raw))
	}
}

func truncate(b []byte) string {
	const limit = 200
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
