package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-violation/internal/domain/violation"
)

func testEvent() *violation.Event {
	return &violation.Event{
		ViolationType: violation.TypeNoHelmet,
		DetectedAt:    time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		GPS:           "12.9716,77.5946",
		CameraID:      "cam_01",
		PlateNumber:   "KA01AB1234",
		RiderCount:    1,
		Evidence:      []byte{0xFF, 0xD8, 0xFF, 0xD9},
	}
}

func fastConfig(url string) Config {
	return Config{
		BackendURL:      url,
		QueueSize:       8,
		Workers:         1,
		MaxAttempts:     3,
		BackoffBase:     time.Millisecond,
		BackoffMax:      5 * time.Millisecond,
		RequestTimeout:  time.Second,
		ShutdownTimeout: 2 * time.Second,
	}
}

func TestDeliverSuccess(t *testing.T) {
	var gotEvent violation.Payload
	var gotEvidence []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.NoError(t, json.Unmarshal([]byte(r.FormValue(FieldEventData)), &gotEvent))
		f, _, err := r.FormFile(FieldEvidenceFile)
		require.NoError(t, err)
		gotEvidence, _ = io.ReadAll(f)
		fmt.Fprint(w, `{"status":"success","event_id":42}`)
	}))
	defer srv.Close()

	c := NewClient(fastConfig(srv.URL), zerolog.Nop())
	id, err := c.deliver(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "no_helmet", gotEvent.ViolationType)
	assert.Equal(t, "2024-01-01T10:00:00Z", gotEvent.Timestamp)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xD9}, gotEvidence)
	c.Close(context.Background())
}

func TestDeliverRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"status":"success","event_id":7}`)
	}))
	defer srv.Close()

	c := NewClient(fastConfig(srv.URL), zerolog.Nop())
	defer c.Close(context.Background())

	id, err := c.deliver(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, int64(3), calls.Load())
}

func TestDeliverGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(fastConfig(srv.URL), zerolog.Nop())
	defer c.Close(context.Background())

	_, err := c.deliver(context.Background(), testEvent())
	require.Error(t, err)
	assert.Equal(t, int64(3), calls.Load())
}

func TestDeliverPermanentFailureNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"detail":"invalid JSON data"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(fastConfig(srv.URL), zerolog.Nop())
	defer c.Close(context.Background())

	_, err := c.deliver(context.Background(), testEvent())
	require.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, int64(1), calls.Load())
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, `{"status":"success","event_id":1}`)
	}))
	defer srv.Close()

	cfg := fastConfig(srv.URL)
	cfg.QueueSize = 1
	cfg.Workers = 1
	c := NewClient(cfg, zerolog.Nop())

	// First fills the worker, second fills the queue, third must drop.
	assert.True(t, c.Submit(testEvent()))
	// Give the worker a moment to pick up the first event.
	time.Sleep(50 * time.Millisecond)
	assert.True(t, c.Submit(testEvent()))
	assert.False(t, c.Submit(testEvent()))

	m := c.MetricsSnapshot()
	assert.Equal(t, uint64(2), m.Enqueued)
	assert.Equal(t, uint64(1), m.Dropped)

	close(release)
	c.Close(context.Background())
}

func TestCloseDrainsQueuedSubmissions(t *testing.T) {
	var mu sync.Mutex
	received := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received++
		mu.Unlock()
		fmt.Fprint(w, `{"status":"success","event_id":1}`)
	}))
	defer srv.Close()

	c := NewClient(fastConfig(srv.URL), zerolog.Nop())
	for i := 0; i < 5; i++ {
		require.True(t, c.Submit(testEvent()))
	}
	c.Close(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, received)

	m := c.MetricsSnapshot()
	assert.Equal(t, uint64(5), m.Submitted)
}

func TestSubmitAfterCloseDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","event_id":1}`)
	}))
	defer srv.Close()

	c := NewClient(fastConfig(srv.URL), zerolog.Nop())
	c.Close(context.Background())
	assert.False(t, c.Submit(testEvent()))
}
