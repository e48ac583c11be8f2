package store

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-violation/internal/domain/violation"
)

func testRecord(camera string) *Record {
	return &Record{
		ViolationType: violation.TypeNoHelmet,
		DetectedAt:    time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		GPS:           "12.9716,77.5946",
		CameraID:      camera,
		EvidenceURI:   "uploads/evidence.jpg",
	}
}

func TestIngestAssignsIncreasingIDs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.Ingest(ctx, testRecord("cam_01"))
	require.NoError(t, err)
	second, err := s.Ingest(ctx, testRecord("cam_02"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.EventID)
	assert.Equal(t, int64(2), second.EventID)
	assert.Equal(t, violation.StatusPendingReview, first.Status)
	assert.False(t, first.CreatedAt.IsZero())
}

func TestIngestConcurrentIDsUnique(t *testing.T) {
	s := NewMemoryStore()
	const n = 100

	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := s.Ingest(context.Background(), testRecord("cam_01"))
			if assert.NoError(t, err) {
				ids[i] = rec.EventID
			}
		}(i)
	}
	wg.Wait()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i := 0; i < n; i++ {
		assert.Equal(t, int64(i+1), ids[i], "ids must be unique and gapless")
	}
}

func TestListByStatusInsertionOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, cam := range []string{"a", "b", "c"} {
		_, err := s.Ingest(ctx, testRecord(cam))
		require.NoError(t, err)
	}

	pending, err := s.ListByStatus(ctx, violation.StatusPendingReview)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "a", pending[0].CameraID)
	assert.Equal(t, "b", pending[1].CameraID)
	assert.Equal(t, "c", pending[2].CameraID)
}

func TestReviewTransitions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec, err := s.Ingest(ctx, testRecord("cam_01"))
	require.NoError(t, err)

	approved, err := s.Review(ctx, rec.EventID, violation.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, violation.StatusApproved, approved.Status)
	require.NotNil(t, approved.ReviewedAt)

	// A reviewed record cannot be re-reviewed; status is untouched.
	_, err = s.Review(ctx, rec.EventID, violation.StatusRejected)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	all, err := s.ListByStatus(ctx, violation.StatusApproved)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, violation.StatusApproved, all[0].Status)
}

func TestReviewUnknownID(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Review(context.Background(), 99, violation.StatusApproved)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReviewRejectsBadDecision(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	rec, err := s.Ingest(ctx, testRecord("cam_01"))
	require.NoError(t, err)

	_, err = s.Review(ctx, rec.EventID, violation.StatusPendingReview)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListPendingExcludesReviewed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, _ := s.Ingest(ctx, testRecord("a"))
	b, _ := s.Ingest(ctx, testRecord("b"))
	_, _ = s.Ingest(ctx, testRecord("c"))

	_, err := s.Review(ctx, a.EventID, violation.StatusApproved)
	require.NoError(t, err)
	_, err = s.Review(ctx, b.EventID, violation.StatusRejected)
	require.NoError(t, err)

	pending, err := s.ListByStatus(ctx, violation.StatusPendingReview)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c", pending[0].CameraID)
}

func TestListReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Ingest(ctx, testRecord("cam_01"))
	require.NoError(t, err)

	pending, err := s.ListByStatus(ctx, violation.StatusPendingReview)
	require.NoError(t, err)
	pending[0].Status = violation.StatusApproved

	again, err := s.ListByStatus(ctx, violation.StatusPendingReview)
	require.NoError(t, err)
	assert.Len(t, again, 1, "mutating a returned record must not affect the store")
}
