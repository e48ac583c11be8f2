package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"traffic-violation/internal/domain/violation"
)

// MemoryStore keeps records in process memory. It backs tests and
// single-node deployments without a database; callers only ever see
// copies, never the underlying container.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records []*Record
	byID    map[int64]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[int64]*Record)}
}

func (s *MemoryStore) Ingest(_ context.Context, rec *Record) (*Record, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	stored := *rec
	stored.EventID = s.nextID
	stored.Status = violation.StatusPendingReview
	stored.CreatedAt = time.Now()
	stored.ReviewedAt = nil

	s.records = append(s.records, &stored)
	s.byID[stored.EventID] = &stored

	out := stored
	return &out, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status violation.Status) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		if r.Status != status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Review(_ context.Context, eventID int64, decision violation.Status) (*Record, error) {
	if decision != violation.StatusApproved && decision != violation.StatusRejected {
		return nil, fmt.Errorf("%w: decision %q", ErrValidation, decision)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[eventID]
	if !ok {
		return nil, fmt.Errorf("%w: event %d", ErrNotFound, eventID)
	}
	if r.Status != violation.StatusPendingReview {
		return nil, fmt.Errorf("%w: event %d is %s", ErrInvalidTransition, eventID, r.Status)
	}
	now := time.Now()
	r.Status = decision
	r.ReviewedAt = &now

	out := *r
	return &out, nil
}
