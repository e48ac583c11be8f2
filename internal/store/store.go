// Package store owns the durable violation records and their review
// state machine: pending_review -> approved | rejected, both terminal.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"traffic-violation/internal/domain/violation"
)

var (
	ErrValidation        = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("record already reviewed")
	ErrStorage           = errors.New("storage failure")
)

// Record is one accepted violation. EventID is assigned by the store,
// strictly increasing across ingestions. Records are never deleted;
// rejection is a terminal status, not a removal.
type Record struct {
	EventID       int64            `json:"event_id"`
	ViolationType string           `json:"violation_type"`
	DetectedAt    time.Time        `json:"timestamp"`
	GPS           string           `json:"gps"`
	CameraID      string           `json:"camera_id"`
	PlateNumber   string           `json:"plate_number,omitempty"`
	RiderCount    int              `json:"rider_count,omitempty"`
	EvidenceURI   string           `json:"evidence_uri"`
	Status        violation.Status `json:"status"`
	RawPayload    json.RawMessage  `json:"-"`
	CreatedAt     time.Time        `json:"created_at"`
	ReviewedAt    *time.Time       `json:"reviewed_at,omitempty"`
}

// Store persists violation records.
//
// Implementations must serialize ingest and review per event id (no
// two reviewers may settle the same record) while allowing distinct
// ids to proceed concurrently. Listing is a snapshot and never returns
// a record mid-transition.
type Store interface {
	// Ingest assigns the next event id, stamps the record
	// pending_review, and persists it.
	Ingest(ctx context.Context, rec *Record) (*Record, error)
	// ListByStatus returns records with the given status in ingestion
	// order, oldest first.
	ListByStatus(ctx context.Context, status violation.Status) ([]*Record, error)
	// Review moves a pending record to its terminal status. It fails
	// with ErrNotFound for unknown ids and ErrInvalidTransition when
	// the record is no longer pending.
	Review(ctx context.Context, eventID int64, decision violation.Status) (*Record, error)
}
