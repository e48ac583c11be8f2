package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"time"

	"github.com/rs/zerolog"

	"traffic-violation/internal/challan"
	"traffic-violation/internal/domain/violation"
	"traffic-violation/internal/evidence"
	"traffic-violation/internal/store"
)

// ViolationService validates incoming submissions, persists them
// atomically with their evidence, and drives the review workflow.
type ViolationService struct {
	store    store.Store
	evidence evidence.Store
	trigger  challan.Trigger
	log      zerolog.Logger
}

func NewViolationService(st store.Store, ev evidence.Store, trigger challan.Trigger, log zerolog.Logger) *ViolationService {
	if trigger == nil {
		trigger = challan.Noop{}
	}
	return &ViolationService{
		store:    st,
		evidence: ev,
		trigger:  trigger,
		log:      log,
	}
}

// Ingest accepts one violation event plus its evidence image. Either
// both persist or neither does: a record failure removes the already
// written evidence file.
func (s *ViolationService) Ingest(ctx context.Context, payload violation.Payload, evidenceData []byte, filename string) (*store.Record, error) {
	if payload.ViolationType == "" {
		return nil, fmt.Errorf("%w: violation_type is required", store.ErrValidation)
	}
	if payload.CameraID == "" {
		return nil, fmt.Errorf("%w: camera_id is required", store.ErrValidation)
	}
	detectedAt, err := violation.ParseTimestamp(payload.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	if _, _, err := violation.ParseGPS(payload.GPS); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	if len(evidenceData) == 0 {
		return nil, fmt.Errorf("%w: evidence is empty", store.ErrValidation)
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(evidenceData)); err != nil {
		return nil, fmt.Errorf("%w: evidence is not a readable JPEG", store.ErrValidation)
	}

	uri, err := s.evidence.Save(ctx, filename, evidenceData)
	if err != nil {
		return nil, fmt.Errorf("%w: save evidence: %v", store.ErrStorage, err)
	}

	raw, _ := json.Marshal(payload)
	rec, err := s.store.Ingest(ctx, &store.Record{
		ViolationType: payload.ViolationType,
		DetectedAt:    detectedAt,
		GPS:           payload.GPS,
		CameraID:      payload.CameraID,
		PlateNumber:   payload.PlateNumber,
		RiderCount:    payload.RiderCount,
		EvidenceURI:   uri,
		RawPayload:    raw,
	})
	if err != nil {
		if rmErr := s.evidence.Remove(ctx, uri); rmErr != nil {
			s.log.Error().Err(rmErr).Str("uri", uri).Msg("failed to clean up orphaned evidence")
		}
		return nil, err
	}

	s.log.Info().
		Int64("event_id", rec.EventID).
		Str("violation_type", rec.ViolationType).
		Str("camera_id", rec.CameraID).
		Str("plate", rec.PlateNumber).
		Time("detected_at", rec.DetectedAt).
		Msg("violation ingested")
	return rec, nil
}

// ListByStatus returns records in ingestion order.
func (s *ViolationService) ListByStatus(ctx context.Context, status violation.Status) ([]*store.Record, error) {
	return s.store.ListByStatus(ctx, status)
}

// Review settles a pending record. On approval the downstream trigger
// fires after the status change commits; its failure is logged, never
// propagated.
func (s *ViolationService) Review(ctx context.Context, eventID int64, reviewStatus string) (*store.Record, error) {
	var decision violation.Status
	switch reviewStatus {
	case string(violation.StatusApproved):
		decision = violation.StatusApproved
	case string(violation.StatusRejected):
		decision = violation.StatusRejected
	default:
		return nil, fmt.Errorf("%w: review_status must be approved or rejected", store.ErrValidation)
	}

	rec, err := s.store.Review(ctx, eventID, decision)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("event_id", rec.EventID).
		Str("status", string(rec.Status)).
		Msg("violation reviewed")

	if decision == violation.StatusApproved {
		go func(rec store.Record) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := s.trigger.ViolationApproved(ctx, &rec); err != nil {
				s.log.Error().Err(err).Int64("event_id", rec.EventID).Msg("downstream trigger failed")
			}
		}(*rec)
	}
	return rec, nil
}
