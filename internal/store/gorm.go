package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"traffic-violation/internal/domain/violation"
)

// GormStore is the durable Store backed by Postgres.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

type violationRow struct {
	EventID       int64     `gorm:"column:event_id;primaryKey;autoIncrement"`
	ViolationType string    `gorm:"not null"`
	DetectedAt    time.Time `gorm:"column:detected_at;not null"`
	GPS           string    `gorm:"column:gps;not null"`
	CameraID      string    `gorm:"not null"`
	PlateNumber   *string
	RiderCount    *int
	EvidenceURI   string `gorm:"column:evidence_uri;not null"`
	Status        string `gorm:"not null;index"`
	RawPayload    datatypes.JSON
	CreatedAt     time.Time
	ReviewedAt    *time.Time
}

func (violationRow) TableName() string { return "violations" }

func (s *GormStore) Ingest(ctx context.Context, rec *Record) (*Record, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", ErrValidation)
	}
	row := violationRow{
		ViolationType: rec.ViolationType,
		DetectedAt:    rec.DetectedAt,
		GPS:           rec.GPS,
		CameraID:      rec.CameraID,
		EvidenceURI:   rec.EvidenceURI,
		Status:        string(violation.StatusPendingReview),
		CreatedAt:     time.Now(),
	}
	if rec.PlateNumber != "" {
		row.PlateNumber = &rec.PlateNumber
	}
	if rec.RiderCount != 0 {
		row.RiderCount = &rec.RiderCount
	}
	if len(rec.RawPayload) > 0 {
		row.RawPayload = datatypes.JSON(rec.RawPayload)
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("%w: create violation: %v", ErrStorage, err)
	}
	return rowToRecord(&row), nil
}

func (s *GormStore) ListByStatus(ctx context.Context, status violation.Status) ([]*Record, error) {
	var rows []violationRow
	err := s.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("event_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list violations: %v", ErrStorage, err)
	}
	out := make([]*Record, 0, len(rows))
	for i := range rows {
		out = append(out, rowToRecord(&rows[i]))
	}
	return out, nil
}

// Review is a compare-and-set on status so concurrent reviewers can
// never both settle the same record.
func (s *GormStore) Review(ctx context.Context, eventID int64, decision violation.Status) (*Record, error) {
	if decision != violation.StatusApproved && decision != violation.StatusRejected {
		return nil, fmt.Errorf("%w: decision %q", ErrValidation, decision)
	}

	var row violationRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&violationRow{}).
			Where("event_id = ? AND status = ?", eventID, string(violation.StatusPendingReview)).
			Updates(map[string]interface{}{
				"status":      string(decision),
				"reviewed_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("%w: update status: %v", ErrStorage, res.Error)
		}
		if res.RowsAffected == 0 {
			err := tx.Where("event_id = ?", eventID).First(&violationRow{}).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: event %d", ErrNotFound, eventID)
			}
			if err != nil {
				return fmt.Errorf("%w: lookup event %d: %v", ErrStorage, eventID, err)
			}
			return fmt.Errorf("%w: event %d", ErrInvalidTransition, eventID)
		}
		return tx.Where("event_id = ?", eventID).First(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return rowToRecord(&row), nil
}

func rowToRecord(row *violationRow) *Record {
	rec := &Record{
		EventID:       row.EventID,
		ViolationType: row.ViolationType,
		DetectedAt:    row.DetectedAt,
		GPS:           row.GPS,
		CameraID:      row.CameraID,
		EvidenceURI:   row.EvidenceURI,
		Status:        violation.Status(row.Status),
		CreatedAt:     row.CreatedAt,
		ReviewedAt:    row.ReviewedAt,
	}
	if row.PlateNumber != nil {
		rec.PlateNumber = *row.PlateNumber
	}
	if row.RiderCount != nil {
		rec.RiderCount = *row.RiderCount
	}
	if len(row.RawPayload) > 0 {
		rec.RawPayload = []byte(row.RawPayload)
	}
	return rec
}
