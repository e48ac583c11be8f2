package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS violations (
		event_id        BIGSERIAL PRIMARY KEY,
		violation_type  TEXT NOT NULL,
		detected_at     TIMESTAMPTZ NOT NULL,
		gps             TEXT NOT NULL,
		camera_id       TEXT NOT NULL,
		plate_number    TEXT,
		rider_count     INT,
		evidence_uri    TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending_review',
		raw_payload     JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		reviewed_at     TIMESTAMPTZ
	);`,
	`CREATE INDEX IF NOT EXISTS idx_violations_status ON violations(status);`,
	`CREATE INDEX IF NOT EXISTS idx_violations_camera_id ON violations(camera_id);`,
	`CREATE INDEX IF NOT EXISTS idx_violations_detected_at ON violations(detected_at);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
