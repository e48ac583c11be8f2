package violation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the review disposition of a stored violation record.
type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
)

// ParseStatus validates a status string coming in over the wire.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPendingReview:
		return StatusPendingReview, nil
	case StatusApproved:
		return StatusApproved, nil
	case StatusRejected:
		return StatusRejected, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

const (
	TypeNoHelmet = "no_helmet"
)

// Event is a detected violation together with its evidence image.
// Immutable once constructed; ownership passes to the ingestion client
// when the rule engine emits it.
type Event struct {
	ViolationType string
	DetectedAt    time.Time
	GPS           string
	CameraID      string
	PlateNumber   string
	RiderCount    int
	Evidence      []byte // JPEG bytes
}

// Payload is the JSON document carried in the multipart submission.
type Payload struct {
	ViolationType string `json:"violation_type"`
	Timestamp     string `json:"timestamp"`
	GPS           string `json:"gps"`
	CameraID      string `json:"camera_id"`
	PlateNumber   string `json:"plate_number,omitempty"`
	RiderCount    int    `json:"rider_count,omitempty"`
}

// WirePayload converts an event to its wire representation.
func (e *Event) WirePayload() Payload {
	return Payload{
		ViolationType: e.ViolationType,
		Timestamp:     e.DetectedAt.Format(time.RFC3339),
		GPS:           e.GPS,
		CameraID:      e.CameraID,
		PlateNumber:   e.PlateNumber,
		RiderCount:    e.RiderCount,
	}
}

// ParseTimestamp accepts both RFC 3339 and the bare ISO-8601 form
// cameras in the field send (no zone designator).
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t, nil
}

// ParseGPS validates a "lat,lon" coordinate pair.
func ParseGPS(s string) (lat, lon float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid gps %q: want \"lat,lon\"", s)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid gps latitude %q", parts[0])
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid gps longitude %q", parts[1])
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("gps %q out of range", s)
	}
	return lat, lon, nil
}
