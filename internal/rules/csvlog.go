package rules

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"traffic-violation/internal/fusion"
)

var csvHeader = []string{"Timestamp", "Plate Number", "Helmet Status", "Person Count"}

// CSVLog appends one row per evaluated track to a local observation
// log, covering both helmet outcomes.
type CSVLog struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// NewCSVLog opens (or creates) the log file, writing the header only
// when the file is new.
func NewCSVLog(path string) (*CSVLog, error) {
	info, err := os.Stat(path)
	fresh := err != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open observation log: %w", err)
	}
	l := &CSVLog{f: f, w: csv.NewWriter(f)}
	if fresh {
		if err := l.w.Write(csvHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("write observation log header: %w", err)
		}
		l.w.Flush()
	}
	return l, nil
}

func (l *CSVLog) TrackEvaluated(ts *fusion.TrackState, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	plateText := ts.PlateText
	if plateText == "" {
		plateText = "Not Detected"
	}
	_ = l.w.Write([]string{
		at.Format(time.RFC3339),
		plateText,
		string(ts.Helmet),
		strconv.Itoa(ts.RiderCount),
	})
	l.w.Flush()
}

func (l *CSVLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	return l.f.Close()
}
