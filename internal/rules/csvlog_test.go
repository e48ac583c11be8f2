package rules

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-violation/internal/fusion"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVLogWritesHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "violations_log.csv")
	l, err := NewCSVLog(path)
	require.NoError(t, err)

	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	l.TrackEvaluated(&fusion.TrackState{
		TrackID:    1,
		Helmet:     fusion.WithoutHelmet,
		PlateText:  "KA01AB1234",
		RiderCount: 2,
	}, at)
	l.TrackEvaluated(&fusion.TrackState{
		TrackID:    2,
		Helmet:     fusion.WithHelmet,
		RiderCount: 1,
	}, at.Add(time.Second))
	require.NoError(t, l.Close())

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Timestamp", "Plate Number", "Helmet Status", "Person Count"}, rows[0])
	assert.Equal(t, []string{"2024-01-01T10:00:00Z", "KA01AB1234", "without_helmet", "2"}, rows[1])
	assert.Equal(t, []string{"2024-01-01T10:00:01Z", "Not Detected", "with_helmet", "1"}, rows[2])
}

func TestCSVLogAppendsWithoutDuplicateHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "violations_log.csv")
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	l, err := NewCSVLog(path)
	require.NoError(t, err)
	l.TrackEvaluated(&fusion.TrackState{Helmet: fusion.WithoutHelmet, RiderCount: 1}, at)
	require.NoError(t, l.Close())

	// Reopening an existing log must append, not re-write the header.
	l, err = NewCSVLog(path)
	require.NoError(t, err)
	l.TrackEvaluated(&fusion.TrackState{Helmet: fusion.WithHelmet, RiderCount: 1}, at)
	require.NoError(t, l.Close())

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, "Timestamp", rows[0][0])
	assert.NotEqual(t, "Timestamp", rows[1][0])
	assert.NotEqual(t, "Timestamp", rows[2][0])
}
