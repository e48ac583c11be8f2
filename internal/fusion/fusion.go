// Package fusion folds noisy per-frame detections into one stable state
// per tracked vehicle: occupancy, helmet state, and best plate reading.
// It never performs I/O; OCR is requested from and reported back by the
// frame loop.
package fusion

import (
	"github.com/rs/zerolog"

	"traffic-violation/internal/plate"
	"traffic-violation/internal/vision"
)

// HelmetState is the fused helmet condition of a track.
type HelmetState string

const (
	HelmetUnknown HelmetState = "unknown"
	WithHelmet    HelmetState = "with_helmet"
	WithoutHelmet HelmetState = "without_helmet"
)

// TrackState is the fused state of one active vehicle track. Owned by
// the single-goroutine pipeline of its stream.
type TrackState struct {
	TrackID         int64
	LastBox         vision.Box
	RiderCount      int
	Helmet          HelmetState
	PlateText       string
	PlateConfidence float64

	// Reported flips false->true at most once per track lifetime; the
	// rule engine owns the flip.
	Reported  bool
	Evaluated bool

	FirstSeenFrame int
	LastSeenFrame  int
}

// Config carries the fusion thresholds.
type Config struct {
	// EvictionGap is how many frames a track may go unseen before its
	// state is released.
	EvictionGap int
	// PlateMinConfidence is the per-token OCR confidence floor.
	PlateMinConfidence float64
	// PlateMinCropPx is the minimum plate-region edge length worth
	// sending to the OCR engine.
	PlateMinCropPx int
}

// PlateRequest asks the frame loop to OCR a plate region for a track.
type PlateRequest struct {
	TrackID int64
	Box     vision.Box
}

// Fuser owns the TrackState table for one video stream.
type Fuser struct {
	cfg    Config
	tracks map[int64]*TrackState
	log    zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Fuser {
	if cfg.EvictionGap <= 0 {
		cfg.EvictionGap = 30
	}
	if cfg.PlateMinCropPx <= 0 {
		cfg.PlateMinCropPx = 16
	}
	return &Fuser{
		cfg:    cfg,
		tracks: make(map[int64]*TrackState),
		log:    log,
	}
}

// Update folds one frame's detections into the track table. It returns
// the states of the vehicles visible this frame and the plate regions
// the caller should OCR. A malformed detection is logged and skipped;
// it never aborts the rest of the frame.
func (f *Fuser) Update(frame int, dets []vision.Detection) ([]*TrackState, []PlateRequest) {
	var persons, vehicles, subs []vision.Detection
	for _, d := range dets {
		if !d.Box.Valid() {
			f.log.Warn().
				Str("label", d.Label).
				Int64("track_id", d.TrackID).
				Interface("box", d.Box).
				Msg("skipping malformed detection box")
			continue
		}
		switch {
		case d.Label == vision.LabelPerson:
			persons = append(persons, d)
		case vision.IsVehicle(d.Label):
			if d.TrackID != 0 {
				vehicles = append(vehicles, d)
			}
		case vision.IsSubDetection(d.Label):
			subs = append(subs, d)
		}
	}

	visible := make([]*TrackState, 0, len(vehicles))
	var requests []PlateRequest
	for _, v := range vehicles {
		ts, ok := f.tracks[v.TrackID]
		if !ok {
			ts = &TrackState{
				TrackID:        v.TrackID,
				Helmet:         HelmetUnknown,
				FirstSeenFrame: frame,
			}
			f.tracks[v.TrackID] = ts
			f.log.Debug().Int64("track_id", v.TrackID).Int("frame", frame).Msg("new track")
		}
		ts.LastSeenFrame = frame
		ts.LastBox = v.Box

		// Occupancy reflects this frame only, never a running total.
		ts.RiderCount = countRiders(v.Box, persons)

		if req := f.fuseSubDetections(ts, v.Box, subs); req != nil {
			requests = append(requests, *req)
		}
		visible = append(visible, ts)
	}

	f.evict(frame)
	return visible, requests
}

// RecordPlate reports an OCR result back for a track. The filtered
// reading is kept only when it beats the best confidence seen so far.
func (f *Fuser) RecordPlate(trackID int64, tokens []plate.Token) {
	ts, ok := f.tracks[trackID]
	if !ok {
		return
	}
	text, conf := plate.Fuse(tokens, f.cfg.PlateMinConfidence)
	if ts.PlateText == "" || conf > ts.PlateConfidence {
		ts.PlateText = text
		ts.PlateConfidence = conf
		f.log.Debug().
			Int64("track_id", trackID).
			Str("plate", text).
			Float64("confidence", conf).
			Msg("plate candidate updated")
	}
}

// Track returns the state for a track id, or nil if unknown or evicted.
func (f *Fuser) Track(id int64) *TrackState {
	return f.tracks[id]
}

// ActiveTracks reports how many tracks are currently held.
func (f *Fuser) ActiveTracks() int {
	return len(f.tracks)
}

func (f *Fuser) fuseSubDetections(ts *TrackState, vehicle vision.Box, subs []vision.Detection) *PlateRequest {
	var req *PlateRequest
	for _, s := range subs {
		cx, cy := s.Box.Center()
		if !vehicle.Contains(cx, cy) {
			continue
		}
		switch s.Label {
		case vision.LabelWithoutHelmet:
			// Sticky-dominant: the riskier condition wins for the rest
			// of the track lifetime.
			ts.Helmet = WithoutHelmet
		case vision.LabelWithHelmet:
			if ts.Helmet != WithoutHelmet {
				ts.Helmet = WithHelmet
			}
		case vision.LabelPlate:
			if ts.PlateConfidence > 0 {
				continue // already have a confident reading
			}
			min := float64(f.cfg.PlateMinCropPx)
			if s.Box.Width() < min || s.Box.Height() < min {
				continue
			}
			if req == nil {
				req = &PlateRequest{TrackID: ts.TrackID, Box: s.Box}
			}
		}
	}
	return req
}

func (f *Fuser) evict(frame int) {
	for id, ts := range f.tracks {
		if frame-ts.LastSeenFrame > f.cfg.EvictionGap {
			delete(f.tracks, id)
			f.log.Debug().
				Int64("track_id", id).
				Int("last_seen", ts.LastSeenFrame).
				Bool("reported", ts.Reported).
				Msg("track evicted")
		}
	}
}

func countRiders(vehicle vision.Box, persons []vision.Detection) int {
	n := 0
	for _, p := range persons {
		cx, cy := p.Box.Center()
		if vehicle.Contains(cx, cy) {
			n++
		}
	}
	return n
}
