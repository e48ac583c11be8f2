// Package rules decides whether a fused track state constitutes a
// reportable violation and builds the violation event with its
// evidence crop.
package rules

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"

	"traffic-violation/internal/domain/violation"
	"traffic-violation/internal/fusion"
	"traffic-violation/internal/plate"
	"traffic-violation/internal/vision"
)

// Observer is notified once per track when its helmet state first
// resolves, regardless of the outcome. Used for the observation log.
type Observer interface {
	TrackEvaluated(ts *fusion.TrackState, at time.Time)
}

// Config carries the engine's emission parameters.
type Config struct {
	CameraID string
	GPS      string
	// EvidencePaddingPx widens the vehicle box before cropping.
	EvidencePaddingPx int
	// MaxEvidenceWidth downscales wider crops before encoding.
	MaxEvidenceWidth int
	JPEGQuality      int
}

// Engine is the per-track violation state machine. Each track moves
// from unevaluated to evaluated exactly once; a no-helmet resolution
// emits exactly one event per track lifetime.
type Engine struct {
	cfg      Config
	observer Observer
	log      zerolog.Logger
}

func NewEngine(cfg Config, observer Observer, log zerolog.Logger) *Engine {
	if cfg.EvidencePaddingPx <= 0 {
		cfg.EvidencePaddingPx = 20
	}
	if cfg.MaxEvidenceWidth <= 0 {
		cfg.MaxEvidenceWidth = 1280
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}
	return &Engine{cfg: cfg, observer: observer, log: log}
}

// Evaluate inspects one visible track against the current frame. It
// returns a violation event the first time a track resolves to
// without-helmet, and nil in every other case. Re-evaluating a reported
// track is a no-op.
func (e *Engine) Evaluate(ts *fusion.TrackState, f *vision.Frame) (*violation.Event, error) {
	if ts.Helmet == fusion.HelmetUnknown {
		return nil, nil
	}

	if !ts.Evaluated {
		ts.Evaluated = true
		e.log.Info().
			Int64("track_id", ts.TrackID).
			Str("helmet", string(ts.Helmet)).
			Str("plate", e.plateNumber(ts)).
			Int("riders", ts.RiderCount).
			Msg("track evaluated")
		if e.observer != nil {
			e.observer.TrackEvaluated(ts, f.Time)
		}
	}

	if ts.Helmet != fusion.WithoutHelmet || ts.Reported {
		return nil, nil
	}

	evidence, err := e.evidenceJPEG(f, ts.LastBox)
	if err != nil {
		// Leave Reported unset so a later frame can retry the crop.
		return nil, fmt.Errorf("evidence crop for track %d: %w", ts.TrackID, err)
	}
	ts.Reported = true

	ev := &violation.Event{
		ViolationType: violation.TypeNoHelmet,
		DetectedAt:    f.Time,
		GPS:           e.cfg.GPS,
		CameraID:      e.cfg.CameraID,
		PlateNumber:   e.plateNumber(ts),
		RiderCount:    ts.RiderCount,
		Evidence:      evidence,
	}
	e.log.Info().
		Int64("track_id", ts.TrackID).
		Str("plate", ev.PlateNumber).
		Int("riders", ev.RiderCount).
		Int("evidence_bytes", len(evidence)).
		Msg("violation emitted")
	return ev, nil
}

func (e *Engine) plateNumber(ts *fusion.TrackState) string {
	if ts.PlateText == "" {
		return plate.NotDetected
	}
	return ts.PlateText
}

// evidenceJPEG crops the vehicle region padded by a fixed margin,
// clamped to frame bounds, and encodes it as JPEG. Oversized crops are
// downscaled to keep submissions small.
func (e *Engine) evidenceJPEG(f *vision.Frame, b vision.Box) ([]byte, error) {
	pad := float64(e.cfg.EvidencePaddingPx)
	padded := vision.Box{
		X1: b.X1 - pad,
		Y1: b.Y1 - pad,
		X2: b.X2 + pad,
		Y2: b.Y2 + pad,
	}
	crop, err := vision.Crop(f.Image, padded)
	if err != nil {
		return nil, err
	}

	src := crop.Bounds()
	w, h := src.Dx(), src.Dy()
	if w > e.cfg.MaxEvidenceWidth {
		h = h * e.cfg.MaxEvidenceWidth / w
		w = e.cfg.MaxEvidenceWidth
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == src.Dx() {
		xdraw.Copy(dst, image.Point{}, crop, src, xdraw.Src, nil)
	} else {
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), crop, src, xdraw.Src, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: e.cfg.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode evidence: %w", err)
	}
	return buf.Bytes(), nil
}
