// Package pipeline runs the per-stream frame loop: detect, fuse,
// evaluate, hand emitted events to the ingestion client. One pipeline
// per camera stream; track state is never shared between streams.
package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"traffic-violation/internal/domain/violation"
	"traffic-violation/internal/fusion"
	"traffic-violation/internal/plate"
	"traffic-violation/internal/rules"
	"traffic-violation/internal/vision"
)

// Submitter takes ownership of an emitted event. It must not block.
type Submitter interface {
	Submit(ev *violation.Event) bool
}

type Pipeline struct {
	detector  vision.Detector
	reader    plate.Reader
	fuser     *fusion.Fuser
	engine    *rules.Engine
	submitter Submitter
	stride    int
	log       zerolog.Logger
}

// New assembles a pipeline. stride > 1 processes every Nth frame only.
func New(detector vision.Detector, reader plate.Reader, fuser *fusion.Fuser, engine *rules.Engine, submitter Submitter, stride int, log zerolog.Logger) *Pipeline {
	if stride < 1 {
		stride = 1
	}
	return &Pipeline{
		detector:  detector,
		reader:    reader,
		fuser:     fuser,
		engine:    engine,
		submitter: submitter,
		stride:    stride,
		log:       log,
	}
}

// Run consumes frames until the channel closes or the context is
// cancelled. Frames are processed strictly in order; a frame is fully
// fused and evaluated before the next is read.
func (p *Pipeline) Run(ctx context.Context, frames <-chan *vision.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if f.Index%p.stride != 0 {
				continue
			}
			p.processFrame(ctx, f)
		}
	}
}

func (p *Pipeline) processFrame(ctx context.Context, f *vision.Frame) {
	dets, err := p.detector.Detect(ctx, f)
	if err != nil {
		p.log.Error().Err(err).Int("frame", f.Index).Msg("detection failed, frame skipped")
		return
	}

	visible, plateRequests := p.fuser.Update(f.Index, dets)

	for _, req := range plateRequests {
		crop, err := vision.Crop(f.Image, req.Box)
		if err != nil {
			p.log.Warn().Err(err).Int64("track_id", req.TrackID).Msg("plate crop failed")
			continue
		}
		tokens, err := p.reader.Read(ctx, crop)
		if err != nil {
			p.log.Warn().Err(err).Int64("track_id", req.TrackID).Msg("plate read failed")
			continue
		}
		p.fuser.RecordPlate(req.TrackID, tokens)
	}

	for _, ts := range visible {
		ev, err := p.engine.Evaluate(ts, f)
		if err != nil {
			p.log.Warn().Err(err).Int64("track_id", ts.TrackID).Msg("evaluation failed")
			continue
		}
		if ev != nil {
			p.submitter.Submit(ev)
		}
	}
}
