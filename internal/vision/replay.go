package vision

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"time"

	"traffic-violation/internal/plate"
)

// FrameRecord is one line of a replay file: the detections an earlier
// inference run produced for a single frame, plus the frame image path
// (relative to the replay file).
type FrameRecord struct {
	Frame   int               `json:"frame"`
	Image   string            `json:"image"`
	Objects []DetectionRecord `json:"objects"`
}

// DetectionRecord is the JSON form of a Detection. Plate records may
// carry the OCR tokens the original run produced for that region.
type DetectionRecord struct {
	Label      string        `json:"label"`
	Box        [4]float64    `json:"box"`
	Confidence float64       `json:"confidence"`
	TrackID    int64         `json:"track_id,omitempty"`
	Tokens     []TokenRecord `json:"tokens,omitempty"`
}

// TokenRecord is one recorded OCR token.
type TokenRecord struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Replay serves recorded detections, standing in for the live
// perception models and the OCR engine. It implements Detector keyed
// by frame index and doubles as the frame source for the pipeline.
type Replay struct {
	dir     string
	records map[int]*FrameRecord
	order   []int

	// tokens recorded for the plate regions of the last served frame,
	// keyed by region rectangle (SubImage crops keep frame coordinates)
	frameTokens map[image.Rectangle][]plate.Token
}

// LoadReplay reads a JSON-lines replay file.
func LoadReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()

	r := &Replay{
		dir:     filepath.Dir(path),
		records: make(map[int]*FrameRecord),
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec FrameRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("replay line %d: %w", line, err)
		}
		r.records[rec.Frame] = &rec
		r.order = append(r.order, rec.Frame)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read replay: %w", err)
	}
	return r, nil
}

// Frames streams the recorded frames in file order. The channel closes
// when the recording ends or the context is cancelled.
func (r *Replay) Frames(ctx context.Context) <-chan *Frame {
	out := make(chan *Frame)
	go func() {
		defer close(out)
		for _, idx := range r.order {
			rec := r.records[idx]
			img, err := r.loadImage(rec.Image)
			if err != nil {
				// A missing frame image invalidates its detections too.
				continue
			}
			f := &Frame{Index: idx, Time: time.Now(), Image: img}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Detect returns the recorded detections for the frame.
func (r *Replay) Detect(_ context.Context, f *Frame) ([]Detection, error) {
	rec, ok := r.records[f.Index]
	if !ok {
		return nil, nil
	}
	r.frameTokens = make(map[image.Rectangle][]plate.Token)
	out := make([]Detection, 0, len(rec.Objects))
	for _, o := range rec.Objects {
		d := Detection{
			Label:      o.Label,
			Box:        Box{X1: o.Box[0], Y1: o.Box[1], X2: o.Box[2], Y2: o.Box[3]},
			Confidence: o.Confidence,
			TrackID:    o.TrackID,
		}
		if o.Label == LabelPlate && len(o.Tokens) > 0 {
			tokens := make([]plate.Token, 0, len(o.Tokens))
			for _, t := range o.Tokens {
				tokens = append(tokens, plate.Token{Text: t.Text, Confidence: t.Confidence})
			}
			r.frameTokens[d.Box.Rect()] = tokens
		}
		out = append(out, d)
	}
	return out, nil
}

// Read serves the tokens recorded for the requested plate region of
// the current frame. Crops made with SubImage keep frame coordinates,
// so the region's bounds identify the plate record.
func (r *Replay) Read(_ context.Context, region image.Image) ([]plate.Token, error) {
	bounds := region.Bounds()
	if tokens, ok := r.frameTokens[bounds]; ok {
		return tokens, nil
	}
	for rect, tokens := range r.frameTokens {
		if bounds.Overlaps(rect) {
			return tokens, nil
		}
	}
	return nil, nil
}

func (r *Replay) loadImage(rel string) (image.Image, error) {
	f, err := os.Open(filepath.Join(r.dir, rel))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
