package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-violation/internal/domain/violation"
	"traffic-violation/internal/fusion"
	"traffic-violation/internal/plate"
	"traffic-violation/internal/rules"
	"traffic-violation/internal/vision"
)

// scriptedDetector replays a fixed detection set per frame index.
type scriptedDetector struct {
	frames map[int][]vision.Detection
	calls  []int
	errAt  int
}

func (d *scriptedDetector) Detect(_ context.Context, f *vision.Frame) ([]vision.Detection, error) {
	d.calls = append(d.calls, f.Index)
	if d.errAt != 0 && f.Index == d.errAt {
		return nil, errors.New("inference backend unavailable")
	}
	return d.frames[f.Index], nil
}

type captureSubmitter struct {
	mu     sync.Mutex
	events []*violation.Event
}

func (c *captureSubmitter) Submit(ev *violation.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return true
}

func frameChan(count int) <-chan *vision.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	ch := make(chan *vision.Frame, count)
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		ch <- &vision.Frame{Index: i, Time: base.Add(time.Duration(i) * 33 * time.Millisecond), Image: img}
	}
	close(ch)
	return ch
}

// riderScene is a motorcycle with one rider without a helmet and a
// readable plate, visible on every frame.
func riderScene() []vision.Detection {
	return []vision.Detection{
		{Label: vision.LabelMotorcycle, Box: vision.Box{X1: 100, Y1: 80, X2: 220, Y2: 200}, Confidence: 0.9, TrackID: 7},
		{Label: vision.LabelPerson, Box: vision.Box{X1: 120, Y1: 90, X2: 180, Y2: 170}, Confidence: 0.8},
		{Label: vision.LabelWithoutHelmet, Box: vision.Box{X1: 130, Y1: 92, X2: 160, Y2: 120}, Confidence: 0.7},
		{Label: vision.LabelPlate, Box: vision.Box{X1: 140, Y1: 170, X2: 190, Y2: 195}, Confidence: 0.6},
	}
}

func newPipeline(det vision.Detector, reader plate.Reader, sub Submitter, stride int) *Pipeline {
	fuser := fusion.New(fusion.Config{EvictionGap: 30, PlateMinConfidence: 0.4}, zerolog.Nop())
	engine := rules.NewEngine(rules.Config{CameraID: "local_cam_01", GPS: "12.9716,77.5946"}, nil, zerolog.Nop())
	return New(det, reader, fuser, engine, sub, stride, zerolog.Nop())
}

func TestRunEmitsOneEventPerTrack(t *testing.T) {
	det := &scriptedDetector{frames: map[int][]vision.Detection{}}
	for i := 0; i < 30; i++ {
		det.frames[i] = riderScene()
	}
	reader := plate.NewQueueReader([]plate.Token{{Text: "ka01 ab1234", Confidence: 0.92}})
	sub := &captureSubmitter{}

	p := newPipeline(det, reader, sub, 1)
	require.NoError(t, p.Run(context.Background(), frameChan(30)))

	require.Len(t, sub.events, 1, "same track must be reported once, not per frame")
	ev := sub.events[0]
	assert.Equal(t, violation.TypeNoHelmet, ev.ViolationType)
	assert.Equal(t, "local_cam_01", ev.CameraID)
	assert.Equal(t, "12.9716,77.5946", ev.GPS)
	assert.Equal(t, "KA01AB1234", ev.PlateNumber)
	assert.Equal(t, 1, ev.RiderCount)
	assert.NotEmpty(t, ev.Evidence)
}

func TestRunStrideSkipsFrames(t *testing.T) {
	det := &scriptedDetector{frames: map[int][]vision.Detection{}}
	sub := &captureSubmitter{}

	p := newPipeline(det, plate.NewQueueReader(), sub, 3)
	require.NoError(t, p.Run(context.Background(), frameChan(10)))

	assert.Equal(t, []int{0, 3, 6, 9}, det.calls)
}

func TestRunSkipsFrameOnDetectorError(t *testing.T) {
	det := &scriptedDetector{frames: map[int][]vision.Detection{}, errAt: 1}
	for i := 0; i < 5; i++ {
		det.frames[i] = riderScene()
	}
	sub := &captureSubmitter{}

	p := newPipeline(det, plate.NewQueueReader(), sub, 1)
	require.NoError(t, p.Run(context.Background(), frameChan(5)))

	// The failed frame is dropped; later frames still report the track.
	assert.Len(t, sub.events, 1)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, det.calls)
}

func TestRunHonorsContextCancel(t *testing.T) {
	det := &scriptedDetector{frames: map[int][]vision.Detection{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newPipeline(det, plate.NewQueueReader(), &captureSubmitter{}, 1)
	ch := make(chan *vision.Frame) // never fed
	err := p.Run(ctx, ch)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunWithHelmetEmitsNothing(t *testing.T) {
	scene := []vision.Detection{
		{Label: vision.LabelMotorcycle, Box: vision.Box{X1: 100, Y1: 80, X2: 220, Y2: 200}, TrackID: 3},
		{Label: vision.LabelPerson, Box: vision.Box{X1: 120, Y1: 90, X2: 180, Y2: 170}},
		{Label: vision.LabelWithHelmet, Box: vision.Box{X1: 130, Y1: 92, X2: 160, Y2: 120}},
	}
	det := &scriptedDetector{frames: map[int][]vision.Detection{}}
	for i := 0; i < 10; i++ {
		det.frames[i] = scene
	}
	sub := &captureSubmitter{}

	p := newPipeline(det, plate.NewQueueReader(), sub, 1)
	require.NoError(t, p.Run(context.Background(), frameChan(10)))
	assert.Empty(t, sub.events)
}
