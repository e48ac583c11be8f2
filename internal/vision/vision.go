package vision

import (
	"context"
	"fmt"
	"image"
	"time"
)

// Class labels the perception models emit. The general model yields
// persons and vehicles (with track ids); the custom model yields helmet
// state and plate regions inside a vehicle's area.
const (
	LabelPerson        = "person"
	LabelMotorcycle    = "motorcycle"
	LabelWithHelmet    = "with helmet"
	LabelWithoutHelmet = "without helmet"
	LabelPlate         = "plate"
)

// Box is an axis-aligned bounding box in frame pixel coordinates.
type Box struct {
	X1, Y1, X2, Y2 float64
}

func (b Box) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

func (b Box) Width() float64  { return b.X2 - b.X1 }
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

func (b Box) Center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Contains reports whether the point lies within the box, inclusive on
// both axes.
func (b Box) Contains(x, y float64) bool {
	return x >= b.X1 && x <= b.X2 && y >= b.Y1 && y <= b.Y2
}

// Rect converts the box to an image.Rectangle, rounding outward.
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2+0.5), int(b.Y2+0.5))
}

// Detection is one object found in a single frame. TrackID is zero for
// classes the tracker does not follow (persons, sub-detections).
type Detection struct {
	Label      string
	Box        Box
	Confidence float64
	TrackID    int64
}

// Frame is one decoded video frame handed to the pipeline.
type Frame struct {
	Index int
	Time  time.Time
	Image image.Image
}

// Detector is the boundary to the external perception capability. Per
// frame it yields every detected object; vehicle detections carry a
// track id that persists until the object leaves the scene.
type Detector interface {
	Detect(ctx context.Context, f *Frame) ([]Detection, error)
}

// IsVehicle reports whether the label is a tracked vehicle class.
func IsVehicle(label string) bool {
	return label == LabelMotorcycle
}

// IsSubDetection reports whether the label comes from the per-vehicle
// sub-detector (helmet state, plate region).
func IsSubDetection(label string) bool {
	switch label {
	case LabelWithHelmet, LabelWithoutHelmet, LabelPlate:
		return true
	}
	return false
}

// Crop extracts the box region from the frame image. The region is
// clamped to frame bounds; an error is returned when nothing remains.
func Crop(img image.Image, b Box) (image.Image, error) {
	r := b.Rect().Intersect(img.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("crop %v outside frame bounds %v", b, img.Bounds())
	}
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	si, ok := img.(subImager)
	if !ok {
		return nil, fmt.Errorf("frame image %T does not support cropping", img)
	}
	return si.SubImage(r), nil
}
