package detector

import (
	"fmt"
	"time"
)

// BoundingBox is a detection in normalized frame coordinates.
type BoundingBox struct {
	X1         float32 `json:"x1"`
	Y1         float32 `json:"y1"`
	X2         float32 `json:"x2"`
	Y2         float32 `json:"y2"`
	Confidence float32 `json:"confidence"`
	ClassIndex int     `json:"classIndex"`
	ClassName  string  `json:"className"`
}

func (b BoundingBox) Width() float32  { return b.X2 - b.X1 }
func (b BoundingBox) Height() float32 { return b.Y2 - b.Y1 }

func (b BoundingBox) Area() float32 {
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return 0
	}
	return b.Width() * b.Height()
}

// IoU is the intersection over union of b and o, zero when they do not overlap.
func (b BoundingBox) IoU(o BoundingBox) float32 {
	return IoU(b, o)
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("%s %.2f [%.3f,%.3f %.3f,%.3f]", b.ClassName, b.Confidence, b.X1, b.Y1, b.X2, b.Y2)
}

// PixelFormat describes the layout of Frame.Data.
type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	FormatRGBA8888
	FormatRGB888
	FormatBGR888
)

// BytesPerPixel returns 0 for unsupported formats.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGBA8888:
		return 4
	case FormatRGB888, FormatBGR888:
		return 3
	}
	return 0
}

func (f PixelFormat) String() string {
	switch f {
	case FormatRGBA8888:
		return "RGBA8888"
	case FormatRGB888:
		return "RGB888"
	case FormatBGR888:
		return "BGR888"
	}
	return fmt.Sprintf("PixelFormat(%d)", int(f))
}

// Frame is a captured camera image plus the orientation the camera reported for it.
// Rotation is clockwise degrees; Mirrored is set for front facing cameras.
type Frame struct {
	Width    int
	Height   int
	Format   PixelFormat
	Data     []byte
	Rotation int
	Mirrored bool
}

// Tensor is a dense float32 buffer with its shape.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Size is the element count implied by Shape.
func (t Tensor) Size() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// DetectionResult is the outcome of one pass over one frame.
type DetectionResult struct {
	Boxes         []BoundingBox
	InferenceTime time.Duration
}

func (r DetectionResult) InferenceTimeMs() int64 {
	return r.InferenceTime.Milliseconds()
}
