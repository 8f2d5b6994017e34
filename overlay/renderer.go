package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/mpromonet/flowercam/detector"
)

const (
	BoxStrokeWidth    = 8
	BoxCornerRadius   = 20
	LabelCornerRadius = 12
	LabelPadding      = 8
	LabelTextSize     = 50
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// newLabelFace returns a fresh face; faces keep glyph caches and are not safe to share.
func newLabelFace() font.Face {
	return truetype.NewFace(labelFont, &truetype.Options{Size: LabelTextSize})
}

// Rect is a pixel-space rectangle on the drawing surface.
type Rect struct {
	Left, Top, Right, Bottom float64
}

func (r Rect) Width() float64  { return r.Right - r.Left }
func (r Rect) Height() float64 { return r.Bottom - r.Top }

// Placement is where and how one detection is drawn on a W x H surface.
type Placement struct {
	Box       Rect
	Label     string
	LabelBox  Rect
	TextX     float64 // baseline origin of the label text
	TextY     float64
	Color     color.RGBA
	Detection detector.BoundingBox
}

// LabelText is "name NN%" with the confidence rounded to a whole percent.
func LabelText(b detector.BoundingBox) string {
	return fmt.Sprintf("%s %d%%", b.ClassName, int(math.Round(float64(b.Confidence)*100)))
}

// Renderer holds the current detections and draws them as labelled rounded
// rectangles. It is safe for concurrent use: results are replaced by the
// detection side and read by whoever draws.
type Renderer struct {
	mu      sync.RWMutex
	results []detector.BoundingBox
}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// SetResults replaces the boxes to draw. A nil or empty slice draws nothing.
func (r *Renderer) SetResults(boxes []detector.BoundingBox) {
	r.mu.Lock()
	r.results = append([]detector.BoundingBox(nil), boxes...)
	r.mu.Unlock()
}

// Clear removes every box.
func (r *Renderer) Clear() {
	r.mu.Lock()
	r.results = nil
	r.mu.Unlock()
}

func (r *Renderer) Results() []detector.BoundingBox {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]detector.BoundingBox(nil), r.results...)
}

// Layout maps the current boxes onto a w x h surface.
func (r *Renderer) Layout(w, h int) []Placement {
	return layout(r.Results(), w, h, newLabelFace())
}

func layout(boxes []detector.BoundingBox, w, h int, face font.Face) []Placement {
	metrics := face.Metrics()
	ascent := float64(metrics.Ascent.Ceil())
	descent := float64(metrics.Descent.Ceil())
	textHeight := ascent + descent

	out := make([]Placement, 0, len(boxes))
	for _, b := range boxes {
		p := Placement{
			Box: Rect{
				Left:   float64(b.X1) * float64(w),
				Top:    float64(b.Y1) * float64(h),
				Right:  float64(b.X2) * float64(w),
				Bottom: float64(b.Y2) * float64(h),
			},
			Label:     LabelText(b),
			Color:     ColorFor(b.ClassName),
			Detection: b,
		}

		textWidth := float64(font.MeasureString(face, p.Label).Ceil())
		lb := Rect{
			Left:   p.Box.Left,
			Top:    p.Box.Top - textHeight - 2*LabelPadding,
			Right:  p.Box.Left + textWidth + 2*LabelPadding,
			Bottom: p.Box.Top,
		}
		// Keep the label on the surface; near the top it moves inside the box.
		if lb.Top < 0 {
			lb.Bottom -= lb.Top
			lb.Top = 0
		}
		if over := lb.Right - float64(w); over > 0 {
			shift := math.Min(over, lb.Left)
			lb.Left -= shift
			lb.Right -= shift
		}
		p.LabelBox = lb
		p.TextX = lb.Left + LabelPadding
		p.TextY = lb.Bottom - descent - LabelPadding
		out = append(out, p)
	}
	return out
}

// Draw paints the current boxes onto dc, using the context size as the surface.
func (r *Renderer) Draw(dc *gg.Context) {
	face := newLabelFace()
	paint(dc, layout(r.Results(), dc.Width(), dc.Height(), face), face, 1)
}

// Render returns the overlay alone on a transparent w x h image.
func (r *Renderer) Render(w, h int) *image.RGBA {
	if w <= 0 || h <= 0 {
		return image.NewRGBA(image.Rectangle{})
	}
	im := image.NewRGBA(image.Rect(0, 0, w, h))
	r.Draw(gg.NewContextForRGBA(im))
	return im
}

// Composite paints the overlay, as laid out on a surfaceW x surfaceH view, on top
// of a copy of frame. Overlay coordinates are scaled by frame size over surface size.
// A non positive surface size means the overlay was laid out on the frame itself.
func (r *Renderer) Composite(frame image.Image, surfaceW, surfaceH int) *image.RGBA {
	fb := frame.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, fb.Dx(), fb.Dy()))
	draw.Draw(dst, dst.Bounds(), frame, fb.Min, draw.Src)
	if fb.Empty() {
		return dst
	}

	if surfaceW <= 0 || surfaceH <= 0 {
		surfaceW, surfaceH = fb.Dx(), fb.Dy()
	}
	sx := float64(fb.Dx()) / float64(surfaceW)
	sy := float64(fb.Dy()) / float64(surfaceH)

	dc := gg.NewContextForRGBA(dst)
	dc.Scale(sx, sy)
	face := newLabelFace()
	// gg transforms paths and glyphs but not the stroke width.
	paint(dc, layout(r.Results(), surfaceW, surfaceH, face), face, math.Sqrt(sx*sy))
	return dst
}

func roundedRect(dc *gg.Context, rc Rect, radius float64) {
	radius = math.Min(radius, math.Min(rc.Width(), rc.Height())/2)
	dc.DrawRoundedRectangle(rc.Left, rc.Top, rc.Width(), rc.Height(), radius)
}

func paint(dc *gg.Context, placements []Placement, face font.Face, lineScale float64) {
	dc.SetFontFace(face)
	for _, p := range placements {
		dc.SetColor(p.Color)
		dc.SetLineWidth(BoxStrokeWidth * lineScale)
		roundedRect(dc, p.Box, BoxCornerRadius)
		dc.Stroke()

		roundedRect(dc, p.LabelBox, LabelCornerRadius)
		dc.Fill()

		dc.SetColor(color.White)
		dc.DrawString(p.Label, p.TextX, p.TextY)
	}
}
