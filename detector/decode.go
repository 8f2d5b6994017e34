/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package detector

import "math"

// candidate is a thresholded row waiting for suppression.
type candidate struct {
	box BoundingBox
	row int
}

// argmax skips NaN scores; when every score is NaN the result is NaN.
func argmax(f func(int) float32, n int) (int, float32) {
	r, m := 0, float32(math.NaN())
	for i := 0; i < n; i++ {
		v := f(i)
		if math.IsNaN(float64(v)) {
			continue
		}
		if math.IsNaN(float64(m)) || v > m {
			m = v
			r = i
		}
	}
	return r, m
}

func clamp01(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Decode turns the raw model output into the final, suppressed detections.
// An output with no row above the confidence threshold gives an empty slice.
func Decode(raw Tensor, cfg Config) ([]BoundingBox, error) {
	if cfg.NumClasses() == 0 {
		return nil, decodeErrorf("label table is empty")
	}
	layout, err := newOutputLayout(raw, cfg.Channels())
	if err != nil {
		return nil, err
	}

	scoreOffset := 4 + cfg.Head.extra()
	numClasses := cfg.NumClasses()
	sx, sy := float32(1), float32(1)
	if cfg.PixelBoxes {
		sx, sy = 1/float32(cfg.InputWidth), 1/float32(cfg.InputHeight)
	}

	var candidates []candidate
	for row := 0; row < layout.rows(); row++ {
		class, conf := argmax(func(i int) float32 { return layout.at(row, scoreOffset+i) }, numClasses)
		if cfg.Head == HeadObjectness {
			conf *= layout.at(row, 4)
		}
		// NaN fails every comparison and is dropped here as well.
		if !(conf >= cfg.ConfidenceThreshold) {
			continue
		}

		p0, p1, p2, p3 := layout.at(row, 0)*sx, layout.at(row, 1)*sy, layout.at(row, 2)*sx, layout.at(row, 3)*sy
		var x1, y1, x2, y2 float32
		if cfg.BoxFormat == BoxCorners {
			x1, y1, x2, y2 = p0, p1, p2, p3
		} else {
			x1, y1, x2, y2 = p0-p2/2, p1-p3/2, p0+p2/2, p1+p3/2
		}
		x1, y1, x2, y2 = clamp01(x1), clamp01(y1), clamp01(x2), clamp01(y2)
		if !(x1 < x2 && y1 < y2) {
			continue
		}

		name, ok := cfg.Label(class)
		if !ok {
			return nil, decodeErrorf("class %d has no label", class)
		}
		candidates = append(candidates, candidate{
			box: BoundingBox{
				X1: x1, Y1: y1, X2: x2, Y2: y2,
				Confidence: clamp01(conf),
				ClassIndex: class,
				ClassName:  name,
			},
			row: row,
		})
	}
	return suppress(candidates, cfg.IoUThreshold), nil
}
