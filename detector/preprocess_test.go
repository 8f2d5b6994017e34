package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// solidFrame is a w x h frame whose left half is red and right half is blue.
func solidFrame(w, h int, format PixelFormat) Frame {
	bpp := format.BytesPerPixel()
	data := make([]byte, w*h*bpp)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * bpp
			red := x < w/2
			switch format {
			case FormatBGR888:
				if red {
					data[i+2] = 255
				} else {
					data[i] = 255
				}
			default:
				if red {
					data[i] = 255
				} else {
					data[i+2] = 255
				}
				if format == FormatRGBA8888 {
					data[i+3] = 255
				}
			}
		}
	}
	return Frame{Width: w, Height: h, Format: format, Data: data}
}

func TestPreprocessValidation(t *testing.T) {
	p := NewMatPreprocessor(testConfig())
	for name, frame := range map[string]Frame{
		"empty":        {Format: FormatRGB888},
		"unknown":      {Width: 2, Height: 2, Format: FormatUnknown, Data: make([]byte, 12)},
		"short buffer": {Width: 2, Height: 2, Format: FormatRGBA8888, Data: make([]byte, 15)},
		"bad rotation": {Width: 2, Height: 2, Format: FormatRGB888, Data: make([]byte, 12), Rotation: 45},
	} {
		_, err := p.Preprocess(frame)
		var pe *PreprocessError
		assert.ErrorAs(t, err, &pe, name)
	}
}

func TestPreprocess(t *testing.T) {
	cfg := testConfig()
	cfg.InputWidth, cfg.InputHeight = 8, 4
	p := NewMatPreprocessor(cfg)

	for _, format := range []PixelFormat{FormatRGBA8888, FormatRGB888, FormatBGR888} {
		t.Run(format.String(), func(t *testing.T) {
			in, err := p.Preprocess(solidFrame(16, 8, format))
			require.NoError(t, err)
			assert.Equal(t, []int{1, 4, 8, 3}, in.Shape)
			require.Len(t, in.Data, in.Size())

			// first pixel is red, last pixel is blue, both in RGB order and in [0,1]
			assert.InDelta(t, 1, in.Data[0], 1e-6)
			assert.InDelta(t, 0, in.Data[2], 1e-6)
			last := len(in.Data) - 3
			assert.InDelta(t, 0, in.Data[last], 1e-6)
			assert.InDelta(t, 1, in.Data[last+2], 1e-6)
		})
	}

	t.Run("mean and std", func(t *testing.T) {
		cfg := cfg
		cfg.InputMean, cfg.InputStd = 127.5, 127.5
		in, err := NewMatPreprocessor(cfg).Preprocess(solidFrame(16, 8, FormatRGB888))
		require.NoError(t, err)
		assert.InDelta(t, 1, in.Data[0], 1e-5)
		assert.InDelta(t, -1, in.Data[1], 1e-5)
	})
}

func TestOrientedImage(t *testing.T) {
	frame := solidFrame(6, 4, FormatRGB888)

	img, err := OrientedImage(frame)
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())
	r, _, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0), b)

	t.Run("rotated", func(t *testing.T) {
		f := frame
		f.Rotation = 90
		img, err := OrientedImage(f)
		require.NoError(t, err)
		assert.Equal(t, 4, img.Bounds().Dx())
		assert.Equal(t, 6, img.Bounds().Dy())
		// clockwise: the left (red) half ends up on top
		r, _, _, _ := img.At(0, 0).RGBA()
		assert.Equal(t, uint32(0xffff), r)
		_, _, b, _ := img.At(0, 5).RGBA()
		assert.Equal(t, uint32(0xffff), b)
	})

	t.Run("mirrored", func(t *testing.T) {
		f := frame
		f.Mirrored = true
		img, err := OrientedImage(f)
		require.NoError(t, err)
		_, _, b, _ := img.At(0, 0).RGBA()
		assert.Equal(t, uint32(0xffff), b)
	})

	t.Run("negative rotation", func(t *testing.T) {
		f := frame
		f.Rotation = -90
		img, err := OrientedImage(f)
		require.NoError(t, err)
		assert.Equal(t, 4, img.Bounds().Dx())
		_, _, b, _ := img.At(0, 0).RGBA()
		assert.Equal(t, uint32(0xffff), b)
	})
}
