package detector

import (
	"image"

	"gocv.io/x/gocv"
)

// Preprocessor turns a frame into the model input tensor.
type Preprocessor interface {
	Preprocess(frame Frame) (Tensor, error)
}

// MatPreprocessor resizes and normalizes frames with OpenCV. The resize is a plain
// stretch to the model input size, matching how the model was exported.
type MatPreprocessor struct {
	cfg Config
}

func NewMatPreprocessor(cfg Config) *MatPreprocessor {
	return &MatPreprocessor{cfg: cfg}
}

func validateFrame(frame Frame) error {
	if frame.Width <= 0 || frame.Height <= 0 {
		return preprocessErrorf("empty frame %dx%d", frame.Width, frame.Height)
	}
	bpp := frame.Format.BytesPerPixel()
	if bpp == 0 {
		return preprocessErrorf("unsupported pixel format %v", frame.Format)
	}
	if want := frame.Width * frame.Height * bpp; len(frame.Data) != want {
		return preprocessErrorf("%v frame %dx%d needs %d bytes, got %d", frame.Format, frame.Width, frame.Height, want, len(frame.Data))
	}
	switch normalizeRotation(frame.Rotation) {
	case 0, 90, 180, 270:
	default:
		return preprocessErrorf("unsupported rotation %d", frame.Rotation)
	}
	return nil
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

// orient returns the frame as an upright BGR Mat: rotated clockwise by
// frame.Rotation and then mirrored horizontally when frame.Mirrored is set.
// The caller owns the returned Mat.
func orient(frame Frame) (gocv.Mat, error) {
	if err := validateFrame(frame); err != nil {
		return gocv.NewMat(), err
	}

	var src gocv.Mat
	var err error
	switch frame.Format {
	case FormatRGBA8888:
		src, err = gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC4, frame.Data)
	default:
		src, err = gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	}
	if err != nil {
		return gocv.NewMat(), &PreprocessError{Message: "wrap frame", Cause: err}
	}
	defer src.Close()

	bgr := gocv.NewMat()
	switch frame.Format {
	case FormatRGBA8888:
		gocv.CvtColor(src, &bgr, gocv.ColorRGBAToBGR)
	case FormatRGB888:
		gocv.CvtColor(src, &bgr, gocv.ColorRGBToBGR)
	default:
		src.CopyTo(&bgr)
	}

	if rot := normalizeRotation(frame.Rotation); rot != 0 {
		rotated := gocv.NewMat()
		switch rot {
		case 90:
			gocv.Rotate(bgr, &rotated, gocv.Rotate90Clockwise)
		case 180:
			gocv.Rotate(bgr, &rotated, gocv.Rotate180Clockwise)
		case 270:
			gocv.Rotate(bgr, &rotated, gocv.Rotate90CounterClockwise)
		}
		bgr.Close()
		bgr = rotated
	}

	if frame.Mirrored {
		flipped := gocv.NewMat()
		gocv.Flip(bgr, &flipped, 1)
		bgr.Close()
		bgr = flipped
	}
	return bgr, nil
}

// Preprocess produces an NHWC [1, H, W, 3] RGB tensor normalized with (v-mean)/std.
func (p *MatPreprocessor) Preprocess(frame Frame) (Tensor, error) {
	bgr, err := orient(frame)
	if err != nil {
		return Tensor{}, err
	}
	defer bgr.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(bgr, &resized, image.Pt(p.cfg.InputWidth, p.cfg.InputHeight), 0, 0, gocv.InterpolationLinear)

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(resized, &rgb, gocv.ColorBGRToRGB)

	normalized := gocv.NewMat()
	defer normalized.Close()
	std := p.cfg.InputStd
	if std == 0 {
		std = DefaultInputStd
	}
	rgb.ConvertToWithParams(&normalized, gocv.MatTypeCV32FC3, 1/std, -p.cfg.InputMean/std)

	v, err := normalized.DataPtrFloat32()
	if err != nil {
		return Tensor{}, &PreprocessError{Message: "read normalized pixels", Cause: err}
	}
	data := make([]float32, len(v))
	copy(data, v)
	return Tensor{Shape: []int{1, p.cfg.InputHeight, p.cfg.InputWidth, 3}, Data: data}, nil
}

// OrientedImage returns the full resolution, upright frame, which is what the
// overlay is composited onto when a capture is exported.
func OrientedImage(frame Frame) (image.Image, error) {
	bgr, err := orient(frame)
	if err != nil {
		return nil, err
	}
	defer bgr.Close()
	return bgr.ToImage()
}

// FrameFromMat copies a BGR Mat coming from a capture device into a Frame.
func FrameFromMat(mat gocv.Mat, rotation int, mirrored bool) Frame {
	return Frame{
		Width:    mat.Cols(),
		Height:   mat.Rows(),
		Format:   FormatBGR888,
		Data:     mat.ToBytes(),
		Rotation: rotation,
		Mirrored: mirrored,
	}
}
