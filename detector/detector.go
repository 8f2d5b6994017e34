package detector

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Options are the model contract and runtime knobs handed to Setup. Every
// field is taken as given; start from DefaultOptions for the usual values.
type Options struct {
	ConfidenceThreshold float32
	IoUThreshold        float32
	Head                Head
	BoxFormat           BoxFormat
	PixelBoxes          bool
	InputMean           float32
	InputStd            float32
	NumThreads          int
	UseEdgeTPU          bool
	Logger              *zap.Logger
}

// DefaultOptions returns the options of a stock YOLOv8 export.
func DefaultOptions() Options {
	return Options{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		IoUThreshold:        DefaultIoUThreshold,
		Head:                HeadClassScores,
		BoxFormat:           BoxCenterSize,
		InputMean:           DefaultInputMean,
		InputStd:            DefaultInputStd,
	}
}

// Detector is one preprocess → infer → decode pass. It is safe to share: the
// configuration is immutable and the backend serializes its own invocations.
type Detector struct {
	cfg     Config
	prep    Preprocessor
	backend Backend
	logger  *zap.Logger
}

// Setup loads the labels and the model and checks that both agree.
func Setup(modelPath, labelsPath string, opts Options) (*Detector, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	labels, err := LoadLabels(labelsPath)
	if err != nil {
		return nil, setupErrorf(err, "load labels %s", labelsPath)
	}
	backend, err := NewTFLiteBackend(modelPath, TFLiteOptions{NumThreads: opts.NumThreads, UseEdgeTPU: opts.UseEdgeTPU}, logger.Named("tflite"))
	if err != nil {
		return nil, setupErrorf(err, "load model %s", modelPath)
	}
	d, err := NewDetector(backend, labels, opts)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return d, nil
}

// NewDetector builds a detector around an already opened backend, deriving the
// input size from the backend's NHWC input shape.
func NewDetector(backend Backend, labels []string, opts Options) (*Detector, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	in := backend.InputShape()
	if len(in) != 4 || in[0] != 1 || in[3] != 3 {
		return nil, setupErrorf(nil, "unsupported input shape %v, want [1 H W 3]", in)
	}

	cfg := Config{
		InputHeight:         in[1],
		InputWidth:          in[2],
		ConfidenceThreshold: opts.ConfidenceThreshold,
		IoUThreshold:        opts.IoUThreshold,
		Labels:              append([]string(nil), labels...),
		Head:                opts.Head,
		BoxFormat:           opts.BoxFormat,
		PixelBoxes:          opts.PixelBoxes,
		InputMean:           opts.InputMean,
		InputStd:            opts.InputStd,
	}
	if err := cfg.Validate(); err != nil {
		return nil, setupErrorf(err, "invalid configuration")
	}
	if out := backend.OutputShape(); !checkOutputShape(out, cfg.Channels()) {
		return nil, setupErrorf(nil, "output shape %v does not match %d labels (want %d channels per row)", out, cfg.NumClasses(), cfg.Channels())
	}

	logger.Info("detector ready",
		zap.Int("inputWidth", cfg.InputWidth), zap.Int("inputHeight", cfg.InputHeight),
		zap.Int("classes", cfg.NumClasses()),
		zap.Float32("confidence", cfg.ConfidenceThreshold), zap.Float32("iou", cfg.IoUThreshold))
	return &Detector{
		cfg:     cfg,
		prep:    NewMatPreprocessor(cfg),
		backend: backend,
		logger:  logger,
	}, nil
}

// WithPreprocessor swaps the frame preprocessor, mostly for tests.
func (d *Detector) WithPreprocessor(p Preprocessor) *Detector {
	d.prep = p
	return d
}

func (d *Detector) Config() Config { return d.cfg }

// Run processes one frame. The reported time covers the whole pass.
func (d *Detector) Run(frame Frame) (DetectionResult, error) {
	start := time.Now()
	input, err := d.prep.Preprocess(frame)
	if err != nil {
		return DetectionResult{}, err
	}
	raw, err := d.backend.Infer(input)
	if err != nil {
		var ie *InferenceError
		if !errors.As(err, &ie) {
			err = inferenceErrorf(err, "backend")
		}
		return DetectionResult{}, err
	}
	boxes, err := Decode(raw, d.cfg)
	if err != nil {
		return DetectionResult{}, err
	}
	return DetectionResult{Boxes: boxes, InferenceTime: time.Since(start)}, nil
}

// Close releases the backend. Runs after Close fail with ErrBackendClosed.
func (d *Detector) Close() error {
	if err := d.backend.Close(); err != nil {
		return fmt.Errorf("close backend: %w", err)
	}
	d.logger.Info("detector closed")
	return nil
}
