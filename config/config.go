package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/mpromonet/flowercam/detector"
)

type Model struct {
	Path                string  `yaml:"path"`
	Labels              string  `yaml:"labels"`
	ConfidenceThreshold float32 `yaml:"confidenceThreshold"`
	IoUThreshold        float32 `yaml:"iouThreshold"`
	Head                string  `yaml:"head"`
	BoxFormat           string  `yaml:"boxFormat"`
	PixelBoxes          bool    `yaml:"pixelBoxes"`
	InputMean           float32 `yaml:"inputMean"`
	InputStd            float32 `yaml:"inputStd"`
	Threads             int     `yaml:"threads"`
	EdgeTPU             bool    `yaml:"edgeTPU"`
}

type Camera struct {
	// Device is a capture index ("0") or a file or stream URL; empty disables capture.
	Device   string `yaml:"device"`
	Rotation int    `yaml:"rotation"`
	Mirrored bool   `yaml:"mirrored"`
	// FPS caps how often frames are submitted; zero submits every frame read.
	FPS int `yaml:"fps"`
}

// Overlay is the size of the surface the overlay is laid out on.
type Overlay struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type Export struct {
	Dir           string        `yaml:"dir"`
	Quality       int           `yaml:"quality"`
	UploadURL     string        `yaml:"uploadURL"`
	UploadTimeout time.Duration `yaml:"uploadTimeout"`
}

type HTTP struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"staticDir"`
}

type Log struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

type Config struct {
	Model   Model   `yaml:"model"`
	Camera  Camera  `yaml:"camera"`
	Overlay Overlay `yaml:"overlay"`
	Export  Export  `yaml:"export"`
	HTTP    HTTP    `yaml:"http"`
	Log     Log     `yaml:"log"`
}

// Default is the configuration used for everything a file leaves out.
func Default() Config {
	return Config{
		Model: Model{
			Path:                "model.tflite",
			Labels:              "labels.txt",
			ConfidenceThreshold: detector.DefaultConfidenceThreshold,
			IoUThreshold:        detector.DefaultIoUThreshold,
			Head:                "yolov8",
			BoxFormat:           "xywh",
			InputMean:           detector.DefaultInputMean,
			InputStd:            detector.DefaultInputStd,
			Threads:             4,
		},
		Camera: Camera{Device: "0"},
		Overlay: Overlay{
			Width:  640,
			Height: 480,
		},
		Export: Export{
			Dir:           "FloresDetectadas",
			Quality:       90,
			UploadTimeout: 10 * time.Second,
		},
		HTTP: HTTP{
			Addr:      ":8080",
			StaticDir: "./static",
		},
		Log: Log{Mode: "production", Level: "info"},
	}
}

// Load reads a YAML file over the defaults. A missing file is not an error
// when allowMissing is set.
func Load(path string, allowMissing bool) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if allowMissing && os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var err error
	if c.Model.Path == "" {
		err = multierr.Append(err, fmt.Errorf("model.path is required"))
	}
	if c.Model.Labels == "" {
		err = multierr.Append(err, fmt.Errorf("model.labels is required"))
	}
	if c.Model.ConfidenceThreshold < 0 || c.Model.ConfidenceThreshold > 1 {
		err = multierr.Append(err, fmt.Errorf("model.confidenceThreshold must be between 0.0 and 1.0"))
	}
	if c.Model.IoUThreshold < 0 || c.Model.IoUThreshold > 1 {
		err = multierr.Append(err, fmt.Errorf("model.iouThreshold must be between 0.0 and 1.0"))
	}
	if _, e := detector.ParseHead(c.Model.Head); e != nil {
		err = multierr.Append(err, e)
	}
	if _, e := detector.ParseBoxFormat(c.Model.BoxFormat); e != nil {
		err = multierr.Append(err, e)
	}
	if c.Model.InputStd == 0 {
		err = multierr.Append(err, fmt.Errorf("model.inputStd cannot be zero"))
	}
	switch c.Camera.Rotation {
	case 0, 90, 180, 270:
	default:
		err = multierr.Append(err, fmt.Errorf("camera.rotation must be 0, 90, 180 or 270, got %d", c.Camera.Rotation))
	}
	if c.Camera.FPS < 0 {
		err = multierr.Append(err, fmt.Errorf("camera.fps cannot be negative"))
	}
	if c.Overlay.Width <= 0 || c.Overlay.Height <= 0 {
		err = multierr.Append(err, fmt.Errorf("overlay size must be positive, got %dx%d", c.Overlay.Width, c.Overlay.Height))
	}
	if c.Export.Quality < 1 || c.Export.Quality > 100 {
		err = multierr.Append(err, fmt.Errorf("export.quality must be between 1 and 100"))
	}
	if c.HTTP.Addr == "" {
		err = multierr.Append(err, fmt.Errorf("http.addr is required"))
	}
	return err
}

// DetectorOptions converts the model section for detector.Setup. Call Validate first.
func (c Config) DetectorOptions() detector.Options {
	head, _ := detector.ParseHead(c.Model.Head)
	format, _ := detector.ParseBoxFormat(c.Model.BoxFormat)
	return detector.Options{
		ConfidenceThreshold: c.Model.ConfidenceThreshold,
		IoUThreshold:        c.Model.IoUThreshold,
		Head:                head,
		BoxFormat:           format,
		PixelBoxes:          c.Model.PixelBoxes,
		InputMean:           c.Model.InputMean,
		InputStd:            c.Model.InputStd,
		NumThreads:          c.Model.Threads,
		UseEdgeTPU:          c.Model.EdgeTPU,
	}
}
