package detector

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

const (
	DefaultConfidenceThreshold = 0.3
	DefaultIoUThreshold        = 0.5
	DefaultInputMean           = 0
	DefaultInputStd            = 255
)

// Head selects how the per-row scores of the raw output are laid out.
type Head int

const (
	// HeadClassScores rows are [box(4), score(numClasses)], as exported by YOLOv8.
	HeadClassScores Head = iota
	// HeadObjectness rows are [box(4), objectness, score(numClasses)], as exported by YOLOv5.
	HeadObjectness
)

func (h Head) extra() int {
	if h == HeadObjectness {
		return 1
	}
	return 0
}

// ParseHead accepts "yolov8" and "yolov5" (and the head names themselves).
func ParseHead(s string) (Head, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "yolov8", "scores", "class-scores":
		return HeadClassScores, nil
	case "yolov5", "objectness":
		return HeadObjectness, nil
	}
	return 0, fmt.Errorf("unknown model head %q", s)
}

// BoxFormat selects how the four box parameters of a row are interpreted.
type BoxFormat int

const (
	BoxCenterSize BoxFormat = iota // cx, cy, w, h
	BoxCorners                     // x1, y1, x2, y2
)

func ParseBoxFormat(s string) (BoxFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "xywh", "center":
		return BoxCenterSize, nil
	case "xyxy", "corners":
		return BoxCorners, nil
	}
	return 0, fmt.Errorf("unknown box format %q", s)
}

// Config is fixed at setup and shared read-only between the worker and its observers.
type Config struct {
	InputWidth          int
	InputHeight         int
	ConfidenceThreshold float32
	IoUThreshold        float32
	Labels              []string

	Head       Head
	BoxFormat  BoxFormat
	PixelBoxes bool // box parameters are in input pixels rather than [0,1]
	InputMean  float32
	InputStd   float32
}

func (c Config) NumClasses() int { return len(c.Labels) }

// Channels is the per-row width of the raw output.
func (c Config) Channels() int { return 4 + c.Head.extra() + c.NumClasses() }

func (c Config) Validate() error {
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return fmt.Errorf("invalid input size %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be between 0.0 and 1.0, got %f", c.ConfidenceThreshold)
	}
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return fmt.Errorf("IoU threshold must be between 0.0 and 1.0, got %f", c.IoUThreshold)
	}
	if len(c.Labels) == 0 {
		return fmt.Errorf("label table is empty")
	}
	if c.InputStd == 0 {
		return fmt.Errorf("input std cannot be zero")
	}
	return nil
}

// Label resolves a class index; ok is false when the table has no entry for it.
func (c Config) Label(class int) (string, bool) {
	if class < 0 || class >= len(c.Labels) {
		return "", false
	}
	return c.Labels[class], true
}

// LoadLabels reads a newline separated label table. CRLF endings and trailing
// blank lines are tolerated, blank lines in the middle are kept to preserve indices.
func LoadLabels(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	labels := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(strings.TrimRight(scanner.Text(), "\r")))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	for len(labels) > 0 && labels[len(labels)-1] == "" {
		labels = labels[:len(labels)-1]
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("no labels in %s", filename)
	}
	return labels, nil
}
