package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mpromonet/flowercam/detector"
	"github.com/mpromonet/flowercam/overlay"
)

var errNoFrame = errors.New("no frame captured yet")

// detectorSink is the part of the pipeline the session feeds.
type detectorSink interface {
	Detect(frame detector.Frame) error
}

// Session ties the live preview together: it remembers the last frame sent to
// the detector and applies listener events to the overlay renderer.
type Session struct {
	sink     detectorSink
	events   <-chan detector.Event
	renderer *overlay.Renderer
	logger   *zap.Logger

	mu              sync.RWMutex
	lastFrame       *detector.Frame
	lastInferenceMs int64
	updated         time.Time
}

func NewSession(sink detectorSink, events <-chan detector.Event, renderer *overlay.Renderer, logger *zap.Logger) *Session {
	return &Session{sink: sink, events: events, renderer: renderer, logger: logger}
}

// Submit hands frame to the detector and, once accepted, keeps it as the
// capture candidate.
func (s *Session) Submit(frame detector.Frame) error {
	if err := s.sink.Detect(frame); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastFrame = &frame
	s.mu.Unlock()
	return nil
}

// Run applies events until the channel is closed or ctx is done.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			s.apply(ev)
		}
	}
}

func (s *Session) apply(ev detector.Event) {
	if ev.Empty {
		s.renderer.Clear()
		s.renderer.SetResults(nil)
	} else {
		s.renderer.SetResults(ev.Boxes)
	}
	s.mu.Lock()
	if !ev.Empty {
		s.lastInferenceMs = ev.InferenceTimeMs
	}
	s.updated = time.Now()
	s.mu.Unlock()
}

// Snapshot is what the preview polls.
type Snapshot struct {
	Boxes           []detector.BoundingBox `json:"boxes"`
	InferenceTimeMs int64                  `json:"inferenceTimeMs"`
	Updated         time.Time              `json:"updated"`
	HasFrame        bool                   `json:"hasFrame"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	boxes := s.renderer.Results()
	if boxes == nil {
		boxes = []detector.BoundingBox{}
	}
	return Snapshot{
		Boxes:           boxes,
		InferenceTimeMs: s.lastInferenceMs,
		Updated:         s.updated,
		HasFrame:        s.lastFrame != nil,
	}
}

// Capture composites the current overlay, laid out on a surfaceW x surfaceH
// preview, onto the last frame and hands it to exporter. It returns the name used.
func (s *Session) Capture(ctx context.Context, exporter overlay.Exporter, surfaceW, surfaceH int) (string, error) {
	s.mu.RLock()
	frame := s.lastFrame
	s.mu.RUnlock()
	if frame == nil {
		return "", errNoFrame
	}

	img, err := detector.OrientedImage(*frame)
	if err != nil {
		return "", err
	}
	merged := s.renderer.Composite(img, surfaceW, surfaceH)
	name := overlay.CaptureName(time.Now())
	if err := exporter.Export(ctx, merged, name); err != nil {
		return "", err
	}
	s.logger.Info("capture exported", zap.String("name", name), zap.Int("boxes", len(s.renderer.Results())))
	return name, nil
}
