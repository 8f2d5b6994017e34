package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mpromonet/flowercam/detector"
)

// Camera reads frames from an OpenCV capture source and submits them.
type Camera struct {
	Device   string
	Rotation int
	Mirrored bool
	FPS      int
	logger   *zap.Logger
}

// Run blocks until ctx is done or the source ends.
func (c *Camera) Run(ctx context.Context, submit func(detector.Frame) error) error {
	vc, err := gocv.OpenVideoCapture(c.Device)
	if err != nil {
		return fmt.Errorf("open capture %s: %w", c.Device, err)
	}
	defer vc.Close()
	c.logger.Info("capture started", zap.String("device", c.Device),
		zap.Int("rotation", c.Rotation), zap.Bool("mirrored", c.Mirrored))

	img := gocv.NewMat()
	defer img.Close()

	var interval time.Duration
	if c.FPS > 0 {
		interval = time.Second / time.Duration(c.FPS)
	}
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if ok := vc.Read(&img); !ok {
			c.logger.Info("capture source ended", zap.String("device", c.Device))
			return nil
		}
		if img.Empty() {
			continue
		}
		if interval > 0 && time.Since(last) < interval {
			continue
		}
		last = time.Now()
		if err := submit(detector.FrameFromMat(img, c.Rotation, c.Mirrored)); err != nil {
			return err
		}
	}
}
