package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/mpromonet/flowercam/detector"
)

func write(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	t.Run("overrides defaults", func(t *testing.T) {
		cfg, err := Load(write(t, `
model:
  path: flowers.tflite
  confidenceThreshold: 0.45
  head: yolov5
  boxFormat: xyxy
camera:
  device: /dev/video2
  rotation: 90
  mirrored: true
export:
  uploadURL: http://gallery.local/upload
  uploadTimeout: 3s
`), false)
		require.NoError(t, err)
		assert.Equal(t, "flowers.tflite", cfg.Model.Path)
		assert.Equal(t, "labels.txt", cfg.Model.Labels)
		assert.Equal(t, float32(0.45), cfg.Model.ConfidenceThreshold)
		assert.Equal(t, float32(detector.DefaultIoUThreshold), cfg.Model.IoUThreshold)
		assert.Equal(t, 90, cfg.Camera.Rotation)
		assert.True(t, cfg.Camera.Mirrored)
		assert.Equal(t, 90, cfg.Export.Quality)
		assert.Equal(t, 3*time.Second, cfg.Export.UploadTimeout)
		assert.Equal(t, ":8080", cfg.HTTP.Addr)

		opts := cfg.DetectorOptions()
		assert.Equal(t, detector.HeadObjectness, opts.Head)
		assert.Equal(t, detector.BoxCorners, opts.BoxFormat)
		assert.Equal(t, 4, opts.NumThreads)
	})

	t.Run("explicit zero thresholds reach the detector", func(t *testing.T) {
		cfg, err := Load(write(t, `
model:
  confidenceThreshold: 0
  iouThreshold: 0
`), false)
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())
		opts := cfg.DetectorOptions()
		assert.Zero(t, opts.ConfidenceThreshold)
		assert.Zero(t, opts.IoUThreshold)
	})

	t.Run("missing file", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "none.yaml")
		cfg, err := Load(missing, true)
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)

		_, err = Load(missing, false)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(write(t, "model: [unterminated"), false)
		assert.Error(t, err)
	})

	t.Run("every invalid field is reported", func(t *testing.T) {
		_, err := Load(write(t, `
model:
  confidenceThreshold: 1.5
  head: ssd
camera:
  rotation: 45
export:
  quality: 0
`), false)
		require.Error(t, err)
		assert.Len(t, multierr.Errors(err), 4)
	})
}
