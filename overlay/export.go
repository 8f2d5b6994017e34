package overlay

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-resty/resty/v2"
	"go.uber.org/multierr"
)

const (
	DefaultJPEGQuality = 90
	capturePrefix      = "captura_con_deteccion_"
)

// CaptureName is the base name, without extension, of an annotated capture taken at t.
func CaptureName(t time.Time) string {
	return fmt.Sprintf("%s%d", capturePrefix, t.UnixMilli())
}

// Exporter persists an annotated capture under the given base name.
type Exporter interface {
	Export(ctx context.Context, img image.Image, name string) error
}

// GalleryExporter writes JPEG files into a directory, creating it when needed.
type GalleryExporter struct {
	Dir     string
	Quality int
}

func (g GalleryExporter) quality() int {
	if g.Quality <= 0 || g.Quality > 100 {
		return DefaultJPEGQuality
	}
	return g.Quality
}

// Path is where Export stores name.
func (g GalleryExporter) Path(name string) string {
	return filepath.Join(g.Dir, name+".jpg")
}

func (g GalleryExporter) Export(ctx context.Context, img image.Image, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(g.Dir, 0o755); err != nil {
		return fmt.Errorf("create gallery %s: %w", g.Dir, err)
	}
	if err := imaging.Save(img, g.Path(name), imaging.JPEGQuality(g.quality())); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// UploadExporter posts captures as a multipart "file" field to URL.
type UploadExporter struct {
	URL     string
	Quality int
	Client  *resty.Client
}

func NewUploadExporter(url string, quality int, timeout time.Duration) *UploadExporter {
	return &UploadExporter{
		URL:     url,
		Quality: quality,
		Client:  resty.New().SetTimeout(timeout),
	}
}

func (u *UploadExporter) Export(ctx context.Context, img image.Image, name string) error {
	q := u.Quality
	if q <= 0 || q > 100 {
		q = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	resp, err := u.Client.R().
		SetContext(ctx).
		SetFileReader("file", name+".jpg", &buf).
		SetFormData(map[string]string{"name": name}).
		Post(u.URL)
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	if resp.IsError() {
		return fmt.Errorf("upload %s: server returned %s: %s", name, resp.Status(), resp.String())
	}
	return nil
}

// MultiExporter hands the capture to every exporter and reports all failures.
type MultiExporter []Exporter

func (m MultiExporter) Export(ctx context.Context, img image.Image, name string) error {
	var err error
	for _, e := range m {
		err = multierr.Append(err, e.Export(ctx, img, name))
	}
	return err
}
