package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"media-gallery/internal/filesystem"
	"media-gallery/internal/logging"
	"media-gallery/internal/metrics"

	"github.com/disintegration/imaging"
)

// Generator derives thumbnails and metadata from stored originals.
type Generator struct {
	thumbDir string
	useVips  bool
}

// NewGenerator returns a Generator writing thumbnails into thumbDir.
// libvips is used when it has been initialized with InitVips.
func NewGenerator(thumbDir string) *Generator {
	if err := os.MkdirAll(thumbDir, 0o755); err != nil {
		logging.Warn("Generator: failed to create thumbnail dir %s: %v", thumbDir, err)
	}
	useVips := IsVipsAvailable()
	logging.Debug("Generator: thumbnails in %s (vips: %v)", thumbDir, useVips)
	return &Generator{thumbDir: thumbDir, useVips: useVips}
}

// ThumbnailPath returns where the thumbnail of srcPath is written.
func (g *Generator) ThumbnailPath(srcPath string) string {
	return filepath.Join(g.thumbDir, Stem(srcPath)+".jpg")
}

// Describe returns the intrinsic metadata of srcPath.
func (g *Generator) Describe(srcPath string) (Metadata, error) {
	return Describe(srcPath)
}

// Generate extracts metadata and writes a ThumbnailSize square JPEG
// thumbnail cropped to cover the box. If ctx ends first it returns
// ErrDerivationTimeout (or the context error) and any thumbnail the
// background work still produces is removed.
func (g *Generator) Generate(ctx context.Context, srcPath string) (*Derived, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(ctx, srcPath)
	}

	type result struct {
		derived *Derived
		err     error
	}
	done := make(chan result, 1)

	go func() {
		d, err := g.generate(ctx, srcPath)
		done <- result{derived: d, err: err}
	}()

	select {
	case r := <-done:
		return r.derived, r.err
	case <-ctx.Done():
		logging.Warn("Thumbnail generation for %s abandoned: %v", srcPath, ctx.Err())
		return nil, contextError(ctx, srcPath)
	}
}

func contextError(ctx context.Context, srcPath string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrDerivationTimeout, srcPath)
	}
	return ctx.Err()
}

func (g *Generator) generate(ctx context.Context, srcPath string) (*Derived, error) {
	start := time.Now()
	engine := "imaging"
	if g.useVips {
		engine = "vips"
	}

	meta, err := Describe(srcPath)
	if err != nil {
		recordThumbnail(engine, statusFor(err), start)
		return nil, err
	}
	metrics.ThumbnailImageDecodeByFormat.WithLabelValues(formatLabel(meta.Format)).Inc()
	if err := checkDecodable(srcPath, meta); err != nil {
		recordThumbnail(engine, statusFor(err), start)
		return nil, err
	}

	thumbPath := g.ThumbnailPath(srcPath)
	if g.useVips {
		err = g.writeWithVips(srcPath, thumbPath)
	} else {
		err = g.writeWithImaging(srcPath, thumbPath)
	}
	if err != nil {
		recordThumbnail(engine, statusFor(err), start)
		return nil, err
	}

	// The caller has given up; do not leave a thumbnail behind for an
	// original it is about to remove.
	if ctx.Err() != nil {
		filesystem.RemoveIfExists(thumbPath)
		recordThumbnail(engine, "error_timeout", start)
		return nil, contextError(ctx, srcPath)
	}

	recordThumbnail(engine, "success", start)
	logging.Debug("Thumbnail generated for %s in %v", filepath.Base(srcPath), time.Since(start))
	return &Derived{Metadata: meta, ThumbnailPath: thumbPath}, nil
}

func (g *Generator) writeWithImaging(srcPath, thumbPath string) error {
	img, err := LoadImageConstrained(srcPath, MaxImageDimension, MaxImagePixels)
	if err != nil {
		return err
	}

	thumb := imaging.Fill(img, ThumbnailSize, ThumbnailSize, imaging.Center, imaging.Lanczos)

	err = filesystem.WriteAtomic(thumbPath, 0o644, func(f *os.File) error {
		return imaging.Encode(f, thumb, imaging.JPEG, imaging.JPEGQuality(ThumbnailQuality))
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDerivationIO, err)
	}
	return nil
}

func (g *Generator) writeWithVips(srcPath, thumbPath string) error {
	data, err := thumbnailWithVips(srcPath, ThumbnailSize, ThumbnailQuality)
	if err != nil {
		return err
	}

	err = filesystem.WriteAtomic(thumbPath, 0o644, func(f *os.File) error {
		_, werr := f.Write(data)
		return werr
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDerivationIO, err)
	}
	return nil
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return "error_unsupported"
	case errors.Is(err, ErrDerivationTimeout):
		return "error_timeout"
	default:
		return "error_io"
	}
}

func recordThumbnail(engine, status string, start time.Time) {
	metrics.ThumbnailGenerationsTotal.WithLabelValues(engine, status).Inc()
	metrics.ThumbnailGenerationDuration.WithLabelValues(engine).Observe(time.Since(start).Seconds())
}

func formatLabel(format string) string {
	switch format {
	case "jpeg", "png", "gif", "webp", "bmp", "tiff":
		return format
	default:
		return "unknown"
	}
}
