package media

import (
	"fmt"
	"image"
	"math"
	"os"

	"media-gallery/internal/logging"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // BMP format support
	_ "golang.org/x/image/tiff" // TIFF format support
	_ "golang.org/x/image/webp" // WebP format support
)

const (
	// MaxImageDimension is the maximum width or height we'll process
	// Images larger than this will be downscaled first
	MaxImageDimension = 8192

	// MaxImagePixels is the maximum total pixels (width * height) we'll process
	MaxImagePixels = 40_000_000

	// MaxSourcePixels is the largest source we will decode at all. A full
	// decode holds every pixel in memory before it can be downscaled.
	MaxSourcePixels = 4 * MaxImagePixels
)

// checkDecodable rejects sources whose declared size is too large to decode.
func checkDecodable(path string, meta Metadata) error {
	if meta.Width <= 0 || meta.Height <= 0 {
		return fmt.Errorf("%w: %s: invalid dimensions %dx%d", ErrUnsupportedFormat, path, meta.Width, meta.Height)
	}
	if int64(meta.Width)*int64(meta.Height) > MaxSourcePixels {
		return fmt.Errorf("%w: %s: %dx%d exceeds the %d pixel decode limit",
			ErrUnsupportedFormat, path, meta.Width, meta.Height, MaxSourcePixels)
	}
	return nil
}

// Describe reads the intrinsic metadata of the image at path without
// decoding pixel data. Open failures are ErrDerivationIO; anything the
// registered decoders reject is ErrUnsupportedFormat.
func Describe(path string) (Metadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrDerivationIO, err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logging.Warn("failed to close image file %s: %v", path, err)
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrDerivationIO, err)
	}

	config, format, err := image.DecodeConfig(file)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, path, err)
	}

	return Metadata{
		Width:  config.Width,
		Height: config.Height,
		Format: format,
		Size:   info.Size(),
	}, nil
}

// LoadImageConstrained decodes the image at path with EXIF orientation
// applied, downscaling anything beyond the given limits so a single huge
// upload cannot exhaust memory.
func LoadImageConstrained(path string, maxDimension, maxPixels int) (image.Image, error) {
	meta, err := Describe(path)
	if err != nil {
		return nil, err
	}
	if err := checkDecodable(path, meta); err != nil {
		return nil, err
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, path, err)
	}

	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	if width <= maxDimension && height <= maxDimension && width*height <= maxPixels {
		return img, nil
	}

	targetWidth, targetHeight := width, height
	if width > maxDimension || height > maxDimension {
		if width > height {
			targetWidth = maxDimension
			targetHeight = height * maxDimension / width
		} else {
			targetHeight = maxDimension
			targetWidth = width * maxDimension / height
		}
	}
	if pixels := targetWidth * targetHeight; pixels > maxPixels {
		scale := math.Sqrt(float64(maxPixels) / float64(pixels))
		targetWidth = int(float64(targetWidth) * scale)
		targetHeight = int(float64(targetHeight) * scale)
	}

	logging.Info("Constraining large %s image %s from %dx%d to %dx%d",
		meta.Format, path, width, height, targetWidth, targetHeight)

	return imaging.Resize(img, targetWidth, targetHeight, imaging.Lanczos), nil
}
