package media

import (
	"errors"
	"path/filepath"
	"strings"
)

const (
	// ThumbnailSize is the edge length of the square thumbnail box.
	ThumbnailSize = 200
	// ThumbnailQuality is the JPEG quality used for thumbnails.
	ThumbnailQuality = 80
)

var (
	// ErrUnsupportedFormat means the source could not be decoded as an image.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrDerivationIO means reading the source or writing the derived file failed.
	ErrDerivationIO = errors.New("derivation I/O error")
	// ErrDerivationTimeout means derivation did not finish before its deadline.
	ErrDerivationTimeout = errors.New("derivation timed out")
)

// Metadata holds the intrinsic properties of a stored image.
type Metadata struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	Size   int64  `json:"size"`
}

// Derived is the result of deriving assets from an original.
type Derived struct {
	Metadata      Metadata
	ThumbnailPath string
}

// ImageExtensions maps file extensions to the decoder format name.
var ImageExtensions = map[string]string{
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".png":  "png",
	".gif":  "gif",
	".webp": "webp",
	".bmp":  "bmp",
	".tif":  "tiff",
	".tiff": "tiff",
}

// IsImageFile reports whether name has a known image extension.
func IsImageFile(name string) bool {
	_, ok := ImageExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Stem returns the file name without directory and extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
