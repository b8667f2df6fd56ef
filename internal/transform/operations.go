package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	"media-gallery/internal/media"
)

// Operation kinds as they appear in the "type" field.
const (
	KindResize   = "resize"
	KindRotate   = "rotate"
	KindReformat = "reformat"
)

// Operation is one step of a transform job. The set of operations is
// closed: Resize, Rotate and Reformat.
type Operation interface {
	Kind() string
	Validate() error
	apply(img image.Image) image.Image
	// outputSize bounds the size apply produces from a w x h input.
	outputSize(w, h int) (int, int)
}

// Fit selects how Resize maps the source onto the target box.
type Fit string

const (
	// FitCover scales to fill the box and crops the overflow around the centre.
	FitCover Fit = "cover"
	// FitContain scales to fit inside the box, preserving aspect ratio.
	FitContain Fit = "contain"
	// FitFill stretches to exactly the box.
	FitFill Fit = "fill"
)

// Resize scales the image to Width x Height.
type Resize struct {
	Width  int
	Height int
	Fit    Fit
}

func (Resize) Kind() string { return KindResize }

func (r Resize) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return invalid("resize dimensions must be positive, got %dx%d", r.Width, r.Height)
	}
	if err := checkSize(r.Width, r.Height); err != nil {
		return err
	}
	switch r.Fit {
	case FitCover, FitContain, FitFill:
		return nil
	default:
		return invalid("unknown fit %q", r.Fit)
	}
}

func (r Resize) apply(img image.Image) image.Image {
	switch r.Fit {
	case FitContain:
		return imaging.Fit(img, r.Width, r.Height, imaging.Lanczos)
	case FitFill:
		return imaging.Resize(img, r.Width, r.Height, imaging.Lanczos)
	default:
		return imaging.Fill(img, r.Width, r.Height, imaging.Center, imaging.Lanczos)
	}
}

func (r Resize) outputSize(int, int) (int, int) { return r.Width, r.Height }

func (r Resize) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Width   int    `json:"width"`
		Height  int    `json:"height"`
		FitMode Fit    `json:"fitMode"`
	}{KindResize, r.Width, r.Height, r.Fit})
}

// Rotate turns the image clockwise by Angle degrees. Right angles are
// lossless; other angles grow the canvas and fill the corners transparently.
type Rotate struct {
	Angle int
}

func (Rotate) Kind() string { return KindRotate }

func (r Rotate) Validate() error { return nil }

func (r Rotate) apply(img image.Image) image.Image {
	switch ((r.Angle % 360) + 360) % 360 {
	case 0:
		return img
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		// imaging rotates counter-clockwise
		return imaging.Rotate(img, -float64(r.Angle), color.Transparent)
	}
}

func (r Rotate) outputSize(w, h int) (int, int) {
	switch ((r.Angle % 360) + 360) % 360 {
	case 0, 180:
		return w, h
	case 90, 270:
		return h, w
	}
	rad := float64(r.Angle) * math.Pi / 180
	sin, cos := math.Abs(math.Sin(rad)), math.Abs(math.Cos(rad))
	fw, fh := float64(w), float64(h)
	return int(math.Ceil(fw*cos + fh*sin)), int(math.Ceil(fw*sin + fh*cos))
}

func (r Rotate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type         string `json:"type"`
		AngleDegrees int    `json:"angleDegrees"`
	}{KindRotate, r.Angle})
}

// Reformat sets the output encoding. Quality applies to JPEG and is 1-100;
// zero selects DefaultQuality.
type Reformat struct {
	Format  string
	Quality int
}

// DefaultQuality is the JPEG quality used when Reformat.Quality is zero.
const DefaultQuality = 90

var formats = map[string]imaging.Format{
	"jpeg": imaging.JPEG,
	"jpg":  imaging.JPEG,
	"png":  imaging.PNG,
	"gif":  imaging.GIF,
	"tiff": imaging.TIFF,
	"tif":  imaging.TIFF,
	"bmp":  imaging.BMP,
}

var extensions = map[imaging.Format]string{
	imaging.JPEG: ".jpg",
	imaging.PNG:  ".png",
	imaging.GIF:  ".gif",
	imaging.TIFF: ".tiff",
	imaging.BMP:  ".bmp",
}

func (Reformat) Kind() string { return KindReformat }

func (r Reformat) Validate() error {
	if _, ok := formats[strings.ToLower(r.Format)]; !ok {
		return invalid("unsupported format %q", r.Format)
	}
	if r.Quality < 0 || r.Quality > 100 {
		return invalid("quality must be between 1 and 100, got %d", r.Quality)
	}
	return nil
}

func (r Reformat) apply(img image.Image) image.Image { return img }

func (r Reformat) outputSize(w, h int) (int, int) { return w, h }

func (r Reformat) MarshalJSON() ([]byte, error) {
	type options struct {
		Quality int `json:"quality,omitempty"`
	}
	return json.Marshal(struct {
		Type         string  `json:"type"`
		TargetFormat string  `json:"targetFormat"`
		Options      options `json:"options"`
	}{KindReformat, strings.ToLower(r.Format), options{r.Quality}})
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, fmt.Sprintf(format, args...))
}

// checkSize rejects a w x h image beyond the media decode limits.
func checkSize(w, h int) error {
	if w > media.MaxImageDimension || h > media.MaxImageDimension {
		return invalid("%dx%d exceeds the %d pixel side limit", w, h, media.MaxImageDimension)
	}
	if int64(w)*int64(h) > media.MaxImagePixels {
		return invalid("%dx%d exceeds the %d pixel limit", w, h, media.MaxImagePixels)
	}
	return nil
}

// planSize walks ops from a w x h source and fails before any step would
// produce an image larger than checkSize allows.
func planSize(w, h int, ops []Operation) error {
	for _, op := range ops {
		w, h = op.outputSize(w, h)
		if err := checkSize(w, h); err != nil {
			return fmt.Errorf("%s: %w", op.Kind(), err)
		}
	}
	return nil
}

// wireOperation is the JSON form of every operation kind. Numbers are kept
// as json.Number so that non-integers can be rejected instead of truncated.
// fit, angle and format are accepted as short forms of fitMode,
// angleDegrees and targetFormat.
type wireOperation struct {
	Type         string      `json:"type"`
	Width        json.Number `json:"width"`
	Height       json.Number `json:"height"`
	FitMode      string      `json:"fitMode"`
	Fit          string      `json:"fit"`
	AngleDegrees json.Number `json:"angleDegrees"`
	Angle        json.Number `json:"angle"`
	TargetFormat string      `json:"targetFormat"`
	Format       string      `json:"format"`
	Quality      json.Number `json:"quality"`
	Options      struct {
		Quality json.Number `json:"quality"`
	} `json:"options"`
}

// fields lists the keys each operation kind accepts.
var fields = map[string]map[string]bool{
	KindResize:   {"type": true, "width": true, "height": true, "fitMode": true, "fit": true},
	KindRotate:   {"type": true, "angleDegrees": true, "angle": true},
	KindReformat: {"type": true, "targetFormat": true, "format": true, "quality": true, "options": true},
}

// either returns whichever of a long and short field was set, failing when
// both are set to different values.
func either[T ~string](name, alias string, long, short T) (T, error) {
	switch {
	case long == "":
		return short, nil
	case short == "" || long == short:
		return long, nil
	default:
		return "", invalid("%s %q conflicts with %s %q", name, long, alias, short)
	}
}

// ParseOperations decodes a JSON array of operations and validates each.
func ParseOperations(data []byte) ([]Operation, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, invalid("operations must be an array: %v", err)
	}
	return DecodeOperations(raw)
}

// DecodeOperations decodes and validates already split operations.
func DecodeOperations(raw []json.RawMessage) ([]Operation, error) {
	if len(raw) == 0 {
		return nil, invalid("at least one operation is required")
	}
	ops := make([]Operation, 0, len(raw))
	for i, r := range raw {
		op, err := ParseOperation(r)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// ParseOperation decodes one {"type": ...} operation and validates it.
func ParseOperation(data []byte) (Operation, error) {
	var w wireOperation
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return nil, invalid("malformed operation: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, invalid("trailing data after operation")
	}

	kind := strings.ToLower(w.Type)
	if allowed, ok := fields[kind]; ok {
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(data, &keys); err != nil {
			return nil, invalid("malformed operation: %v", err)
		}
		for k := range keys {
			if !allowed[k] {
				return nil, invalid("%s does not take %q", kind, k)
			}
		}
	}

	var op Operation
	switch kind {
	case KindResize:
		width, err := integer("width", w.Width, true)
		if err != nil {
			return nil, err
		}
		height, err := integer("height", w.Height, true)
		if err != nil {
			return nil, err
		}
		mode, err := either("fitMode", "fit", w.FitMode, w.Fit)
		if err != nil {
			return nil, err
		}
		fit := Fit(strings.ToLower(mode))
		if fit == "" {
			fit = FitCover
		}
		op = Resize{Width: width, Height: height, Fit: fit}

	case KindRotate:
		raw, err := either("angleDegrees", "angle", w.AngleDegrees, w.Angle)
		if err != nil {
			return nil, err
		}
		angle, err := integer("angleDegrees", raw, true)
		if err != nil {
			return nil, err
		}
		op = Rotate{Angle: angle}

	case KindReformat:
		q := w.Options.Quality
		if q == "" {
			q = w.Quality
		}
		quality, err := integer("quality", q, false)
		if err != nil {
			return nil, err
		}
		format, err := either("targetFormat", "format", w.TargetFormat, w.Format)
		if err != nil {
			return nil, err
		}
		op = Reformat{Format: strings.ToLower(format), Quality: quality}

	default:
		return nil, invalid("unknown operation type %q", w.Type)
	}

	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}

// integer converts n to an int, rejecting fractional values.
func integer(field string, n json.Number, required bool) (int, error) {
	if n == "" {
		if required {
			return 0, invalid("%s is required", field)
		}
		return 0, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, invalid("%s is not a number: %s", field, n)
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, invalid("%s must be an integer, got %s", field, n)
	}
	return int(f), nil
}

// outputEncoding returns the encoding for a job: the last Reformat wins,
// otherwise the source format is kept.
func outputEncoding(sourceFormat string, ops []Operation) (imaging.Format, int) {
	format, ok := formats[sourceFormat]
	if !ok {
		format = imaging.JPEG
	}
	quality := DefaultQuality
	for _, op := range ops {
		if r, ok := op.(Reformat); ok {
			format = formats[strings.ToLower(r.Format)]
			quality = DefaultQuality
			if r.Quality > 0 {
				quality = r.Quality
			}
		}
	}
	return format, quality
}

func encode(w io.Writer, img image.Image, format imaging.Format, quality int) error {
	switch format {
	case imaging.JPEG:
		return imaging.Encode(w, img, format, imaging.JPEGQuality(quality))
	case imaging.PNG:
		return imaging.Encode(w, img, format, imaging.PNGCompressionLevel(png.DefaultCompression))
	default:
		return imaging.Encode(w, img, format)
	}
}
