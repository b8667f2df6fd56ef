package ingest

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"media-gallery/internal/filesystem"
	"media-gallery/internal/hub"
	"media-gallery/internal/library"
	"media-gallery/internal/logging"
	"media-gallery/internal/media"
	"media-gallery/internal/metrics"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/crypto/blake2b"
)

var (
	// ErrInvalidMediaType means the declared or detected type is not an
	// accepted image type.
	ErrInvalidMediaType = errors.New("unsupported media type")
	// ErrPayloadTooLarge means the upload exceeded the configured ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Defaults used for zero Config fields.
const (
	DefaultMaxUploadBytes    int64 = 5 << 20
	DefaultDerivationTimeout       = 30 * time.Second
	DefaultImagesURL               = "/images"
	DefaultThumbnailsURL           = "/thumbnails"
)

// sniffLen is how many leading bytes are inspected for content detection.
const sniffLen = 3072

// allowed maps accepted media types to the extension used when the client
// supplied no matching one.
var allowed = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
}

// NormalizeMediaType lower-cases t, strips parameters and resolves the
// image/jpg alias.
func NormalizeMediaType(t string) string {
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		t = mt
	}
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "image/jpg" || t == "image/pjpeg" {
		return "image/jpeg"
	}
	return t
}

// IsAllowedType reports whether t is an accepted upload type.
func IsAllowedType(t string) bool {
	_, ok := allowed[NormalizeMediaType(t)]
	return ok
}

// Deriver produces metadata and a thumbnail for a stored original.
// *media.Generator satisfies it.
type Deriver interface {
	Generate(ctx context.Context, srcPath string) (*media.Derived, error)
	ThumbnailPath(srcPath string) string
}

// Catalog records ingested assets. *library.Library satisfies it.
type Catalog interface {
	AddAsset(ctx context.Context, a library.Asset) (library.Asset, error)
	RemoveAsset(ctx context.Context, id string) error
}

// Notifier announces new assets. *hub.Hub satisfies it.
type Notifier interface {
	Broadcast(ev hub.Event, exclude *hub.Client) int
}

// Config configures an Ingestor.
type Config struct {
	// UploadDir receives originals. Temp files are created here too so the
	// final link never crosses a filesystem.
	UploadDir         string
	MaxUploadBytes    int64
	DerivationTimeout time.Duration
	ImagesURL         string
	ThumbnailsURL     string
}

// Upload is one incoming file.
type Upload struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	Details     library.Details
}

// Staged is an upload that has been validated and written to a temp file
// but not yet claimed under its final name.
type Staged struct {
	Filename  string
	MediaType string
	Size      int64
	Checksum  string

	tmpPath string
	started time.Time
}

// Ingestor validates uploads, stores originals and derives thumbnails.
type Ingestor struct {
	cfg      Config
	deriver  Deriver
	catalog  Catalog
	notifier Notifier
	log      logging.Logger

	// claimMu serializes name claims so two uploads never share a stem.
	claimMu sync.Mutex
	now     func() time.Time
}

// New returns an Ingestor. notifier may be nil.
func New(cfg Config, deriver Deriver, catalog Catalog, notifier Notifier) *Ingestor {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.DerivationTimeout <= 0 {
		cfg.DerivationTimeout = DefaultDerivationTimeout
	}
	if cfg.ImagesURL == "" {
		cfg.ImagesURL = DefaultImagesURL
	}
	if cfg.ThumbnailsURL == "" {
		cfg.ThumbnailsURL = DefaultThumbnailsURL
	}
	return &Ingestor{
		cfg:      cfg,
		deriver:  deriver,
		catalog:  catalog,
		notifier: notifier,
		log:      logging.For("ingest"),
		now:      time.Now,
	}
}

// MaxUploadBytes returns the configured size ceiling.
func (i *Ingestor) MaxUploadBytes() int64 {
	return i.cfg.MaxUploadBytes
}

// Ingest stages and commits an upload.
func (i *Ingestor) Ingest(ctx context.Context, u Upload) (*library.Asset, error) {
	st, err := i.Stage(ctx, u.Reader, u.ContentType, u.Filename)
	if err != nil {
		return nil, err
	}
	return i.Commit(ctx, st, u.Details)
}

// Stage validates the declared type, then streams r into a temp file while
// hashing and sniffing it. Nothing is written for a rejected declared type,
// and the temp file is removed on every failure.
func (i *Ingestor) Stage(ctx context.Context, r io.Reader, declaredType, filename string) (*Staged, error) {
	started := i.now()

	declared := NormalizeMediaType(declaredType)
	if _, ok := allowed[declared]; !ok {
		metrics.UploadsTotal.WithLabelValues("invalid_type").Inc()
		return nil, fmt.Errorf("%w: %q", ErrInvalidMediaType, declaredType)
	}

	if err := os.MkdirAll(i.cfg.UploadDir, 0o755); err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	tmp, err := os.CreateTemp(i.cfg.UploadDir, ".upload-*")
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	st, err := i.stream(ctx, tmp, r)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		filesystem.RemoveIfExists(tmp.Name())
		metrics.UploadsTotal.WithLabelValues(uploadStatus(err)).Inc()
		return nil, err
	}

	st.tmpPath = tmp.Name()
	st.started = started
	st.Filename = storageName(filename, st.MediaType)
	i.log.Debug("staged %s (%s, %d bytes)", st.Filename, st.MediaType, st.Size)
	return st, nil
}

func (i *Ingestor) stream(ctx context.Context, tmp *os.File, r io.Reader) (*Staged, error) {
	limited := &io.LimitedReader{R: &contextReader{ctx: ctx, r: r}, N: i.cfg.MaxUploadBytes + 1}
	br := bufio.NewReaderSize(limited, sniffLen)

	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(head) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrInvalidMediaType)
	}
	detected := NormalizeMediaType(mimetype.Detect(head).String())
	if _, ok := allowed[detected]; !ok {
		return nil, fmt.Errorf("%w: content is %s", ErrInvalidMediaType, detected)
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	written, err := io.Copy(io.MultiWriter(tmp, h), br)
	if err != nil {
		return nil, err
	}
	if written > i.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrPayloadTooLarge, i.cfg.MaxUploadBytes)
	}
	if err := tmp.Sync(); err != nil {
		return nil, err
	}

	return &Staged{
		MediaType: detected,
		Size:      written,
		Checksum:  sum(h),
	}, nil
}

// Discard removes a staged upload that will not be committed.
func (i *Ingestor) Discard(st *Staged) {
	if st == nil {
		return
	}
	filesystem.RemoveIfExists(st.tmpPath)
}

// Commit claims a unique name for st, derives its thumbnail and metadata,
// records the asset and broadcasts new-image. Any failure after the claim
// removes the original and its thumbnail.
func (i *Ingestor) Commit(ctx context.Context, st *Staged, details library.Details) (*library.Asset, error) {
	defer i.Discard(st)

	if err := ctx.Err(); err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	name, err := i.claim(st)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	original := filepath.Join(i.cfg.UploadDir, name)

	cleanup := func() {
		filesystem.RemoveIfExists(original)
		filesystem.RemoveIfExists(i.deriver.ThumbnailPath(original))
	}

	dctx, cancel := context.WithTimeout(ctx, i.cfg.DerivationTimeout)
	derived, err := i.deriver.Generate(dctx, original)
	cancel()
	if err != nil {
		cleanup()
		metrics.UploadsTotal.WithLabelValues("derivation_error").Inc()
		i.log.Warn("derivation failed for %s: %v", name, err)
		return nil, err
	}

	asset := library.Asset{
		ID:           name,
		Name:         name,
		Src:          i.cfg.ImagesURL + "/" + name,
		ThumbnailURL: i.cfg.ThumbnailsURL + "/" + filepath.Base(derived.ThumbnailPath),
		Metadata:     derived.Metadata,
		Checksum:     st.Checksum,
		Date:         i.now().UTC(),
	}
	if details.Tags != nil {
		asset.Tags = *details.Tags
	}
	if details.Location != nil {
		asset.Location = *details.Location
	}

	saved, err := i.catalog.AddAsset(ctx, asset)
	if err != nil {
		cleanup()
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.UploadsTotal.WithLabelValues("success").Inc()
	metrics.UploadBytes.Observe(float64(st.Size))
	metrics.UploadDuration.Observe(time.Since(st.started).Seconds())
	i.log.Info("ingested %s (%dx%d %s, %d bytes)", name, saved.Metadata.Width, saved.Metadata.Height, saved.Metadata.Format, st.Size)

	if i.notifier != nil {
		i.notifier.Broadcast(hub.Event{Type: hub.TypeNewImage, Data: saved}, nil)
	}
	return &saved, nil
}

// Remove deletes an ingested asset: its record, original and thumbnail,
// and broadcasts image-deleted.
func (i *Ingestor) Remove(ctx context.Context, id string) error {
	if id != filepath.Base(id) || !media.IsImageFile(id) {
		return fmt.Errorf("%w: %s", library.ErrAssetNotFound, id)
	}
	i.claimMu.Lock()
	defer i.claimMu.Unlock()

	if err := i.catalog.RemoveAsset(ctx, id); err != nil {
		return err
	}

	original := filepath.Join(i.cfg.UploadDir, id)
	filesystem.RemoveIfExists(original)
	filesystem.RemoveIfExists(i.deriver.ThumbnailPath(original))
	i.log.Info("removed %s", id)

	if i.notifier != nil {
		i.notifier.Broadcast(hub.Event{Type: hub.TypeImageDeleted, Data: hub.ImageDeleted{AssetID: id}}, nil)
	}
	return nil
}

// claim links the staged file to the first free name: name.ext, name-1.ext,
// name-2.ext and so on. A name is free when no original shares its stem,
// because the thumbnail is keyed by stem.
func (i *Ingestor) claim(st *Staged) (string, error) {
	i.claimMu.Lock()
	defer i.claimMu.Unlock()

	ext := filepath.Ext(st.Filename)
	stem := strings.TrimSuffix(st.Filename, ext)

	for n := 0; n < 10000; n++ {
		candidate := stem
		if n > 0 {
			candidate = stem + "-" + strconv.Itoa(n)
		}
		taken, err := filepath.Glob(filepath.Join(i.cfg.UploadDir, candidate+".*"))
		if err != nil {
			return "", err
		}
		if len(taken) > 0 {
			continue
		}

		name := candidate + ext
		err = linkNoClobber(st.tmpPath, filepath.Join(i.cfg.UploadDir, name))
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("store original %s: %w", name, err)
		}
		return name, nil
	}
	return "", fmt.Errorf("no free name for %s", st.Filename)
}

// linkNoClobber creates dst with the content of src, failing with
// os.ErrExist if dst already exists. Filesystems without hard links fall
// back to an exclusive create and copy.
func linkNoClobber(src, dst string) error {
	err := os.Link(src, dst)
	if err == nil || errors.Is(err, os.ErrExist) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		filesystem.RemoveIfExists(dst)
		return err
	}
	if err := out.Close(); err != nil {
		filesystem.RemoveIfExists(dst)
		return err
	}
	return nil
}

// storageName turns a client file name into a safe base name whose
// extension agrees with the detected type.
func storageName(filename, mediaType string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(base))
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	stem = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			return r
		case r == ' ' || r == '.':
			return '_'
		default:
			return -1
		}
	}, stem)
	stem = strings.Trim(stem, "_-")
	if runes := []rune(stem); len(runes) > 100 {
		stem = string(runes[:100])
	}
	if stem == "" {
		stem = "upload"
	}

	if media.ImageExtensions[ext] != strings.TrimPrefix(mediaType, "image/") {
		ext = allowed[mediaType]
	}
	return stem + ext
}

func uploadStatus(err error) string {
	switch {
	case errors.Is(err, ErrInvalidMediaType):
		return "invalid_type"
	case errors.Is(err, ErrPayloadTooLarge):
		return "too_large"
	default:
		return "error"
	}
}

func sum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// contextReader fails reads once ctx is done, so a disconnected client
// stops the copy.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
