package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"media-gallery/internal/ingest"
	"media-gallery/internal/library"
)

const (
	// multipartOverhead covers boundaries, part headers and the text
	// fields around the file.
	multipartOverhead = 1 << 20
	maxFieldBytes     = 64 << 10
)

// Upload handles POST /api/upload. The multipart body is streamed part by
// part; the image part goes straight to the ingestor's temp file and is
// never buffered in memory. Text fields may come before or after it.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.ingestor.MaxUploadBytes()+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, badRequest("expected multipart/form-data: %v", err))
		return
	}

	var (
		staged  *ingest.Staged
		details library.Details
	)
	defer func() { h.ingestor.Discard(staged) }()

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, r, partError(err))
			return
		}

		switch part.FormName() {
		case "image":
			if staged != nil {
				part.Close()
				writeError(w, r, badRequest("only one image may be uploaded per request"))
				return
			}
			staged, err = h.ingestor.Stage(r.Context(), part, part.Header.Get("Content-Type"), part.FileName())
			part.Close()
			if err != nil {
				writeError(w, r, err)
				return
			}
		case "tags":
			value, err := readField(part)
			if err != nil {
				writeError(w, r, err)
				return
			}
			tags := library.ParseTags(value)
			details.Tags = &tags
		case "location":
			value, err := readField(part)
			if err != nil {
				writeError(w, r, err)
				return
			}
			location := strings.TrimSpace(value)
			details.Location = &location
		default:
			part.Close()
		}
	}

	if staged == nil {
		writeError(w, r, badRequest("missing image field"))
		return
	}

	asset, err := h.ingestor.Commit(r.Context(), staged, details)
	staged = nil
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, asset)
}

func readField(part io.ReadCloser) (string, error) {
	defer part.Close()
	data, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return "", partError(err)
	}
	if len(data) > maxFieldBytes {
		return "", badRequest("form field exceeds %d bytes", maxFieldBytes)
	}
	return string(data), nil
}

// partError keeps body-limit errors intact so they map to 413.
func partError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: request body exceeds %d bytes", ingest.ErrPayloadTooLarge, tooLarge.Limit)
	}
	return badRequest("malformed multipart body: %v", err)
}
