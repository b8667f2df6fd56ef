package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"media-gallery/internal/analytics"
	"media-gallery/internal/ingest"
	"media-gallery/internal/library"
	"media-gallery/internal/logging"
	"media-gallery/internal/media"
	"media-gallery/internal/transform"
)

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 1 << 20

// errBadRequest marks malformed requests the gallery packages never see.
var errBadRequest = errors.New("bad request")

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, envelope{Success: true, Data: data})
}

// writeError maps err to a status code. Server-side failures are logged and
// reported with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		logging.Error("%s %s: %v", r.Method, r.URL.Path, err)
		message = http.StatusText(status)
	}
	writeFailure(w, status, message, nil)
}

func writeFailure(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, envelope{Success: false, Error: message, Data: data})
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func statusForError(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, ingest.ErrInvalidMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ingest.ErrPayloadTooLarge), errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest),
		errors.Is(err, transform.ErrInvalidOperation),
		errors.Is(err, library.ErrInvalidInput),
		errors.Is(err, analytics.ErrInvalidView):
		return http.StatusBadRequest
	case errors.Is(err, library.ErrAssetNotFound),
		errors.Is(err, library.ErrAlbumNotFound),
		errors.Is(err, transform.ErrSourceNotFound),
		errors.Is(err, transform.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, library.ErrAssetExists):
		return http.StatusConflict
	case errors.Is(err, media.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, media.ErrDerivationTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, transform.ErrQueueFull), errors.Is(err, transform.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}
