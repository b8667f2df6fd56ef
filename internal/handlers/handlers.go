package handlers

import (
	"sync/atomic"
	"time"

	"media-gallery/internal/analytics"
	"media-gallery/internal/hub"
	"media-gallery/internal/ingest"
	"media-gallery/internal/library"
	"media-gallery/internal/transform"
)

// Broadcaster fans events out to live viewers. *hub.Hub satisfies it.
type Broadcaster interface {
	Broadcast(ev hub.Event, exclude *hub.Client) int
	Count() int
}

type Handlers struct {
	library   *library.Library
	analytics *analytics.Tracker
	ingestor  *ingest.Ingestor
	queue     *transform.Queue
	hub       Broadcaster
	startTime time.Time
	ready     atomic.Bool
}

func New(lib *library.Library, tracker *analytics.Tracker, ing *ingest.Ingestor, q *transform.Queue, b Broadcaster) *Handlers {
	return &Handlers{
		library:   lib,
		analytics: tracker,
		ingestor:  ing,
		queue:     q,
		hub:       b,
		startTime: time.Now(),
	}
}

// SetReady flips the readiness probe. The server reports ready once the
// store is loaded and the transform workers are running.
func (h *Handlers) SetReady(ready bool) {
	h.ready.Store(ready)
}
