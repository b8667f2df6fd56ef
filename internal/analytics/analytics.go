package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"media-gallery/internal/metrics"
	"media-gallery/internal/store"
)

// Collection is the store collection holding analytics records.
const Collection = "analytics"

// ErrInvalidView is returned when an asset or viewer id is missing.
var ErrInvalidView = errors.New("invalid view")

// Record holds the view statistics of one asset. UniqueViewers is kept
// sorted and never contains duplicates.
type Record struct {
	ViewCount     int64     `json:"viewCount"`
	UniqueViewers []string  `json:"uniqueViewers"`
	LastViewed    time.Time `json:"lastViewed"`
}

// Tracker records asset views.
type Tracker struct {
	store *store.Store
	now   func() time.Time
}

// New returns a Tracker persisting through s.
func New(s *store.Store) *Tracker {
	return &Tracker{store: s, now: time.Now}
}

// RecordView counts one view of assetID by viewerID. The count always
// grows; the viewer set only grows for a viewer not seen before.
func (t *Tracker) RecordView(ctx context.Context, assetID, viewerID string) (Record, error) {
	assetID = strings.TrimSpace(assetID)
	viewerID = strings.TrimSpace(viewerID)
	if assetID == "" || viewerID == "" {
		return Record{}, fmt.Errorf("%w: assetId and viewerId are required", ErrInvalidView)
	}

	now := t.now().UTC()
	rec, err := store.Upsert(ctx, t.store, Collection, assetID, func(r Record, _ bool) (Record, error) {
		r.ViewCount++
		r.UniqueViewers = addSorted(r.UniqueViewers, viewerID)
		r.LastViewed = now
		return r, nil
	})
	if err != nil {
		return Record{}, err
	}

	metrics.AnalyticsViewsTotal.Inc()
	return rec, nil
}

// Get returns the record for assetID; an asset never viewed has a zero record.
func (t *Tracker) Get(ctx context.Context, assetID string) (Record, error) {
	rec, _, err := store.Get[Record](ctx, t.store, Collection, assetID)
	if err != nil {
		return Record{}, err
	}
	if rec.UniqueViewers == nil {
		rec.UniqueViewers = []string{}
	}
	return rec, nil
}

// All returns every analytics record keyed by asset id.
func (t *Tracker) All(ctx context.Context) (map[string]Record, error) {
	return store.All[Record](ctx, t.store, Collection)
}

func addSorted(set []string, v string) []string {
	i := sort.SearchStrings(set, v)
	if i < len(set) && set[i] == v {
		return set
	}
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = v
	return set
}
