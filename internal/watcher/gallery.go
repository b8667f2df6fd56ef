package watcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"media-gallery/internal/hub"
	"media-gallery/internal/library"
	"media-gallery/internal/transform"
)

// ErrUnknownEvent is returned by Apply for an event type it does not handle.
var ErrUnknownEvent = errors.New("unknown event type")

// Event is an event as received from the server, with its payload still
// encoded.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Change describes what an applied event changed.
type Change struct {
	Type    string
	AssetID string
}

// State is a copy of the gallery as seen by a viewer.
type State struct {
	Assets []library.Asset
	// Favorites maps user id to the set of that user's favorite asset ids.
	Favorites map[string]map[string]bool
	// Derived maps a source asset id to the outputs derived from it.
	Derived map[string][]transform.Output
}

// Gallery is the viewer-side state built from the event stream. A snapshot
// event replaces the asset list; the other events patch it.
type Gallery struct {
	mu        sync.RWMutex
	assets    map[string]library.Asset
	favorites map[string]map[string]bool
	derived   map[string][]transform.Output

	subMu  sync.Mutex
	subs   map[int]func(Change)
	nextID int
}

// NewGallery returns an empty Gallery.
func NewGallery() *Gallery {
	return &Gallery{
		assets:    make(map[string]library.Asset),
		favorites: make(map[string]map[string]bool),
		derived:   make(map[string][]transform.Output),
		subs:      make(map[int]func(Change)),
	}
}

// Apply folds ev into the gallery and notifies subscribers.
func (g *Gallery) Apply(ev Event) error {
	var change Change
	var err error

	switch ev.Type {
	case hub.TypeSnapshot:
		change, err = g.applySnapshot(ev.Data)
	case hub.TypeNewImage:
		change, err = g.applyNewImage(ev.Data)
	case hub.TypeFavoriteUpdate:
		change, err = g.applyFavorite(ev.Data)
	case hub.TypeDerivedImage:
		change, err = g.applyDerived(ev.Data)
	case hub.TypeImageDeleted:
		change, err = g.applyDeleted(ev.Data)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	if err != nil {
		return fmt.Errorf("decode %s event: %w", ev.Type, err)
	}

	change.Type = ev.Type
	g.notify(change)
	return nil
}

func (g *Gallery) applySnapshot(data json.RawMessage) (Change, error) {
	var snap library.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Change{}, err
	}
	assets := make(map[string]library.Asset, len(snap.Assets))
	for _, a := range snap.Assets {
		assets[a.ID] = a
	}

	g.mu.Lock()
	g.assets = assets
	g.mu.Unlock()
	return Change{}, nil
}

func (g *Gallery) applyNewImage(data json.RawMessage) (Change, error) {
	var a library.Asset
	if err := json.Unmarshal(data, &a); err != nil {
		return Change{}, err
	}
	if a.ID == "" {
		return Change{}, errors.New("asset without id")
	}

	g.mu.Lock()
	g.assets[a.ID] = a
	g.mu.Unlock()
	return Change{AssetID: a.ID}, nil
}

func (g *Gallery) applyFavorite(data json.RawMessage) (Change, error) {
	var f hub.FavoriteUpdate
	if err := json.Unmarshal(data, &f); err != nil {
		return Change{}, err
	}
	if err := f.Validate(); err != nil {
		return Change{}, err
	}

	g.mu.Lock()
	set := g.favorites[f.UserID]
	if set == nil {
		set = make(map[string]bool)
		g.favorites[f.UserID] = set
	}
	if f.IsFavorite {
		set[f.AssetID] = true
	} else {
		delete(set, f.AssetID)
	}
	g.mu.Unlock()
	return Change{AssetID: f.AssetID}, nil
}

func (g *Gallery) applyDerived(data json.RawMessage) (Change, error) {
	var d transform.DerivedImage
	if err := json.Unmarshal(data, &d); err != nil {
		return Change{}, err
	}

	g.mu.Lock()
	outputs := g.derived[d.SourceID]
	replaced := false
	for i := range outputs {
		if outputs[i].Path == d.Path {
			outputs[i] = d.Output
			replaced = true
		}
	}
	if !replaced {
		outputs = append(outputs, d.Output)
	}
	g.derived[d.SourceID] = outputs
	g.mu.Unlock()
	return Change{AssetID: d.SourceID}, nil
}

func (g *Gallery) applyDeleted(data json.RawMessage) (Change, error) {
	var d hub.ImageDeleted
	if err := json.Unmarshal(data, &d); err != nil {
		return Change{}, err
	}
	if d.AssetID == "" {
		return Change{}, errors.New("deletion without asset id")
	}

	g.mu.Lock()
	delete(g.assets, d.AssetID)
	delete(g.derived, d.AssetID)
	for _, set := range g.favorites {
		delete(set, d.AssetID)
	}
	g.mu.Unlock()
	return Change{AssetID: d.AssetID}, nil
}

// Snapshot returns a copy of the current state with assets newest first.
func (g *Gallery) Snapshot() State {
	g.mu.RLock()
	defer g.mu.RUnlock()

	st := State{
		Assets:    make([]library.Asset, 0, len(g.assets)),
		Favorites: make(map[string]map[string]bool, len(g.favorites)),
		Derived:   make(map[string][]transform.Output, len(g.derived)),
	}
	for _, a := range g.assets {
		st.Assets = append(st.Assets, a)
	}
	sort.Slice(st.Assets, func(i, j int) bool {
		if st.Assets[i].Date.Equal(st.Assets[j].Date) {
			return st.Assets[i].ID < st.Assets[j].ID
		}
		return st.Assets[i].Date.After(st.Assets[j].Date)
	})
	for user, set := range g.favorites {
		cp := make(map[string]bool, len(set))
		for id := range set {
			cp[id] = true
		}
		st.Favorites[user] = cp
	}
	for id, outs := range g.derived {
		st.Derived[id] = append([]transform.Output(nil), outs...)
	}
	return st
}

// Len returns the number of known assets.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.assets)
}

// Subscribe registers fn to be called after every applied event. fn runs
// on the goroutine that called Apply. The returned func unsubscribes.
func (g *Gallery) Subscribe(fn func(Change)) func() {
	g.subMu.Lock()
	id := g.nextID
	g.nextID++
	g.subs[id] = fn
	g.subMu.Unlock()

	return func() {
		g.subMu.Lock()
		delete(g.subs, id)
		g.subMu.Unlock()
	}
}

func (g *Gallery) notify(c Change) {
	g.subMu.Lock()
	fns := make([]func(Change), 0, len(g.subs))
	for _, fn := range g.subs {
		fns = append(fns, fn)
	}
	g.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
