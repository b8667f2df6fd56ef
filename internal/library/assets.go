package library

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"media-gallery/internal/metrics"
	"media-gallery/internal/store"
)

// Library is the typed view of the gallery collections. Every write goes
// through store.Upsert, so writers to a collection are serialized.
type Library struct {
	store *store.Store
	now   func() time.Time
}

// New returns a Library over s.
func New(s *store.Store) *Library {
	return &Library{store: s, now: time.Now}
}

// AddAsset records a newly ingested asset. An id can only be added once.
func (l *Library) AddAsset(ctx context.Context, a Asset) (Asset, error) {
	if a.ID == "" {
		return Asset{}, fmt.Errorf("%w: asset id is required", ErrInvalidInput)
	}
	a.Tags = NormalizeTags(a.Tags)
	a.Location = strings.TrimSpace(a.Location)
	if a.Date.IsZero() {
		a.Date = l.now().UTC()
	}

	return store.Upsert(ctx, l.store, CollectionAssets, a.ID, func(_ Asset, exists bool) (Asset, error) {
		if exists {
			return Asset{}, fmt.Errorf("%w: %s", ErrAssetExists, a.ID)
		}
		return a, nil
	})
}

// GetAsset returns the asset with the given id.
func (l *Library) GetAsset(ctx context.Context, id string) (Asset, error) {
	a, ok, err := store.Get[Asset](ctx, l.store, CollectionAssets, id)
	if err != nil {
		return Asset{}, err
	}
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	return a, nil
}

// HasAsset reports whether id is a known asset.
func (l *Library) HasAsset(ctx context.Context, id string) (bool, error) {
	_, ok, err := l.store.Get(ctx, CollectionAssets, id)
	return ok, err
}

// RemoveAsset deletes an asset record and drops it from every user's
// favorites.
func (l *Library) RemoveAsset(ctx context.Context, id string) error {
	existed, err := l.store.Delete(ctx, CollectionAssets, id)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	return l.dropFavorite(ctx, id)
}

// UpdateAssetDetails replaces the tags and/or location of an asset.
func (l *Library) UpdateAssetDetails(ctx context.Context, id string, d Details) (Asset, error) {
	return store.Upsert(ctx, l.store, CollectionAssets, id, func(a Asset, exists bool) (Asset, error) {
		if !exists {
			return Asset{}, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
		}
		if d.Tags != nil {
			a.Tags = NormalizeTags(*d.Tags)
		}
		if d.Location != nil {
			a.Location = strings.TrimSpace(*d.Location)
		}
		return a, nil
	})
}

// Assets returns every asset, newest first.
func (l *Library) Assets(ctx context.Context) ([]Asset, error) {
	all, err := store.All[Asset](ctx, l.store, CollectionAssets)
	if err != nil {
		return nil, err
	}
	out := make([]Asset, 0, len(all))
	for _, a := range all {
		out = append(out, a)
	}
	sortAssets(out, SortByDate)
	return out, nil
}

// Snapshot returns the full asset list, newest first.
func (l *Library) Snapshot(ctx context.Context) (Snapshot, error) {
	assets, err := l.Assets(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Assets: assets}, nil
}

// ListAssets returns the assets matching opts. When opts.UserID is set each
// entry carries that user's favorite flag.
func (l *Library) ListAssets(ctx context.Context, opts ListOptions) ([]Entry, error) {
	assets, err := l.Assets(ctx)
	if err != nil {
		return nil, err
	}

	favorites := map[string]bool{}
	if opts.UserID != "" {
		ids, err := l.Favorites(ctx, opts.UserID)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			favorites[id] = true
		}
	}

	query := strings.ToLower(strings.TrimSpace(opts.Query))
	tag := strings.TrimSpace(opts.Tag)

	filtered := assets[:0]
	for _, a := range assets {
		if query != "" && !strings.Contains(strings.ToLower(a.Name), query) {
			continue
		}
		if tag != "" && !hasTag(a.Tags, tag) {
			continue
		}
		filtered = append(filtered, a)
	}
	sortAssets(filtered, opts.Sort)

	entries := make([]Entry, len(filtered))
	for i, a := range filtered {
		entries[i] = Entry{Asset: a, IsFavorite: favorites[a.ID]}
	}
	return entries, nil
}

// Tags returns every tag with the number of assets carrying it.
func (l *Library) Tags(ctx context.Context) (map[string]int, error) {
	all, err := store.All[Asset](ctx, l.store, CollectionAssets)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, a := range all {
		for _, t := range a.Tags {
			counts[t]++
		}
	}
	return counts, nil
}

// NormalizeTags trims tags, drops empties and removes duplicates while
// keeping the first occurrence's position.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		out = append(out, t)
	}
	return out
}

// ParseTags splits a comma separated tag list.
func ParseTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	return NormalizeTags(strings.Split(raw, ","))
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}

func sortAssets(assets []Asset, field SortField) {
	switch field {
	case SortByName:
		sort.SliceStable(assets, func(i, j int) bool {
			return strings.ToLower(assets[i].Name) < strings.ToLower(assets[j].Name)
		})
	default:
		sort.SliceStable(assets, func(i, j int) bool {
			if assets[i].Date.Equal(assets[j].Date) {
				return assets[i].ID < assets[j].ID
			}
			return assets[i].Date.After(assets[j].Date)
		})
	}
}

// GetStats implements metrics.StatsProvider.
func (l *Library) GetStats() metrics.Stats {
	ctx := context.Background()
	var stats metrics.Stats

	stats.TotalAssets, _ = l.store.Len(ctx, CollectionAssets)
	stats.TotalAlbums, _ = l.store.Len(ctx, CollectionAlbums)

	if favs, err := store.All[[]string](ctx, l.store, CollectionFavorites); err == nil {
		for _, ids := range favs {
			stats.TotalFavorites += len(ids)
		}
	}
	if tags, err := l.Tags(ctx); err == nil {
		stats.TotalTags = len(tags)
	}
	return stats
}
