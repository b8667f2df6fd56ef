package library

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"media-gallery/internal/store"
)

// CreateAlbum creates an album. Every asset id must exist.
func (l *Library) CreateAlbum(ctx context.Context, name, description string, assetIDs []string) (Album, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Album{}, fmt.Errorf("%w: album name is required", ErrInvalidInput)
	}
	if err := l.checkAssets(ctx, assetIDs); err != nil {
		return Album{}, err
	}

	album := Album{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   l.now().UTC(),
		AssetIDs:    append([]string{}, assetIDs...),
	}

	return store.Upsert(ctx, l.store, CollectionAlbums, album.ID, func(_ Album, exists bool) (Album, error) {
		if exists {
			return Album{}, fmt.Errorf("%w: album id collision %s", ErrInvalidInput, album.ID)
		}
		return album, nil
	})
}

// GetAlbum returns one album.
func (l *Library) GetAlbum(ctx context.Context, id string) (Album, error) {
	a, ok, err := store.Get[Album](ctx, l.store, CollectionAlbums, id)
	if err != nil {
		return Album{}, err
	}
	if !ok {
		return Album{}, fmt.Errorf("%w: %s", ErrAlbumNotFound, id)
	}
	return a, nil
}

// Albums returns every album, oldest first.
func (l *Library) Albums(ctx context.Context) ([]Album, error) {
	all, err := store.All[Album](ctx, l.store, CollectionAlbums)
	if err != nil {
		return nil, err
	}
	out := make([]Album, 0, len(all))
	for _, a := range all {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// AddToAlbum appends assetIDs to an album in the given order. Ids already
// in the album are appended again.
func (l *Library) AddToAlbum(ctx context.Context, albumID string, assetIDs []string) (Album, error) {
	if len(assetIDs) == 0 {
		return Album{}, fmt.Errorf("%w: assetIds is empty", ErrInvalidInput)
	}
	if err := l.checkAssets(ctx, assetIDs); err != nil {
		return Album{}, err
	}

	return store.Upsert(ctx, l.store, CollectionAlbums, albumID, func(a Album, exists bool) (Album, error) {
		if !exists {
			return Album{}, fmt.Errorf("%w: %s", ErrAlbumNotFound, albumID)
		}
		a.AssetIDs = append(a.AssetIDs, assetIDs...)
		return a, nil
	})
}

func (l *Library) checkAssets(ctx context.Context, ids []string) error {
	for _, id := range ids {
		ok, err := l.HasAsset(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
		}
	}
	return nil
}
