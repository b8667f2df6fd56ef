package library

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"media-gallery/internal/store"
)

// SetFavorite sets or, when favorite is nil, toggles whether assetID is one
// of userID's favorites, and returns the resulting state.
func (l *Library) SetFavorite(ctx context.Context, userID, assetID string, favorite *bool) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || assetID == "" {
		return false, fmt.Errorf("%w: userId and imageId are required", ErrInvalidInput)
	}

	ok, err := l.HasAsset(ctx, assetID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrAssetNotFound, assetID)
	}

	var state bool
	_, err = store.Upsert(ctx, l.store, CollectionFavorites, userID, func(ids []string, _ bool) ([]string, error) {
		i := sort.SearchStrings(ids, assetID)
		present := i < len(ids) && ids[i] == assetID

		state = !present
		if favorite != nil {
			state = *favorite
		}

		switch {
		case state && !present:
			ids = append(ids, "")
			copy(ids[i+1:], ids[i:])
			ids[i] = assetID
		case !state && present:
			ids = append(ids[:i], ids[i+1:]...)
		}
		if ids == nil {
			ids = []string{}
		}
		return ids, nil
	})
	if err != nil {
		return false, err
	}
	return state, nil
}

// dropFavorite removes assetID from every user that has it.
func (l *Library) dropFavorite(ctx context.Context, assetID string) error {
	all, err := store.All[[]string](ctx, l.store, CollectionFavorites)
	if err != nil {
		return err
	}
	for userID, ids := range all {
		if i := sort.SearchStrings(ids, assetID); i == len(ids) || ids[i] != assetID {
			continue
		}
		_, err := store.Upsert(ctx, l.store, CollectionFavorites, userID, func(ids []string, _ bool) ([]string, error) {
			if i := sort.SearchStrings(ids, assetID); i < len(ids) && ids[i] == assetID {
				ids = append(ids[:i], ids[i+1:]...)
			}
			return ids, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Favorites returns userID's favorite asset ids in sorted order.
func (l *Library) Favorites(ctx context.Context, userID string) ([]string, error) {
	ids, _, err := store.Get[[]string](ctx, l.store, CollectionFavorites, userID)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// IsFavorite reports whether assetID is one of userID's favorites.
func (l *Library) IsFavorite(ctx context.Context, userID, assetID string) (bool, error) {
	ids, err := l.Favorites(ctx, userID)
	if err != nil {
		return false, err
	}
	i := sort.SearchStrings(ids, assetID)
	return i < len(ids) && ids[i] == assetID, nil
}
