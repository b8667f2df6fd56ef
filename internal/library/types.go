package library

import (
	"errors"
	"time"

	"media-gallery/internal/media"
)

// Collection names in the store.
const (
	CollectionAssets    = "assets"
	CollectionFavorites = "favorites"
	CollectionAlbums    = "albums"
)

var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrAssetExists   = errors.New("asset already exists")
	ErrAlbumNotFound = errors.New("album not found")
	ErrInvalidInput  = errors.New("invalid input")
)

// Asset is a stored original plus its derived metadata.
type Asset struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Src          string         `json:"src"`
	ThumbnailURL string         `json:"thumbnailUrl"`
	Metadata     media.Metadata `json:"metadata"`
	Checksum     string         `json:"checksum,omitempty"`
	Date         time.Time      `json:"date"`
	Tags         []string       `json:"tags"`
	Location     string         `json:"location,omitempty"`
}

// Entry is an asset as listed for a particular user.
type Entry struct {
	Asset
	IsFavorite bool `json:"isFavorite"`
}

// Details are the user-editable fields of an asset. Nil fields are left
// unchanged by UpdateAssetDetails.
type Details struct {
	Tags     *[]string `json:"tags,omitempty"`
	Location *string   `json:"location,omitempty"`
}

// Album is a curated, ordered list of assets. AssetIDs may repeat.
type Album struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	AssetIDs    []string  `json:"assetIds"`
}

// SortField orders asset listings.
type SortField string

const (
	// SortByDate lists the newest uploads first.
	SortByDate SortField = "date"
	// SortByName lists assets by name, case-insensitively.
	SortByName SortField = "name"
)

// ListOptions filters and orders ListAssets.
type ListOptions struct {
	UserID string
	Query  string
	Tag    string
	Sort   SortField
}

// Snapshot is the catch-up state sent to a viewer when it connects.
type Snapshot struct {
	Assets []Asset `json:"assets"`
}
