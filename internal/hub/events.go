package hub

import (
	"context"
	"errors"
	"strings"
)

// Outbound event types.
const (
	TypeSnapshot       = "snapshot"
	TypeNewImage       = "new-image"
	TypeFavoriteUpdate = "favorite-update"
	TypeDerivedImage   = "derived-image"
	TypeImageDeleted   = "image-deleted"
)

// TypeView is the inbound message reporting that a client viewed an asset.
const TypeView = "view"

// ErrInvalidMessage is returned for inbound messages outside the schema.
var ErrInvalidMessage = errors.New("invalid message")

// Event is the frame sent to clients: {"type":..., "data":...}.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// FavoriteUpdate is both an outbound event payload and an accepted inbound
// message.
type FavoriteUpdate struct {
	AssetID    string `json:"assetId"`
	UserID     string `json:"userId"`
	IsFavorite bool   `json:"isFavorite"`
}

// Normalized returns f with surrounding whitespace trimmed from the ids.
func (f FavoriteUpdate) Normalized() FavoriteUpdate {
	f.AssetID = strings.TrimSpace(f.AssetID)
	f.UserID = strings.TrimSpace(f.UserID)
	return f
}

// Validate checks the required fields.
func (f FavoriteUpdate) Validate() error {
	if strings.TrimSpace(f.AssetID) == "" || strings.TrimSpace(f.UserID) == "" {
		return errors.Join(ErrInvalidMessage, errors.New("assetId and userId are required"))
	}
	return nil
}

// ImageDeleted is the payload of the image-deleted event.
type ImageDeleted struct {
	AssetID string `json:"assetId"`
}

// View is an inbound message recorded by the analytics tracker.
type View struct {
	AssetID  string `json:"assetId"`
	ViewerID string `json:"viewerId"`
}

// Validate checks the required fields.
func (v View) Validate() error {
	if strings.TrimSpace(v.AssetID) == "" || strings.TrimSpace(v.ViewerID) == "" {
		return errors.Join(ErrInvalidMessage, errors.New("assetId and viewerId are required"))
	}
	return nil
}

// Hooks connect the hub to the rest of the application. Every hook is
// optional.
type Hooks struct {
	// Snapshot returns the data sent as a snapshot event to each new
	// connection, so a reconnecting client can rebuild its state.
	Snapshot func(ctx context.Context) (any, error)
	// Favorite is called for an inbound favorite-update before it is
	// relayed. An error drops the message.
	Favorite func(ctx context.Context, f FavoriteUpdate) error
	// View is called for an inbound view message.
	View func(ctx context.Context, v View) error
}
