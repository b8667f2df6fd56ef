package handlers

import (
	"net/http"

	"media-gallery/internal/hub"
)

type favoriteRequest struct {
	UserID  string `json:"userId"`
	ImageID string `json:"imageId"`
	// IsFavorite is optional; when omitted the current state is toggled.
	IsFavorite *bool `json:"isFavorite"`
}

// SetFavorite handles POST /api/favorites and broadcasts the new state to
// every viewer.
func (h *Handlers) SetFavorite(w http.ResponseWriter, r *http.Request) {
	var req favoriteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	update := hub.FavoriteUpdate{AssetID: req.ImageID, UserID: req.UserID}.Normalized()
	state, err := h.library.SetFavorite(r.Context(), update.UserID, update.AssetID, req.IsFavorite)
	if err != nil {
		writeError(w, r, err)
		return
	}
	update.IsFavorite = state
	if h.hub != nil {
		h.hub.Broadcast(hub.Event{Type: hub.TypeFavoriteUpdate, Data: update}, nil)
	}
	writeSuccess(w, http.StatusOK, update)
}

// GetFavorites handles GET /api/favorites?userId=.
func (h *Handlers) GetFavorites(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, r, badRequest("userId is required"))
		return
	}

	ids, err := h.library.Favorites(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, ids)
}
