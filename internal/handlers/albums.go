package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

type albumRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	AssetIDs    []string `json:"assetIds"`
}

func (h *Handlers) ListAlbums(w http.ResponseWriter, r *http.Request) {
	albums, err := h.library.Albums(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, albums)
}

func (h *Handlers) CreateAlbum(w http.ResponseWriter, r *http.Request) {
	var req albumRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	album, err := h.library.CreateAlbum(r.Context(), req.Name, req.Description, req.AssetIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, album)
}

func (h *Handlers) GetAlbum(w http.ResponseWriter, r *http.Request) {
	album, err := h.library.GetAlbum(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, album)
}

// AddAlbumAssets appends assets to an album, keeping request order.
func (h *Handlers) AddAlbumAssets(w http.ResponseWriter, r *http.Request) {
	var req albumRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	album, err := h.library.AddToAlbum(r.Context(), mux.Vars(r)["id"], req.AssetIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, album)
}
