package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"media-gallery/internal/hub"
	"media-gallery/internal/library"
)

// ListImages handles GET /api/images?userId=&q=&tag=&sort=date|name.
func (h *Handlers) ListImages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	sort := library.SortField(query.Get("sort"))
	switch sort {
	case "", library.SortByDate, library.SortByName:
	default:
		writeError(w, r, badRequest("sort must be %q or %q", library.SortByDate, library.SortByName))
		return
	}

	entries, err := h.library.ListAssets(r.Context(), library.ListOptions{
		UserID: query.Get("userId"),
		Query:  query.Get("q"),
		Tag:    query.Get("tag"),
		Sort:   sort,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, entries)
}

// GetImage handles GET /api/images/{id}.
func (h *Handlers) GetImage(w http.ResponseWriter, r *http.Request) {
	asset, err := h.library.GetAsset(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, asset)
}

// UpdateMetadata handles PUT /api/images/{id}/metadata. Omitted fields are
// left as they are.
func (h *Handlers) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var details library.Details
	if err := decodeJSON(w, r, &details); err != nil {
		writeError(w, r, err)
		return
	}
	if details.Tags == nil && details.Location == nil {
		writeError(w, r, badRequest("tags or location is required"))
		return
	}

	asset, err := h.library.UpdateAssetDetails(r.Context(), mux.Vars(r)["id"], details)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, asset)
}

// DeleteImage handles DELETE /api/images/{id}.
func (h *Handlers) DeleteImage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.ingestor.Remove(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, hub.ImageDeleted{AssetID: id})
}

type viewRequest struct {
	ViewerID string `json:"viewerId"`
}

// RecordView handles POST /api/images/{id}/views.
func (h *Handlers) RecordView(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req viewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !h.assetExists(w, r, id) {
		return
	}

	rec, err := h.analytics.RecordView(r.Context(), id, req.ViewerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, rec)
}

// GetImageAnalytics handles GET /api/images/{id}/analytics.
func (h *Handlers) GetImageAnalytics(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.assetExists(w, r, id) {
		return
	}

	rec, err := h.analytics.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, rec)
}

// GetAnalytics handles GET /api/analytics.
func (h *Handlers) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	all, err := h.analytics.All(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, all)
}

// assetExists writes a 404 and returns false when id is unknown.
func (h *Handlers) assetExists(w http.ResponseWriter, r *http.Request, id string) bool {
	ok, err := h.library.HasAsset(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return false
	}
	if !ok {
		writeFailure(w, http.StatusNotFound, library.ErrAssetNotFound.Error()+": "+id, nil)
		return false
	}
	return true
}
