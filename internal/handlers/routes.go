package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterAPI mounts the JSON API on r.
func (h *Handlers) RegisterAPI(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/upload", h.Upload).Methods(http.MethodPost)

	api.HandleFunc("/images", h.ListImages).Methods(http.MethodGet)
	api.HandleFunc("/images/{id}", h.GetImage).Methods(http.MethodGet)
	api.HandleFunc("/images/{id}", h.DeleteImage).Methods(http.MethodDelete)
	api.HandleFunc("/images/{id}/metadata", h.UpdateMetadata).Methods(http.MethodPut)
	api.HandleFunc("/images/{id}/views", h.RecordView).Methods(http.MethodPost)
	api.HandleFunc("/images/{id}/analytics", h.GetImageAnalytics).Methods(http.MethodGet)
	api.HandleFunc("/analytics", h.GetAnalytics).Methods(http.MethodGet)

	api.HandleFunc("/favorites", h.SetFavorite).Methods(http.MethodPost)
	api.HandleFunc("/favorites", h.GetFavorites).Methods(http.MethodGet)
	api.HandleFunc("/tags", h.GetTags).Methods(http.MethodGet)

	api.HandleFunc("/albums", h.ListAlbums).Methods(http.MethodGet)
	api.HandleFunc("/albums", h.CreateAlbum).Methods(http.MethodPost)
	api.HandleFunc("/albums/{id}", h.GetAlbum).Methods(http.MethodGet)
	api.HandleFunc("/albums/{id}/assets", h.AddAlbumAssets).Methods(http.MethodPost)

	api.HandleFunc("/process-image", h.ProcessImage).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}", h.GetJob).Methods(http.MethodGet)
}

// RegisterProbes mounts the health, liveness, readiness and version
// endpoints.
func (h *Handlers) RegisterProbes(r *mux.Router) {
	r.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)
}
