package handlers

import "net/http"

// GetTags handles GET /api/tags, returning each tag with its asset count.
func (h *Handlers) GetTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.library.Tags(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, tags)
}
