package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-gate/internal/users"
)

// ImagesHandler serves stored face images
type ImagesHandler struct {
	users *users.Service
	log   *slog.Logger
}

// NewImagesHandler creates a new images handler
func NewImagesHandler(svc *users.Service, log *slog.Logger) *ImagesHandler {
	return &ImagesHandler{users: svc, log: log}
}

// Get streams the image stored under the wildcard path, e.g. /imagenes/users/<uuid>.jpg
func (h *ImagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := h.users.Image(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		respondServiceError(w, r, h.log, "get image", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
