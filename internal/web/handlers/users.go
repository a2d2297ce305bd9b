package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kozaktomas/face-gate/internal/config"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/users"
)

// UsersHandler handles registration and user maintenance endpoints
type UsersHandler struct {
	config *config.Config
	users  *users.Service
	log    *slog.Logger
}

// NewUsersHandler creates a new users handler
func NewUsersHandler(cfg *config.Config, svc *users.Service, log *slog.Logger) *UsersHandler {
	return &UsersHandler{
		config: cfg,
		users:  svc,
		log:    log,
	}
}

// CreateResponse is returned by POST /subirUsuario
type CreateResponse struct {
	Message string         `json:"mensaje"`
	User    *database.User `json:"usuario"`
}

// Create registers a new user from a multipart form
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r, h.config.Web.MaxUploadSize) {
		return
	}
	image, err := formImage(r, "imagen")
	if err != nil {
		respondServiceError(w, r, h.log, "create user", err)
		return
	}

	u, err := h.users.Create(r.Context(), users.CreateInput{
		Name:    r.FormValue("nombre"),
		Surname: r.FormValue("apellido"),
		Email:   r.FormValue("email"),
		Image:   image,
	})
	if err != nil {
		respondServiceError(w, r, h.log, "create user", err)
		return
	}

	h.log.InfoContext(r.Context(), "user registered", "user_id", u.ID)
	respondJSON(w, http.StatusCreated, CreateResponse{
		Message: fmt.Sprintf("El usuario %s %s, ha sido creado exitosamente", u.Name, u.Surname),
		User:    u,
	})
}

// List returns all users, filtered by the optional q parameter
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.users.List(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		respondServiceError(w, r, h.log, "list users", err)
		return
	}
	if list == nil {
		list = []database.User{}
	}
	respondJSON(w, http.StatusOK, list)
}

// Get returns a single user
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		respondServiceError(w, r, h.log, "get user", err)
		return
	}
	u, err := h.users.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, h.log, "get user", err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

// Update changes the fields present in the multipart form
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		respondServiceError(w, r, h.log, "update user", err)
		return
	}
	if !parseMultipart(w, r, h.config.Web.MaxUploadSize) {
		return
	}
	image, err := formImage(r, "imagen")
	if err != nil {
		respondServiceError(w, r, h.log, "update user", err)
		return
	}

	u, err := h.users.Update(r.Context(), id, users.UpdateInput{
		Name:    formValue(r, "nombre"),
		Surname: formValue(r, "apellido"),
		Email:   formValue(r, "email"),
		Image:   image,
	})
	if err != nil {
		respondServiceError(w, r, h.log, "update user", err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

// Delete removes a user, its image and its tokens
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		respondServiceError(w, r, h.log, "delete user", err)
		return
	}
	if err := h.users.Delete(r.Context(), id); err != nil {
		respondServiceError(w, r, h.log, "delete user", err)
		return
	}
	h.log.InfoContext(r.Context(), "user deleted", "user_id", id)
	respondJSON(w, http.StatusOK, map[string]string{"mensaje": "Usuario eliminado correctamente"})
}
