package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kozaktomas/face-gate/internal/apperr"
	"github.com/kozaktomas/face-gate/internal/config"
	"github.com/kozaktomas/face-gate/internal/users"
	"github.com/kozaktomas/face-gate/internal/web/middleware"
)

// AuthHandler handles face login and token endpoints
type AuthHandler struct {
	config *config.Config
	users  *users.Service
	log    *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(cfg *config.Config, svc *users.Service, log *slog.Logger) *AuthHandler {
	return &AuthHandler{
		config: cfg,
		users:  svc,
		log:    log,
	}
}

// TokenResponse is returned whenever a token is issued
type TokenResponse struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"usuario_id"`
	Name      string    `json:"nombre,omitempty"`
	ExpiresAt time.Time `json:"expira,omitzero"`
	Distance  *float64  `json:"distancia,omitempty"`
	Message   string    `json:"mensaje"`
}

// loginRequest is the body of POST /login
type loginRequest struct {
	Token string `json:"token"`
}

// LoginResponse confirms a valid token
type LoginResponse struct {
	OK      bool   `json:"ok"`
	UserID  int64  `json:"usuario_id"`
	Message string `json:"mensaje"`
}

// CompareFace matches the uploaded face against registered users and issues a token
func (h *AuthHandler) CompareFace(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r, h.config.Web.MaxUploadSize) {
		return
	}
	image, err := formImage(r, "imagen")
	if err == nil && image == nil {
		err = apperr.Invalid("imagen", "required")
	}
	if err != nil {
		respondServiceError(w, r, h.log, "compare face", err)
		return
	}

	res, err := h.users.AuthenticateByFace(r.Context(), image)
	if err != nil {
		respondServiceError(w, r, h.log, "compare face", err)
		return
	}

	name := res.User.Name + " " + res.User.Surname
	h.log.InfoContext(r.Context(), "face authenticated", "user_id", res.User.ID, "distance", res.Distance)
	respondJSON(w, http.StatusOK, TokenResponse{
		Token:     res.Token.Value,
		UserID:    res.User.ID,
		Name:      name,
		ExpiresAt: res.Token.ExpiresAt,
		Distance:  &res.Distance,
		Message:   fmt.Sprintf("Hola %s", res.User.Name),
	})
}

// GenerateToken issues a token without a face match. Only routed when test tokens are enabled.
func (h *AuthHandler) GenerateToken(w http.ResponseWriter, r *http.Request) {
	var userID int64
	if raw := r.URL.Query().Get("usuario_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondServiceError(w, r, h.log, "generate token", apperr.Invalid("usuario_id", "must be an integer"))
			return
		}
		userID = id
	}

	token, err := h.users.IssueTestToken(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, h.log, "generate token", err)
		return
	}
	respondJSON(w, http.StatusOK, TokenResponse{
		Token:     token.Value,
		UserID:    token.UserID,
		ExpiresAt: token.ExpiresAt,
		Message:   "Token generado exitosamente para pruebas",
	})
}

// Login validates a token sent in the body
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	userID, err := h.users.ValidateToken(r.Context(), req.Token)
	if err != nil {
		respondServiceError(w, r, h.log, "login", err)
		return
	}
	respondJSON(w, http.StatusOK, LoginResponse{
		OK:      true,
		UserID:  userID,
		Message: "Token válido, acceso permitido",
	})
}

// Logout revokes the bearer token of the request
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.users.RevokeToken(r.Context(), middleware.GetTokenFromContext(r.Context()))
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
