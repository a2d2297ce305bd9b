package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-gate/internal/apperr"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// multipartMemory is the part of a multipart form kept in memory before spilling to disk.
const multipartMemory = 8 << 20

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrFaceNotFound):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrDuplicateFace), errors.Is(err, apperr.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrExtraction):
		return http.StatusBadGateway
	case errors.Is(err, apperr.ErrStorage), errors.Is(err, apperr.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage returns the part of err that is safe to show to clients.
// Wrapped causes such as SQL errors stay in the logs.
func publicMessage(err error) string {
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	for _, sentinel := range []error{
		apperr.ErrFaceNotFound, apperr.ErrDuplicateFace, apperr.ErrEmailTaken,
		apperr.ErrUnauthorized, apperr.ErrNotFound, apperr.ErrExtraction,
		apperr.ErrStorage, apperr.ErrTimeout,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.ErrTimeout.Error()
	}
	return "internal error"
}

// respondServiceError logs err and sends the mapped status and message.
func respondServiceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, op string, err error) {
	status := statusFor(err)
	attrs := []any{"op", op, "path", sanitizeForLog(r.URL.Path), "status", status, "error", err}
	if status >= http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "request failed", attrs...)
	} else {
		log.DebugContext(r.Context(), "request rejected", attrs...)
	}
	respondError(w, status, publicMessage(err))
}

// parseMultipart limits the body to maxSize and parses the form.
// It responds and returns false on failure.
func parseMultipart(w http.ResponseWriter, r *http.Request, maxSize int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", maxSize))
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return false
	}
	return true
}

// formImage reads an uploaded file. A missing field returns nil without error.
func formImage(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Invalid(field, "unreadable upload")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, apperr.Invalid(field, "unreadable upload")
	}
	return data, nil
}

// formValue returns a pointer to the field's value, or nil when the field was not sent.
func formValue(r *http.Request, field string) *string {
	if r.MultipartForm == nil {
		return nil
	}
	values, ok := r.MultipartForm.Value[field]
	if !ok || len(values) == 0 {
		return nil
	}
	return &values[0]
}

// userIDParam parses the {id} URL parameter.
func userIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("id", "must be a positive integer")
	}
	return id, nil
}
