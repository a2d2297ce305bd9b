package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kozaktomas/face-gate/internal/apperr"
	"github.com/kozaktomas/face-gate/internal/config"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/history"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 5000
)

// HistoryHandler lists recorded actions
type HistoryHandler struct {
	config   *config.Config
	store    database.HistoryReader
	recorder *history.Recorder
	log      *slog.Logger
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(cfg *config.Config, store database.HistoryReader, recorder *history.Recorder, log *slog.Logger) *HistoryHandler {
	return &HistoryHandler{config: cfg, store: store, recorder: recorder, log: log}
}

// List returns history entries newest first.
// Query parameters: limit, usuario_id, accion, desde, hasta (RFC 3339 or YYYY-MM-DD).
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseHistoryFilter(r.URL.Query())
	if err != nil {
		respondServiceError(w, r, h.log, "list history", err)
		return
	}
	filter.Retry = h.config.StoreRetry()

	entries, err := history.Collect(history.List(r.Context(), h.store, filter))
	if err != nil {
		if !errors.Is(err, apperr.ErrStorage) {
			err = apperr.Storage("listing history", err)
		}
		respondServiceError(w, r, h.log, "list history", err)
		return
	}
	if entries == nil {
		entries = []database.HistoryEntry{}
	}
	h.recorder.RecordAction(r.Context(), history.ActionHistoryViewed, 0, fmt.Sprintf("count=%d", len(entries)))
	respondJSON(w, http.StatusOK, entries)
}

func parseHistoryFilter(q url.Values) (history.Filter, error) {
	f := history.Filter{Limit: defaultHistoryLimit, Action: q.Get("accion")}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return f, apperr.Invalid("limit", "must be a positive integer")
		}
		f.Limit = min(n, maxHistoryLimit)
	}
	if raw := q.Get("usuario_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return f, apperr.Invalid("usuario_id", "must be a positive integer")
		}
		f.UserID = id
	}

	var err error
	if f.Since, err = parseTimeParam(q, "desde"); err != nil {
		return f, err
	}
	if f.Until, err = parseTimeParam(q, "hasta"); err != nil {
		return f, err
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && !f.Since.Before(f.Until) {
		return f, apperr.Invalid("desde", "must be before hasta")
	}
	return f, nil
}

func parseTimeParam(q url.Values, key string) (time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, apperr.Invalid(key, "expected RFC 3339 timestamp or YYYY-MM-DD date")
}
