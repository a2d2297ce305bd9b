// Package history records who did what against the service.
// Recording is best-effort: failures are logged and never reach the caller.
package history

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/metrics"
	"github.com/kozaktomas/face-gate/internal/retrier"
)

// Action kinds.
const (
	ActionUserCreated       = "user_created"
	ActionUserUpdated       = "user_updated"
	ActionUserDeleted       = "user_deleted"
	ActionFaceAuthenticated = "face_authenticated"
	ActionFaceRejected      = "face_rejected"
	ActionTokenGenerated    = "token_generated"
	ActionTokenValidated    = "token_validated"
	ActionTokenRevoked      = "token_revoked"
	ActionUsersListed       = "users_listed"
	ActionUserViewed        = "user_viewed"
	ActionImageViewed       = "image_viewed"
	ActionHistoryViewed     = "history_viewed"
)

// Request action kinds, one per served HTTP request.
const (
	ActionRequestRegistration = "request_registration"
	ActionRequestFaceLogin    = "request_face_login"
	ActionRequestUsersRead    = "request_users_read"
	ActionRequestUserUpdate   = "request_user_update"
	ActionRequestUserDelete   = "request_user_delete"
	ActionRequestHistoryRead  = "request_history_read"
	ActionRequest             = "request"
)

// RequestAction names the action of an HTTP request by its method and path.
func RequestAction(method, path string) string {
	switch {
	case path == "/subirUsuario":
		return ActionRequestRegistration
	case path == "/compararCara":
		return ActionRequestFaceLogin
	case path == "/historial":
		return ActionRequestHistoryRead
	case path == "/usuarios" || strings.HasPrefix(path, "/usuarios/"):
		switch method {
		case http.MethodGet:
			return ActionRequestUsersRead
		case http.MethodPut:
			return ActionRequestUserUpdate
		case http.MethodDelete:
			return ActionRequestUserDelete
		}
	}
	return ActionRequest
}

// ErrClosed is returned by Close when called twice.
var ErrClosed = errors.New("history recorder closed")

// Options configures a Recorder.
type Options struct {
	QueueSize    int
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Recorder writes history entries asynchronously through a single worker.
type Recorder struct {
	store database.HistoryStore
	opts  Options
	log   *slog.Logger

	queue chan database.HistoryEntry
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts the background writer.
func NewRecorder(store database.HistoryStore, opts Options) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Recorder{
		store: store,
		opts:  opts,
		log:   opts.Logger,
		queue: make(chan database.HistoryEntry, opts.QueueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for entry := range r.queue {
		r.write(entry)
	}
}

func (r *Recorder) write(entry database.HistoryEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
	defer cancel()

	if err := r.store.AppendHistory(ctx, entry); err != nil {
		metrics.HistoryDropped.WithLabelValues("store_error").Inc()
		r.log.Warn("failed to record history",
			"action", entry.Action,
			"user_id", entry.UserID,
			"error", err)
	}
}

// Record enqueues an entry. Request metadata attached to ctx with WithRequestInfo
// fills Method, Endpoint, IP and UserAgent when the entry leaves them empty.
// Record never blocks: if the queue is full the entry is dropped and logged.
func (r *Recorder) Record(ctx context.Context, entry database.HistoryEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.opts.Now().UTC()
	}
	if info, ok := RequestInfoFromContext(ctx); ok {
		entry = info.apply(entry)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		metrics.HistoryDropped.WithLabelValues("closed").Inc()
		return
	}

	select {
	case r.queue <- entry:
	default:
		metrics.HistoryDropped.WithLabelValues("queue_full").Inc()
		r.log.Warn("history queue full, entry dropped", "action", entry.Action, "user_id", entry.UserID)
	}
}

// RecordAction is a shorthand for Record with only an action, user and detail.
func (r *Recorder) RecordAction(ctx context.Context, action string, userID int64, detail string) {
	r.Record(ctx, database.HistoryEntry{Action: action, UserID: userID, Detail: detail})
}

// Close stops accepting entries and waits until queued ones are written or ctx ends.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining history queue: %w", ctx.Err())
	}
}

// Filter selects entries for List.
type Filter struct {
	UserID   int64
	Action   string
	Since    time.Time
	Until    time.Time
	Limit    int // total entries to yield, 0 means no limit
	PageSize int
	// Retry bounds retries of a failed page fetch.
	Retry retrier.Policy
}

// List lazily yields matching entries, newest first. Pages are fetched from
// the store only as the caller consumes the sequence.
func List(ctx context.Context, store database.HistoryReader, f Filter) iter.Seq2[database.HistoryEntry, error] {
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = database.DefaultHistoryPageSize
	}
	if pageSize > database.MaxHistoryPageSize {
		pageSize = database.MaxHistoryPageSize
	}

	return func(yield func(database.HistoryEntry, error) bool) {
		var cursor *database.HistoryCursor
		yielded := 0
		for {
			limit := pageSize
			if f.Limit > 0 && f.Limit-yielded < limit {
				limit = f.Limit - yielded
			}
			if limit <= 0 {
				return
			}

			q := database.HistoryQuery{
				UserID: f.UserID,
				Action: f.Action,
				Since:  f.Since,
				Until:  f.Until,
				After:  cursor,
				Limit:  limit,
			}
			var page []database.HistoryEntry
			err := retrier.Do(ctx, f.Retry, func(ctx context.Context) error {
				var err error
				page, err = store.ListHistory(ctx, q)
				return err
			})
			if err != nil {
				yield(database.HistoryEntry{}, err)
				return
			}

			for _, e := range page {
				if !yield(e, nil) {
					return
				}
				yielded++
			}
			if len(page) < limit {
				return
			}
			last := page[len(page)-1]
			cursor = &database.HistoryCursor{CreatedAt: last.CreatedAt, ID: last.ID}
		}
	}
}

// Collect drains a List sequence into a slice.
func Collect(seq iter.Seq2[database.HistoryEntry, error]) ([]database.HistoryEntry, error) {
	var out []database.HistoryEntry
	for e, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Purge deletes entries created before the cutoff.
func Purge(ctx context.Context, store database.HistoryReader, before time.Time) (int64, error) {
	n, err := store.PurgeHistory(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("purging history before %s: %w", before.Format(time.RFC3339), err)
	}
	return n, nil
}
