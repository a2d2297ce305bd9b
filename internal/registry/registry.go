// Package registry keeps the set of registered face embeddings and serializes
// every write that could break the one-identity-per-face rule.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/kozaktomas/face-gate/internal/apperr"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/facematch"
	"github.com/kozaktomas/face-gate/internal/metrics"
	"github.com/kozaktomas/face-gate/internal/retrier"
)

// Source loads the authoritative embeddings from durable storage.
type Source interface {
	ListEmbeddings(ctx context.Context) ([]facematch.Candidate, error)
}

// Options configures a Registry.
type Options struct {
	// Retry bounds reloads from the source.
	Retry retrier.Policy
	// UseHNSW enables the approximate prefilter for authentication.
	UseHNSW bool
	// HNSWMinUsers is the registry size from which the prefilter is used.
	HNSWMinUsers int
	// HNSWCandidates is how many neighbours the prefilter proposes for exact re-ranking.
	HNSWCandidates int
	Logger         *slog.Logger
}

// DuplicateError reports the existing user a face collides with.
type DuplicateError struct {
	ExistingID int64
	Distance   float64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("face matches user %d (distance %.4f)", e.ExistingID, e.Distance)
}

// Is makes errors.Is(err, apperr.ErrDuplicateFace) true.
func (e *DuplicateError) Is(target error) bool {
	return target == apperr.ErrDuplicateFace
}

// CommitFunc persists a write and returns the affected user ID.
type CommitFunc func(ctx context.Context) (int64, error)

// Registry is a cached view over the source with a single writer lock.
type Registry struct {
	source  Source
	matcher *facematch.Matcher
	opts    Options
	log     *slog.Logger

	// writeMu serializes guard-then-write sequences.
	writeMu sync.Mutex

	mu        sync.RWMutex
	cache     map[int64]facematch.Embedding
	loaded    bool
	scheduler *gocron.Scheduler

	index      *database.HNSWIndex
	indexDirty bool
}

// New creates a registry. Nothing is loaded until first use.
func New(source Source, matcher *facematch.Matcher, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HNSWCandidates <= 0 {
		opts.HNSWCandidates = 10 * database.HNSWSearchMultiplier
	}
	r := &Registry{
		source:  source,
		matcher: matcher,
		opts:    opts,
		log:     opts.Logger,
	}
	if opts.UseHNSW {
		r.index = database.NewHNSWIndex()
		r.indexDirty = true
	}
	return r
}

// Matcher returns the matcher used for all decisions.
func (r *Registry) Matcher() *facematch.Matcher {
	return r.matcher
}

// load fills the cache from the source if it is not loaded yet.
func (r *Registry) load(ctx context.Context) error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}
	return r.Refresh(ctx)
}

// Refresh replaces the cache with the source's current embeddings, picking
// up writes made by other processes sharing the store.
func (r *Registry) Refresh(ctx context.Context) error {
	var candidates []facematch.Candidate
	err := retrier.Do(ctx, r.opts.Retry, func(ctx context.Context) error {
		var err error
		candidates, err = r.source.ListEmbeddings(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("loading registry: %w", err)
	}

	cache := make(map[int64]facematch.Embedding, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) == 0 {
			continue
		}
		cache[c.UserID] = c.Embedding
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = cache
	r.loaded = true
	r.indexDirty = true
	r.log.Debug("registry loaded", "users", len(cache))
	return nil
}

// StartRefresher schedules Refresh every interval so authentication sees
// users registered or changed by other processes.
func (r *Registry) StartRefresher(interval time.Duration) error {
	if interval <= 0 {
		return nil
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	if _, err := s.Every(interval).WaitForSchedule().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if err := r.Refresh(ctx); err != nil {
			r.log.Warn("registry refresh failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling registry refresh: %w", err)
	}
	s.StartAsync()

	r.mu.Lock()
	r.scheduler = s
	r.mu.Unlock()
	return nil
}

// Stop halts the refresher if it is running.
func (r *Registry) Stop() {
	r.mu.Lock()
	s := r.scheduler
	r.scheduler = nil
	r.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

// All returns a snapshot of every registered embedding, ordered by user ID.
func (r *Registry) All(ctx context.Context) ([]facematch.Candidate, error) {
	if err := r.load(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(), nil
}

func (r *Registry) snapshotLocked() []facematch.Candidate {
	out := make([]facematch.Candidate, 0, len(r.cache))
	for id, emb := range r.cache {
		out = append(out, facematch.Candidate{UserID: id, Embedding: emb})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Get returns the embedding registered for a user.
func (r *Registry) Get(ctx context.Context, id int64) (facematch.Embedding, error) {
	if err := r.load(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	emb, ok := r.cache[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, apperr.ErrNotFound)
	}
	return emb, nil
}

// Len returns the number of cached embeddings (0 before the first load).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// Upsert records a user's embedding in the cache.
// The durable write must already have happened; use Admit for guarded writes.
func (r *Registry) Upsert(id int64, emb facematch.Embedding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		// The next load will pick the row up from the source.
		return
	}
	r.cache[id] = emb
	r.indexDirty = true
}

// Remove drops a user from the cache.
func (r *Registry) Remove(id int64) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, id)
	r.indexDirty = true
}

// Admit runs the duplicate guard for query and, if no other user (besides
// excludeID) matches, runs commit and caches the result. The whole sequence
// holds the writer lock, so two concurrent admissions of close faces can
// never both succeed. The guard runs against a fresh read of the source, not
// the cache. A collision returns a *DuplicateError.
func (r *Registry) Admit(ctx context.Context, query facematch.Embedding, excludeID int64, commit CommitFunc) (int64, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.Refresh(ctx); err != nil {
		return 0, err
	}
	r.mu.RLock()
	candidates := r.snapshotLocked()
	r.mu.RUnlock()

	res, err := r.matcher.Guard(query, candidates, excludeID)
	if err != nil {
		metrics.MatchTotal.WithLabelValues(string(facematch.ModeGuard), "error").Inc()
		return 0, err
	}
	metrics.ObserveMatch(string(facematch.ModeGuard), res.Found, res.Distance)
	if res.Found {
		return 0, &DuplicateError{ExistingID: res.UserID, Distance: res.Distance}
	}

	id, err := commit(ctx)
	if err != nil {
		return 0, err
	}
	r.Upsert(id, query)
	return id, nil
}

// Authenticate finds the registered user the query belongs to.
// An empty registry or no close enough face yields Result.Found == false.
func (r *Registry) Authenticate(ctx context.Context, query facematch.Embedding) (facematch.Result, error) {
	if err := r.load(ctx); err != nil {
		return facematch.Result{}, err
	}

	candidates := r.prefilter(query)
	if candidates == nil {
		r.mu.RLock()
		candidates = r.snapshotLocked()
		r.mu.RUnlock()
	}

	res, err := r.matcher.Authenticate(query, candidates)
	if err != nil {
		metrics.MatchTotal.WithLabelValues(string(facematch.ModeAuthenticate), "error").Inc()
		return facematch.Result{}, err
	}
	if !res.Found && len(candidates) < r.Len() {
		// The prefilter is approximate; confirm a miss with a full scan.
		r.mu.RLock()
		all := r.snapshotLocked()
		r.mu.RUnlock()
		if res, err = r.matcher.Authenticate(query, all); err != nil {
			return facematch.Result{}, err
		}
	}
	metrics.ObserveMatch(string(facematch.ModeAuthenticate), res.Found, res.Distance)
	return res, nil
}

// prefilter returns HNSW-proposed candidates, or nil when the index is not in use.
func (r *Registry) prefilter(query facematch.Embedding) []facematch.Candidate {
	if r.index == nil {
		return nil
	}

	r.mu.Lock()
	if len(r.cache) < r.opts.HNSWMinUsers {
		if r.index.Len() > 0 {
			// Shrunk below the threshold; free the graph until it grows back.
			r.index.Reset()
			r.indexDirty = true
		}
		r.mu.Unlock()
		return nil
	}
	if r.indexDirty {
		r.index.Build(r.snapshotLocked())
		r.indexDirty = false
		r.log.Debug("hnsw index rebuilt", "users", r.index.Len())
	}
	r.mu.Unlock()

	ids := r.index.Search(query, r.opts.HNSWCandidates)
	if len(ids) == 0 {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]facematch.Candidate, 0, len(ids))
	for _, id := range ids {
		if emb, ok := r.cache[id]; ok {
			out = append(out, facematch.Candidate{UserID: id, Embedding: emb})
		}
	}
	return out
}
