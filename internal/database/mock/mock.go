// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-gate/internal/apperr"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/facematch"
)

// MockStore is an in-memory implementation of database.Store
type MockStore struct {
	mu      sync.RWMutex
	users   map[int64]*database.User
	history []database.HistoryEntry
	nextID  int64
	nextHID int64
	now     func() time.Time

	// Error injection
	GetError            error
	ListError           error
	ListEmbeddingsError error
	CreateError         error
	UpdateError         error
	DeleteError         error
	AppendHistoryError  error
	ListHistoryError    error
	PurgeError          error
	MigrateError        error

	// GetErrorTimes, ListErrorTimes and ListHistoryErrorTimes limit the
	// matching error to the first N calls. Zero fails every call.
	GetErrorTimes         int
	ListErrorTimes        int
	ListHistoryErrorTimes int
	injectedSent          map[*error]int

	// Call counters
	ListEmbeddingsCalls int
	ListHistoryCalls    int
}

// NewMockStore creates a new empty mock store
func NewMockStore() *MockStore {
	return &MockStore{
		users: make(map[int64]*database.User),
		now:   time.Now,
	}
}

// injected returns *err for the first times calls (every call when times is 0).
func (m *MockStore) injected(err *error, times int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if *err == nil {
		return nil
	}
	if m.injectedSent == nil {
		m.injectedSent = make(map[*error]int)
	}
	if times > 0 && m.injectedSent[err] >= times {
		return nil
	}
	m.injectedSent[err]++
	return *err
}

// AddUser inserts a user directly, bypassing uniqueness checks. Returns the assigned ID.
func (m *MockStore) AddUser(u database.User) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		m.nextID++
		u.ID = m.nextID
	} else if u.ID > m.nextID {
		m.nextID = u.ID
	}
	m.users[u.ID] = &u
	return u.ID
}

// GetUser retrieves a user by ID
func (m *MockStore) GetUser(ctx context.Context, id int64) (*database.User, error) {
	if err := m.injected(&m.GetError, m.GetErrorTimes); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, apperr.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

// ListUsers returns all users ordered by ID
func (m *MockStore) ListUsers(ctx context.Context) ([]database.User, error) {
	if err := m.injected(&m.ListError, m.ListErrorTimes); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		cp.Embedding = nil
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b database.User) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// ListEmbeddings returns the embeddings of all users
func (m *MockStore) ListEmbeddings(ctx context.Context) ([]facematch.Candidate, error) {
	m.mu.Lock()
	m.ListEmbeddingsCalls++
	m.mu.Unlock()
	if m.ListEmbeddingsError != nil {
		return nil, m.ListEmbeddingsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]facematch.Candidate, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u.Candidate())
	}
	slices.SortFunc(out, func(a, b facematch.Candidate) int { return cmp.Compare(a.UserID, b.UserID) })
	return out, nil
}

// CountUsers returns the number of users
func (m *MockStore) CountUsers(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *MockStore) emailTakenLocked(email string, exceptID int64) bool {
	for id, u := range m.users {
		if id != exceptID && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

// CreateUser inserts a user, enforcing email uniqueness
func (m *MockStore) CreateUser(ctx context.Context, u *database.User) (int64, error) {
	if m.CreateError != nil {
		return 0, m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emailTakenLocked(u.Email, 0) {
		return 0, fmt.Errorf("insert user: %w", apperr.ErrEmailTaken)
	}
	m.nextID++
	cp := *u
	cp.ID = m.nextID
	now := m.now().UTC()
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.users[cp.ID] = &cp
	return cp.ID, nil
}

// UpdateUser applies a patch
func (m *MockStore) UpdateUser(ctx context.Context, id int64, patch database.UserPatch) error {
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, apperr.ErrNotFound)
	}
	if patch.Email != nil && m.emailTakenLocked(*patch.Email, id) {
		return fmt.Errorf("update user: %w", apperr.ErrEmailTaken)
	}
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.Surname != nil {
		u.Surname = *patch.Surname
	}
	if patch.Email != nil {
		u.Email = *patch.Email
	}
	if patch.ImagePath != nil {
		u.ImagePath = *patch.ImagePath
	}
	if patch.Embedding != nil {
		u.Embedding = patch.Embedding
	}
	u.UpdatedAt = m.now().UTC()
	return nil
}

// DeleteUser removes a user
func (m *MockStore) DeleteUser(ctx context.Context, id int64) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return fmt.Errorf("user %d: %w", id, apperr.ErrNotFound)
	}
	delete(m.users, id)
	return nil
}

// AppendHistory stores a history entry
func (m *MockStore) AppendHistory(ctx context.Context, e database.HistoryEntry) error {
	if m.AppendHistoryError != nil {
		return m.AppendHistoryError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHID++
	e.ID = m.nextHID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now().UTC()
	}
	m.history = append(m.history, e)
	return nil
}

// History returns a copy of all stored entries in insertion order
func (m *MockStore) History() []database.HistoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.history)
}

// ListHistory returns entries newest first, honoring the query filters
func (m *MockStore) ListHistory(ctx context.Context, q database.HistoryQuery) ([]database.HistoryEntry, error) {
	m.mu.Lock()
	m.ListHistoryCalls++
	m.mu.Unlock()
	if err := m.injected(&m.ListHistoryError, m.ListHistoryErrorTimes); err != nil {
		return nil, err
	}
	m.mu.RLock()
	sorted := slices.Clone(m.history)
	m.mu.RUnlock()

	slices.SortFunc(sorted, func(a, b database.HistoryEntry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	var out []database.HistoryEntry
	for _, e := range sorted {
		if q.UserID != 0 && e.UserID != q.UserID {
			continue
		}
		if q.Action != "" && e.Action != q.Action {
			continue
		}
		if !q.Since.IsZero() && e.CreatedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && !e.CreatedAt.Before(q.Until) {
			continue
		}
		if q.After != nil {
			older := e.CreatedAt.Before(q.After.CreatedAt) ||
				(e.CreatedAt.Equal(q.After.CreatedAt) && e.ID < q.After.ID)
			if !older {
				continue
			}
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// PurgeHistory deletes entries older than before
func (m *MockStore) PurgeHistory(ctx context.Context, before time.Time) (int64, error) {
	if m.PurgeError != nil {
		return 0, m.PurgeError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.history[:0]
	var n int64
	for _, e := range m.history {
		if e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.history = kept
	return n, nil
}

// Migrate is a no-op
func (m *MockStore) Migrate(ctx context.Context) error {
	return m.MigrateError
}

// Close is a no-op
func (m *MockStore) Close() error {
	return nil
}

var _ database.Store = (*MockStore)(nil)
