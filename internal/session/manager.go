// Package session issues and validates the opaque bearer tokens handed out
// after a successful face match.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/kozaktomas/face-gate/internal/apperr"
	"github.com/kozaktomas/face-gate/internal/metrics"
)

const tokenBytes = 32

// AnonymousUserID is the identity carried by test tokens not bound to a user.
const AnonymousUserID int64 = 0

// Token is a live session. It is never persisted.
type Token struct {
	Value     string    `json:"token"`
	UserID    int64     `json:"usuario_id"`
	IssuedAt  time.Time `json:"emitido"`
	ExpiresAt time.Time `json:"expira,omitzero"`
}

// Expired reports whether the token is past its expiry. Tokens without expiry never expire.
func (t *Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// Manager is the in-memory token table. Safe for concurrent use.
type Manager struct {
	ttl    time.Duration
	now    func() time.Time
	random func([]byte) (int, error)
	log    *slog.Logger

	mu     sync.RWMutex
	tokens map[string]*Token

	scheduler *gocron.Scheduler
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRandom overrides the random source used for token values.
func WithRandom(read func([]byte) (int, error)) Option {
	return func(m *Manager) { m.random = read }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager creates a token manager. A ttl of zero disables expiry.
func NewManager(ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{
		ttl:    ttl,
		now:    time.Now,
		random: rand.Read,
		log:    slog.Default(),
		tokens: make(map[string]*Token),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the configured token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func (m *Manager) newValue() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := m.random(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue creates a fresh token for userID.
func (m *Manager) Issue(userID int64) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var value string
	for {
		v, err := m.newValue()
		if err != nil {
			return Token{}, err
		}
		existing, taken := m.tokens[v]
		if !taken || existing.Expired(now) {
			value = v
			break
		}
	}

	t := &Token{Value: value, UserID: userID, IssuedAt: now}
	if m.ttl > 0 {
		t.ExpiresAt = now.Add(m.ttl)
	}
	m.tokens[value] = t
	metrics.TokensActive.Set(float64(len(m.tokens)))
	return *t, nil
}

// Validate returns the user a token belongs to.
// Unknown, revoked and expired tokens fail with apperr.ErrUnauthorized.
func (m *Manager) Validate(value string) (int64, error) {
	if value == "" {
		return 0, apperr.ErrUnauthorized
	}

	m.mu.RLock()
	t, ok := m.tokens[value]
	m.mu.RUnlock()
	if !ok {
		return 0, apperr.ErrUnauthorized
	}
	if t.Expired(m.now()) {
		m.Revoke(value)
		return 0, apperr.ErrUnauthorized
	}
	return t.UserID, nil
}

// Revoke deletes a token. Revoking an unknown token is a no-op.
func (m *Manager) Revoke(value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, value)
	metrics.TokensActive.Set(float64(len(m.tokens)))
}

// RevokeAllForUser deletes every token issued to userID and returns how many were removed.
func (m *Manager) RevokeAllForUser(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for v, t := range m.tokens {
		if t.UserID == userID {
			delete(m.tokens, v)
			n++
		}
	}
	metrics.TokensActive.Set(float64(len(m.tokens)))
	return n
}

// Sweep removes tokens expired at now and returns how many were removed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for v, t := range m.tokens {
		if t.Expired(now) {
			delete(m.tokens, v)
			n++
		}
	}
	metrics.TokensActive.Set(float64(len(m.tokens)))
	return n
}

// Len returns the number of tokens in the table, including expired ones not yet swept.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tokens)
}

// StartSweeper schedules Sweep every interval. It does nothing when expiry is disabled.
func (m *Manager) StartSweeper(interval time.Duration) error {
	if m.ttl <= 0 || interval <= 0 {
		return nil
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	if _, err := s.Every(interval).Do(func() {
		if n := m.Sweep(m.now()); n > 0 {
			m.log.Debug("expired tokens swept", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("scheduling token sweeper: %w", err)
	}
	s.StartAsync()

	m.mu.Lock()
	m.scheduler = s
	m.mu.Unlock()
	return nil
}

// Stop halts the sweeper if it is running.
func (m *Manager) Stop() {
	m.mu.Lock()
	s := m.scheduler
	m.scheduler = nil
	m.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}
