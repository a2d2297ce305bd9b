// Package facematch decides whether a face embedding belongs to a registered user.
package facematch

import (
	"fmt"
	"sort"
)

// DefaultThreshold is the cosine distance below which two Facenet embeddings
// are considered the same person.
const DefaultThreshold = 0.37

// Candidate is a registered user's embedding.
type Candidate struct {
	UserID    int64
	Embedding Embedding
}

// Result is the outcome of a match. Found is false for NoMatch.
type Result struct {
	Found    bool
	UserID   int64
	Distance float64
}

// Mode selects how a match is used by the caller.
type Mode string

const (
	// ModeAuthenticate looks for the closest user to log in as.
	ModeAuthenticate Mode = "authenticate"
	// ModeGuard looks for any existing user that would make a write a duplicate.
	ModeGuard Mode = "guard"
)

// Matcher compares embeddings against a threshold.
type Matcher struct {
	threshold float64
}

// NewMatcher creates a matcher. The threshold must be in (0, 2].
func NewMatcher(threshold float64) (*Matcher, error) {
	if threshold <= 0 || threshold > MaxDistance {
		return nil, fmt.Errorf("threshold %.3f out of range (0, %.0f]", threshold, MaxDistance)
	}
	return &Matcher{threshold: threshold}, nil
}

// Threshold returns the configured distance threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// IsMatch reports whether the distance counts as the same face.
func (m *Matcher) IsMatch(distance float64) bool {
	return distance < m.threshold
}

// Match returns the candidate closest to query whose distance is below the threshold.
// Ties are broken by the lowest UserID. Candidates with excludeID are skipped
// (0 excludes nothing), as are candidates without an embedding.
func (m *Matcher) Match(query Embedding, candidates []Candidate, excludeID int64) (Result, error) {
	best := Result{}
	for _, c := range candidates {
		if excludeID != 0 && c.UserID == excludeID {
			continue
		}
		if len(c.Embedding) == 0 {
			continue
		}
		dist, err := CosineDistance(query, c.Embedding)
		if err != nil {
			return Result{}, fmt.Errorf("user %d: %w", c.UserID, err)
		}
		if !m.IsMatch(dist) {
			continue
		}
		if !best.Found || dist < best.Distance || (dist == best.Distance && c.UserID < best.UserID) {
			best = Result{Found: true, UserID: c.UserID, Distance: dist}
		}
	}
	return best, nil
}

// Authenticate finds the user the query face belongs to.
func (m *Matcher) Authenticate(query Embedding, candidates []Candidate) (Result, error) {
	return m.Match(query, candidates, 0)
}

// Guard finds an existing user (other than excludeID) that the query face would duplicate.
// The closest offender is returned for diagnostics.
func (m *Matcher) Guard(query Embedding, candidates []Candidate, excludeID int64) (Result, error) {
	return m.Match(query, candidates, excludeID)
}

// Violation is a pair of users whose embeddings are closer than the threshold.
type Violation struct {
	UserA    int64   `json:"usuario_a"`
	UserB    int64   `json:"usuario_b"`
	Distance float64 `json:"distancia"`
}

// FindViolations returns every pair of distinct candidates that match each other,
// sorted by distance. An empty result means the uniqueness invariant holds.
func (m *Matcher) FindViolations(candidates []Candidate) ([]Violation, error) {
	var out []Violation
	for i := range candidates {
		a := candidates[i]
		if len(a.Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(candidates); j++ {
			b := candidates[j]
			if len(b.Embedding) == 0 {
				continue
			}
			dist, err := CosineDistance(a.Embedding, b.Embedding)
			if err != nil {
				return nil, fmt.Errorf("users %d and %d: %w", a.UserID, b.UserID, err)
			}
			if m.IsMatch(dist) {
				lo, hi := a.UserID, b.UserID
				if lo > hi {
					lo, hi = hi, lo
				}
				out = append(out, Violation{UserA: lo, UserB: hi, Distance: dist})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].UserA < out[j].UserA
	})
	return out, nil
}
