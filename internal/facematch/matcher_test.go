package facematch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// atDistance returns a 2D unit vector whose cosine distance from (1, 0) is d.
func atDistance(d float64) Embedding {
	theta := math.Acos(1 - d)
	return Embedding{math.Cos(theta), math.Sin(theta)}
}

var origin = Embedding{1, 0}

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := NewMatcher(DefaultThreshold)
	require.NoError(t, err)
	return m
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b Embedding
		want float64
	}{
		{"identical", Embedding{1, 2, 3}, Embedding{1, 2, 3}, 0},
		{"scaled", Embedding{1, 2, 3}, Embedding{2, 4, 6}, 0},
		{"orthogonal", Embedding{1, 0}, Embedding{0, 1}, 1},
		{"opposite", Embedding{1, 0}, Embedding{-1, 0}, 2},
		{"zero vector", Embedding{0, 0}, Embedding{1, 0}, MaxDistance},
		{"empty", Embedding{}, Embedding{}, MaxDistance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineDistance(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCosineDistance_DimensionMismatch(t *testing.T) {
	_, err := CosineDistance(Embedding{1, 2}, Embedding{1, 2, 3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEmbeddingValidate(t *testing.T) {
	assert.NoError(t, Embedding{0.1, -0.2}.Validate())
	assert.Error(t, Embedding{}.Validate())
	assert.Error(t, Embedding{1, math.NaN()}.Validate())
	assert.Error(t, Embedding{math.Inf(1)}.Validate())
}

func TestFloat32RoundTrip(t *testing.T) {
	e := Embedding{0.5, -0.25, 1}
	assert.Equal(t, e, FromFloat32(e.Float32()))
}

func TestNewMatcher_RejectsBadThreshold(t *testing.T) {
	for _, th := range []float64{0, -0.1, 2.5} {
		_, err := NewMatcher(th)
		assert.Error(t, err, "threshold %v", th)
	}
}

func TestMatch_Reflexive(t *testing.T) {
	m := newTestMatcher(t)
	e := Embedding{0.3, -1.2, 0.8, 0.05}

	res, err := m.Authenticate(e, []Candidate{{UserID: 7, Embedding: e}})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, int64(7), res.UserID)
	assert.InDelta(t, 0, res.Distance, 1e-9)
}

func TestMatch_EmptyRegistryIsNoMatch(t *testing.T) {
	m := newTestMatcher(t)
	res, err := m.Authenticate(origin, nil)
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestMatch_PicksClosest(t *testing.T) {
	m := newTestMatcher(t)
	candidates := []Candidate{
		{UserID: 1, Embedding: atDistance(0.30)},
		{UserID: 2, Embedding: atDistance(0.05)},
		{UserID: 3, Embedding: atDistance(0.60)},
	}

	res, err := m.Authenticate(origin, candidates)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, int64(2), res.UserID)
	assert.InDelta(t, 0.05, res.Distance, 1e-9)
}

func TestMatch_TieBreaksOnLowestUserID(t *testing.T) {
	m := newTestMatcher(t)
	e := atDistance(0.2)
	candidates := []Candidate{
		{UserID: 9, Embedding: e},
		{UserID: 4, Embedding: e},
		{UserID: 6, Embedding: e},
	}

	res, err := m.Authenticate(origin, candidates)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.UserID)
}

func TestMatch_ThresholdIsStrict(t *testing.T) {
	m, err := NewMatcher(0.5)
	require.NoError(t, err)

	// Orthogonal vectors have distance exactly 1; use a threshold equal to it.
	m1, err := NewMatcher(1)
	require.NoError(t, err)
	res, err := m1.Authenticate(Embedding{1, 0}, []Candidate{{UserID: 1, Embedding: Embedding{0, 1}}})
	require.NoError(t, err)
	assert.False(t, res.Found, "distance equal to threshold is not a match")

	res, err = m.Authenticate(origin, []Candidate{{UserID: 1, Embedding: atDistance(0.7)}})
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestGuard_DuplicateAtPointOne(t *testing.T) {
	m := newTestMatcher(t)
	candidates := []Candidate{{UserID: 1, Embedding: origin}}

	res, err := m.Guard(atDistance(0.1), candidates, 0)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, int64(1), res.UserID)
}

func TestGuard_ExcludesSelf(t *testing.T) {
	m := newTestMatcher(t)
	candidates := []Candidate{
		{UserID: 1, Embedding: origin},
		{UserID: 2, Embedding: atDistance(0.9)},
	}

	res, err := m.Guard(atDistance(0.05), candidates, 1)
	require.NoError(t, err)
	assert.False(t, res.Found)

	res, err = m.Guard(atDistance(0.05), candidates, 2)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, int64(1), res.UserID)
}

func TestMatch_SkipsEmptyEmbeddings(t *testing.T) {
	m := newTestMatcher(t)
	res, err := m.Authenticate(origin, []Candidate{{UserID: 1}, {UserID: 2, Embedding: origin}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.UserID)
}

func TestMatch_DimensionMismatchIsError(t *testing.T) {
	m := newTestMatcher(t)
	_, err := m.Authenticate(origin, []Candidate{{UserID: 1, Embedding: Embedding{1, 0, 0}}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFindViolations(t *testing.T) {
	m := newTestMatcher(t)
	candidates := []Candidate{
		{UserID: 3, Embedding: origin},
		{UserID: 1, Embedding: atDistance(0.1)},
		{UserID: 2, Embedding: Embedding{-1, 0}},
	}

	got, err := m.FindViolations(candidates)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].UserA)
	assert.Equal(t, int64(3), got[0].UserB)
	assert.InDelta(t, 0.1, got[0].Distance, 1e-9)

	clean, err := m.FindViolations(candidates[2:])
	require.NoError(t, err)
	assert.Empty(t, clean)
}
