package history

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/kozaktomas/face-gate/internal/apperr"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/database/mock"
	"github.com/kozaktomas/face-gate/internal/logging"
	"github.com/kozaktomas/face-gate/internal/retrier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecorder(t *testing.T, store database.HistoryStore, opts Options) *Recorder {
	t.Helper()
	opts.Logger = logging.Discard()
	return NewRecorder(store, opts)
}

func TestRecord_WritesAsynchronouslyAndDrainsOnClose(t *testing.T) {
	store := mock.NewMockStore()
	r := newRecorder(t, store, Options{})

	r.RecordAction(context.Background(), ActionUserCreated, 5, "")
	r.RecordAction(context.Background(), ActionUserDeleted, 5, "")
	require.NoError(t, r.Close(context.Background()))

	entries := store.History()
	require.Len(t, entries, 2)
	assert.Equal(t, ActionUserCreated, entries[0].Action)
	assert.Equal(t, int64(5), entries[0].UserID)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestRecord_MergesRequestInfo(t *testing.T) {
	store := mock.NewMockStore()
	r := newRecorder(t, store, Options{})

	ctx := WithRequestInfo(context.Background(), RequestInfo{
		Method:    "POST",
		Endpoint:  "/compararCara",
		IP:        "10.0.0.1",
		UserAgent: "curl/8",
		UserID:    9,
	})
	r.Record(ctx, database.HistoryEntry{Action: ActionFaceAuthenticated, Detail: "distance=0.1200"})
	require.NoError(t, r.Close(context.Background()))

	entries := store.History()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "POST", e.Method)
	assert.Equal(t, "/compararCara", e.Endpoint)
	assert.Equal(t, "10.0.0.1", e.IP)
	assert.Equal(t, "curl/8", e.UserAgent)
	assert.Equal(t, int64(9), e.UserID)
	assert.Equal(t, "distance=0.1200", e.Detail)
}

func TestRecord_ExplicitUserWinsOverRequestInfo(t *testing.T) {
	store := mock.NewMockStore()
	r := newRecorder(t, store, Options{})

	ctx := WithRequestInfo(context.Background(), RequestInfo{UserID: 9})
	r.RecordAction(ctx, ActionUserCreated, 12, "")
	require.NoError(t, r.Close(context.Background()))

	assert.Equal(t, int64(12), store.History()[0].UserID)
}

func TestRecord_StoreFailureIsSwallowed(t *testing.T) {
	store := mock.NewMockStore()
	store.AppendHistoryError = errors.New("table locked")
	r := newRecorder(t, store, Options{})

	assert.NotPanics(t, func() {
		r.RecordAction(context.Background(), ActionUserCreated, 1, "")
	})
	require.NoError(t, r.Close(context.Background()))
	assert.Empty(t, store.History())
}

func TestRecord_AfterCloseIsDropped(t *testing.T) {
	store := mock.NewMockStore()
	r := newRecorder(t, store, Options{})
	require.NoError(t, r.Close(context.Background()))

	r.RecordAction(context.Background(), ActionUserCreated, 1, "")
	assert.Empty(t, store.History())
	assert.ErrorIs(t, r.Close(context.Background()), ErrClosed)
}

func seedHistory(t *testing.T, store *mock.MockStore, n int) time.Time {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range n {
		action := ActionUsersListed
		if i%2 == 0 {
			action = ActionUserViewed
		}
		require.NoError(t, store.AppendHistory(context.Background(), database.HistoryEntry{
			UserID:    int64(i%3 + 1),
			Action:    action,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	return base
}

func TestList_NewestFirstAcrossPages(t *testing.T) {
	store := mock.NewMockStore()
	seedHistory(t, store, 25)

	got, err := Collect(List(context.Background(), store, Filter{PageSize: 10}))
	require.NoError(t, err)
	require.Len(t, got, 25)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].CreatedAt.After(got[i].CreatedAt), "entry %d out of order", i)
	}
	assert.Equal(t, 3, store.ListHistoryCalls)
}

func TestList_IsLazy(t *testing.T) {
	store := mock.NewMockStore()
	seedHistory(t, store, 25)

	count := 0
	for _, err := range List(context.Background(), store, Filter{PageSize: 5}) {
		require.NoError(t, err)
		count++
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 1, store.ListHistoryCalls)
}

func TestList_FiltersAndLimit(t *testing.T) {
	store := mock.NewMockStore()
	base := seedHistory(t, store, 30)

	got, err := Collect(List(context.Background(), store, Filter{
		Action:   ActionUserViewed,
		Since:    base.Add(10 * time.Minute),
		Limit:    4,
		PageSize: 3,
	}))
	require.NoError(t, err)
	require.Len(t, got, 4)
	for _, e := range got {
		assert.Equal(t, ActionUserViewed, e.Action)
		assert.False(t, e.CreatedAt.Before(base.Add(10*time.Minute)))
	}

	byUser, err := Collect(List(context.Background(), store, Filter{UserID: 2}))
	require.NoError(t, err)
	assert.Len(t, byUser, 10)
}

func TestList_PropagatesStoreError(t *testing.T) {
	store := mock.NewMockStore()
	store.ListHistoryError = errors.New("db down")

	_, err := Collect(List(context.Background(), store, Filter{}))
	assert.Error(t, err)
}

func TestList_RetriesTransientStoreError(t *testing.T) {
	store := mock.NewMockStore()
	seedHistory(t, store, 3)
	store.ListHistoryError = apperr.Storage("query history", errors.New("connection reset"))
	store.ListHistoryErrorTimes = 2

	got, err := Collect(List(context.Background(), store, Filter{
		Retry: retrier.Policy{MaxRetries: 2, Base: time.Millisecond},
	}))
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 3, store.ListHistoryCalls)
}

func TestRequestAction(t *testing.T) {
	tests := []struct {
		method, path, want string
	}{
		{http.MethodPost, "/subirUsuario", ActionRequestRegistration},
		{http.MethodPost, "/compararCara", ActionRequestFaceLogin},
		{http.MethodGet, "/usuarios", ActionRequestUsersRead},
		{http.MethodGet, "/usuarios/4", ActionRequestUsersRead},
		{http.MethodPut, "/usuarios/4", ActionRequestUserUpdate},
		{http.MethodDelete, "/usuarios/4", ActionRequestUserDelete},
		{http.MethodGet, "/historial", ActionRequestHistoryRead},
		{http.MethodPost, "/login", ActionRequest},
		{http.MethodGet, "/usuariosx", ActionRequest},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RequestAction(tt.method, tt.path), "%s %s", tt.method, tt.path)
	}
}

func TestSetRequestUser_VisibleToOuterContext(t *testing.T) {
	outer := WithRequestInfo(context.Background(), RequestInfo{Endpoint: "/usuarios"})
	inner := context.WithValue(outer, struct{}{}, "derived")

	SetRequestUser(inner, 5)

	info, ok := RequestInfoFromContext(outer)
	require.True(t, ok)
	assert.Equal(t, int64(5), info.UserID)

	// No request info attached: nothing to update.
	SetRequestUser(context.Background(), 5)
}

func TestPurge(t *testing.T) {
	store := mock.NewMockStore()
	base := seedHistory(t, store, 10)

	n, err := Purge(context.Background(), store, base.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Len(t, store.History(), 6)
}
