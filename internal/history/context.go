package history

import (
	"context"

	"github.com/kozaktomas/face-gate/internal/database"
)

type contextKey string

const requestInfoKey contextKey = "history_request"

// RequestInfo describes the request that triggered an action.
type RequestInfo struct {
	Method    string
	Endpoint  string
	IP        string
	UserAgent string
	UserID    int64 // authenticated caller, 0 if anonymous
}

// WithRequestInfo attaches request metadata to ctx.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey, &info)
}

// RequestInfoFromContext returns the metadata stored by WithRequestInfo.
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey).(*RequestInfo)
	if !ok {
		return RequestInfo{}, false
	}
	return *info, true
}

// SetRequestUser records the authenticated caller on the request metadata.
// Contexts derived from the same WithRequestInfo call, including the ones
// of outer middleware, see the change. It must be called from the goroutine
// serving the request.
func SetRequestUser(ctx context.Context, userID int64) {
	if info, ok := ctx.Value(requestInfoKey).(*RequestInfo); ok {
		info.UserID = userID
	}
}

func (i RequestInfo) apply(e database.HistoryEntry) database.HistoryEntry {
	if e.Method == "" {
		e.Method = i.Method
	}
	if e.Endpoint == "" {
		e.Endpoint = i.Endpoint
	}
	if e.IP == "" {
		e.IP = i.IP
	}
	if e.UserAgent == "" {
		e.UserAgent = i.UserAgent
	}
	if e.UserID == 0 {
		e.UserID = i.UserID
	}
	return e
}
