package middleware

import (
	"fmt"
	"net"
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/history"
)

// unrecordedPaths are polled by infrastructure and would flood the history.
var unrecordedPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// RequestInfo attaches the caller's method, path, address and user agent to
// the request context so history entries can be attributed. When rec is not
// nil it also records one entry per served request with its status code,
// rejected and unauthorized ones included.
// It must run after chi's RealIP middleware.
func RequestInfo(rec *history.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := history.WithRequestInfo(r.Context(), history.RequestInfo{
				Method:    r.Method,
				Endpoint:  r.URL.Path,
				IP:        clientIP(r.RemoteAddr),
				UserAgent: r.UserAgent(),
			})
			r = r.WithContext(ctx)
			if rec == nil || unrecordedPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			rec.Record(ctx, database.HistoryEntry{
				Action: history.RequestAction(r.Method, r.URL.Path),
				Detail: fmt.Sprintf("status=%d", status),
			})
		})
	}
}

// clientIP strips the port from a RemoteAddr. RealIP leaves a bare address.
func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
