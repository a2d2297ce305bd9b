package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-gate/internal/database/mock"
	"github.com/kozaktomas/face-gate/internal/history"
	"github.com/kozaktomas/face-gate/internal/logging"
	"github.com/kozaktomas/face-gate/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type stubValidator map[string]int64

func (s stubValidator) Validate(value string) (int64, error) {
	if id, ok := s[value]; ok {
		return id, nil
	}
	return 0, errors.New("unknown token")
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Bearer   abc  ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"abc", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := BearerToken(req); got != tt.want {
			t.Errorf("BearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestRequireToken(t *testing.T) {
	v := stubValidator{"good": 7, "anon": 0}

	var gotUser int64
	var gotToken string
	var gotInfo history.RequestInfo
	handler := RequestInfo(nil)(RequireToken(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = GetUserIDFromContext(r.Context())
		gotToken = GetTokenFromContext(r.Context())
		gotInfo, _ = history.RequestInfoFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Token good", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer good", http.StatusNoContent},
		{"anonymous token", "Bearer anon", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/usuarios", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rec.Body.String() != `{"error": "unauthorized"}` {
				t.Errorf("body = %s", rec.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/usuarios", nil)
	req.Header.Set("Authorization", "Bearer good")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if gotUser != 7 || gotToken != "good" {
		t.Errorf("context = (%d, %q), want (7, good)", gotUser, gotToken)
	}
	if gotInfo.UserID != 7 {
		t.Errorf("request info user = %d, want 7", gotInfo.UserID)
	}
}

func TestRequestInfo(t *testing.T) {
	var info history.RequestInfo
	handler := RequestInfo(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = history.RequestInfoFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/compararCara", nil)
	req.RemoteAddr = "192.168.1.20:51234"
	req.Header.Set("User-Agent", "kiosk/1.0")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if info.Method != http.MethodPost || info.Endpoint != "/compararCara" {
		t.Errorf("method/endpoint = %s %s", info.Method, info.Endpoint)
	}
	if info.IP != "192.168.1.20" {
		t.Errorf("IP = %q, want 192.168.1.20", info.IP)
	}
	if info.UserAgent != "kiosk/1.0" {
		t.Errorf("UserAgent = %q", info.UserAgent)
	}
}

func TestRequestInfo_RecordsEveryRequest(t *testing.T) {
	store := mock.NewMockStore()
	rec := history.NewRecorder(store, history.Options{Logger: logging.Discard()})
	v := stubValidator{"good": 7}

	mux := http.NewServeMux()
	mux.Handle("/usuarios/", RequireToken(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
	mux.HandleFunc("/subirUsuario", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "duplicate", http.StatusConflict)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
	handler := RequestInfo(rec)(mux)

	serve := func(method, path, token string) {
		req := httptest.NewRequest(method, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	serve(http.MethodDelete, "/usuarios/3", "stolen")
	serve(http.MethodDelete, "/usuarios/3", "good")
	serve(http.MethodPost, "/subirUsuario", "")
	serve(http.MethodGet, "/health", "")

	if err := rec.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	entries := store.History()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(entries), entries)
	}

	want := []struct {
		action string
		detail string
		userID int64
	}{
		{history.ActionRequestUserDelete, "status=401", 0},
		{history.ActionRequestUserDelete, "status=204", 7},
		{history.ActionRequestRegistration, "status=409", 0},
	}
	for i, w := range want {
		e := entries[i]
		if e.Action != w.action || e.Detail != w.detail || e.UserID != w.userID {
			t.Errorf("entry %d = (%s, %s, %d), want (%s, %s, %d)",
				i, e.Action, e.Detail, e.UserID, w.action, w.detail, w.userID)
		}
		if e.Method == "" || e.Endpoint == "" {
			t.Errorf("entry %d lacks request metadata: %+v", i, e)
		}
	}
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://panel.example.com/"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantOrigin string
		wantStatus int
	}{
		{"configured origin", http.MethodGet, "https://panel.example.com", "https://panel.example.com", http.StatusTeapot},
		{"localhost with port", http.MethodGet, "http://localhost:3000", "http://localhost:3000", http.StatusTeapot},
		{"loopback ip", http.MethodGet, "http://127.0.0.1:3000", "http://127.0.0.1:3000", http.StatusTeapot},
		{"localhost lookalike", http.MethodGet, "http://localhost.evil.com", "", http.StatusTeapot},
		{"foreign origin", http.MethodGet, "https://evil.com", "", http.StatusTeapot},
		{"preflight", http.MethodOptions, "http://localhost:3000", "http://localhost:3000", http.StatusOK},
		{"foreign preflight", http.MethodOptions, "https://evil.com", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/usuarios/1", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options")
	}
}

func TestMetrics_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics())
	r.Get("/usuarios/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	counter := metrics.HTTPRequests.WithLabelValues(http.MethodGet, "/usuarios/{id}", "404")
	before := counterValue(t, counter)

	for _, id := range []string{"1", "2", "3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/usuarios/"+id, nil))
	}

	if got := counterValue(t, counter) - before; got != 3 {
		t.Errorf("counter delta = %v, want 3", got)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("reading counter: %v", err)
	}
	return m.GetCounter().GetValue()
}
