package database

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/kozaktomas/face-gate/internal/facematch"
)

func TestUserPatchEmpty(t *testing.T) {
	name := "Ana"
	tests := []struct {
		name  string
		patch UserPatch
		want  bool
	}{
		{"zero", UserPatch{}, true},
		{"name", UserPatch{Name: &name}, false},
		{"embedding", UserPatch{Embedding: facematch.Embedding{1}}, false},
		{"empty embedding slice", UserPatch{Embedding: facematch.Embedding{}}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.patch.Empty(); got != tc.want {
				t.Errorf("Empty() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestUserJSONHidesEmbedding(t *testing.T) {
	u := User{ID: 1, Name: "Ana", Surname: "García", Email: "ana@example.com", ImagePath: "users/a.jpg",
		Embedding: facematch.Embedding{0.25, 0.5}}

	b, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, key := range []string{`"id":1`, `"nombre":"Ana"`, `"apellido":"García"`, `"imagen":"users/a.jpg"`} {
		if !strings.Contains(s, key) {
			t.Errorf("expected %s in %s", key, s)
		}
	}
	if strings.Contains(s, "0.25") || strings.Contains(strings.ToLower(s), "embedding") {
		t.Errorf("embedding leaked: %s", s)
	}
}

func TestUserCandidate(t *testing.T) {
	u := User{ID: 7, Embedding: facematch.Embedding{1, 0}}
	c := u.Candidate()
	if c.UserID != 7 || len(c.Embedding) != 2 {
		t.Errorf("unexpected candidate %+v", c)
	}
}

func TestHistoryEntryClipped(t *testing.T) {
	e := HistoryEntry{
		Action:    "user_created",
		UserAgent: strings.Repeat("é", 300),
		Method:    "PROPFINDXYZ",
	}
	got := e.Clipped()
	if got.Action != "user_created" {
		t.Errorf("short field changed: %q", got.Action)
	}
	if n := len([]rune(got.UserAgent)); n != 255 {
		t.Errorf("expected 255 runes, got %d", n)
	}
	if got.Method != "PROPFINDXY" {
		t.Errorf("expected method clipped to 10, got %q", got.Method)
	}
}
