package database

import (
	"time"
	"unicode/utf8"

	"github.com/kozaktomas/face-gate/internal/facematch"
)

// User is a registered person. The embedding is never serialized to clients.
type User struct {
	ID        int64               `json:"id"`
	Name      string              `json:"nombre"`
	Surname   string              `json:"apellido"`
	Email     string              `json:"email"`
	ImagePath string              `json:"imagen"`
	Embedding facematch.Embedding `json:"-"`
	CreatedAt time.Time           `json:"creado"`
	UpdatedAt time.Time           `json:"actualizado"`
}

// Candidate returns the user's embedding in matcher form.
func (u *User) Candidate() facematch.Candidate {
	return facematch.Candidate{UserID: u.ID, Embedding: u.Embedding}
}

// UserPatch holds the fields of an update. Nil pointers and a nil embedding are left unchanged.
type UserPatch struct {
	Name      *string
	Surname   *string
	Email     *string
	ImagePath *string
	Embedding facematch.Embedding
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.Name == nil && p.Surname == nil && p.Email == nil && p.ImagePath == nil && p.Embedding == nil
}

// HistoryEntry is an immutable record of an action performed against the service.
// UserID 0 means the action was anonymous.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"usuario_id,omitempty"`
	Action    string    `json:"accion"`
	Method    string    `json:"metodo,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Detail    string    `json:"detalle,omitempty"`
	CreatedAt time.Time `json:"fecha"`
}

// HistoryCursor marks the last entry of a page for keyset pagination.
type HistoryCursor struct {
	CreatedAt time.Time
	ID        int64
}

// HistoryQuery selects history entries, newest first.
// Zero values disable the corresponding filter.
type HistoryQuery struct {
	UserID int64
	Action string
	Since  time.Time
	Until  time.Time
	After  *HistoryCursor // return entries strictly older than the cursor
	Limit  int
}

// Column widths of the history table.
const (
	historyActionWidth    = 100
	historyMethodWidth    = 10
	historyEndpointWidth  = 255
	historyIPWidth        = 100
	historyUserAgentWidth = 255
)

// Clipped returns the entry with its fields cut to the column widths.
func (e HistoryEntry) Clipped() HistoryEntry {
	e.Action = clip(e.Action, historyActionWidth)
	e.Method = clip(e.Method, historyMethodWidth)
	e.Endpoint = clip(e.Endpoint, historyEndpointWidth)
	e.IP = clip(e.IP, historyIPWidth)
	e.UserAgent = clip(e.UserAgent, historyUserAgentWidth)
	return e
}

// clip cuts s to at most n runes.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
