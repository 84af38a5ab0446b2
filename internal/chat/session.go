package chat

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	DefaultTitle  = "New chat"
	UntitledTitle = "Untitled Chat"

	localIDPrefix = "local-"
)

// Session represents a chat session
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
	Local     bool      `json:"local,omitempty"`
}

// SessionSummary is a session as shown in the session list
type SessionSummary = Session

// NewSession creates a new Session for a server issued code
func NewSession(code, title string) *Session {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	return &Session{
		ID:        code,
		Title:     title,
		UpdatedAt: time.Now(),
	}
}

// NewLocalSession creates a Session with a timestamp derived id that has not
// been registered with the server yet.
func NewLocalSession(title string) (*Session, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return nil, err
	}
	s := NewSession(localIDPrefix+strings.ToLower(id.String()), title)
	s.Local = true
	return s, nil
}

// IsLocalID reports whether id was synthesized by NewLocalSession.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}
