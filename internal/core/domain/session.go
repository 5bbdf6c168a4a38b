package domain

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionIDPrefix is the prefix of session ids.
const SessionIDPrefix = "ths-"

// ClientInfo is what a client reports about itself at initialize.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Session is one client connection to the server.
type Session struct {
	ID         string     `json:"id"`
	Client     ClientInfo `json:"client"`
	RemoteAddr string     `json:"remote_addr,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastActive time.Time  `json:"last_active"`
}

// NewSession creates a session with a fresh id.
func NewSession(client ClientInfo, remoteAddr string, now time.Time) (*Session, error) {
	id, err := GenerateSessionID(now)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:         id,
		Client:     client,
		RemoteAddr: remoteAddr,
		CreatedAt:  now,
		LastActive: now,
	}, nil
}

// GenerateSessionID returns ths-{ulid_lowercase}.
func GenerateSessionID(now time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return "", ErrInternalServer.WithCause(err)
	}
	return SessionIDPrefix + strings.ToLower(id.String()), nil
}

// IsValidSessionID checks the prefix and the ULID body.
func IsValidSessionID(id string) bool {
	body, ok := strings.CutPrefix(id, SessionIDPrefix)
	if !ok || len(body) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.Parse(strings.ToUpper(body))
	return err == nil
}

// IdleFor reports how long the session has been inactive at now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActive)
}

// Clone returns a copy.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}
