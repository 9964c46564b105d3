// Package session holds the live conversation state and the durable index
// of saved sessions.
package session

import (
	"time"

	"github.com/ChamsBouzaiene/relay/internal/agent"
)

// Session is the one resumable conversation this process drives. The zero
// value means "not yet started"; the backend assigns ID on the first
// streamed event of the first query. Only the query lifecycle mutates it,
// under the single-flight guarantee.
type Session struct {
	ID            string
	Title         string
	ActiveSince   time.Time // zero when no query is in flight
	LastActivity  time.Time
	LastError     string
	LastErrorTime time.Time
	LastUsage     *agent.Usage
}

// Started reports whether the backend has assigned a session id yet.
func (s *Session) Started() bool { return s.ID != "" }

// Reset returns the session to the empty/new state. Saved index records
// are untouched.
func (s *Session) Reset() {
	*s = Session{}
}

// RecordError stores the last transport fault for observability. Long
// messages are truncated so the session stays cheap to inspect.
func (s *Session) RecordError(msg string, now time.Time) {
	const maxErrLen = 500
	if len(msg) > maxErrLen {
		msg = msg[:maxErrLen]
	}
	s.LastError = msg
	s.LastErrorTime = now
}
