package orchestrator

import (
	"context"
	"fmt"

	"github.com/ChamsBouzaiene/relay/internal/agent"
	"github.com/ChamsBouzaiene/relay/internal/session"
)

// Manager is the public surface of the orchestration core: it holds the
// live Session identity and exposes the operations the rest of the system
// calls (send, stop, kill, resume, list).
type Manager struct {
	sess      session.Session
	lifecycle *Lifecycle
	index     *session.Index
	cfg       Config
}

// NewManager creates a manager with an empty session.
func NewManager(engine agent.Engine, index *session.Index, cfg Config) *Manager {
	m := &Manager{index: index, cfg: cfg}
	m.lifecycle = NewLifecycle(engine, index, &m.sess, cfg)
	return m
}

// Session returns a snapshot of the live session, safe to call while a
// query is streaming.
func (m *Manager) Session() session.Session { return m.lifecycle.Snapshot() }

// SetTitle sets the user-facing label used when the session is first
// persisted.
func (m *Manager) SetTitle(title string) { m.lifecycle.SetTitle(title) }

// IsRunning reports whether a query is in flight. Callers must check this
// before Send; concurrent sends are a caller error.
func (m *Manager) IsRunning() bool { return m.lifecycle.IsRunning() }

// Send drives one query and returns the final response text. Fails with
// ErrCancelled if a stop was pending, with a safety veto if a tool call
// was blocked, or with the backend's transport error.
func (m *Manager) Send(ctx context.Context, message string, notifier Notifier) (string, error) {
	return m.lifecycle.Send(ctx, message, notifier)
}

// Stop requests cancellation of the current query.
func (m *Manager) Stop() StopResult { return m.lifecycle.Stop() }

// Interrupt stops the current query because a new message preempts it.
func (m *Manager) Interrupt() StopResult { return m.lifecycle.Interrupt() }

// Kill clears the live session identity and title, returning to the
// empty/new state. Saved history in the index is untouched.
func (m *Manager) Kill() {
	m.lifecycle.ResetSession()
}

// Resume adopts a saved session. It fails if the id is unknown or was
// saved under a different working directory.
func (m *Manager) Resume(id string) error {
	rec := m.index.Find(id)
	if rec == nil {
		return fmt.Errorf("no saved session with id %s", id)
	}
	if rec.WorkingDir != "" && rec.WorkingDir != m.cfg.WorkingDir {
		return fmt.Errorf("session %s belongs to %s, not %s", id, rec.WorkingDir, m.cfg.WorkingDir)
	}
	m.lifecycle.AdoptSession(rec.ID, rec.Title)
	return nil
}

// ListSessions returns saved sessions for the current working directory,
// most-recent-first.
func (m *Manager) ListSessions() []session.Record {
	return m.index.ListForDir(m.cfg.WorkingDir)
}

// ResumeLast resumes the most recently saved session for the current
// working directory.
func (m *Manager) ResumeLast() error {
	records := m.ListSessions()
	if len(records) == 0 {
		return fmt.Errorf("no saved sessions for %s", m.cfg.WorkingDir)
	}
	return m.Resume(records[0].ID)
}
