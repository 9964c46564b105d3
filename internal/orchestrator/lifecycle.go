package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/relay/internal/agent"
	"github.com/ChamsBouzaiene/relay/internal/policy"
	"github.com/ChamsBouzaiene/relay/internal/safety"
	"github.com/ChamsBouzaiene/relay/internal/session"
)

// State of the query lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing" // caller-side work before the stream opens
	StateRunning    State = "running"    // stream open, cancellation token live
	StateCompleted  State = "completed"
	StateAborted    State = "aborted"
	StateFailed     State = "failed"
)

// Sentinel response values.
const (
	// ResponseAwaitingSelection is returned when the backend asked the
	// user to pick an option; accumulated text is withheld until the
	// out-of-band choice resolves.
	ResponseAwaitingSelection = "(waiting for user selection)"

	// ResponseEmpty is returned when the stream produced no text at all.
	ResponseEmpty = "no response"
)

// timeoutNotice is appended to a partial response when the inactivity
// watchdog fires.
const timeoutNotice = "⏱️ The agent stopped responding; showing partial results."

// Config is the externally supplied, read-only configuration surface.
type Config struct {
	Model             string
	WorkingDir        string
	AllowedDirs       []string
	MaxTurns          int
	SystemPrompt      string
	InactivityTimeout time.Duration // watchdog bound on gaps between events
	ThrottleInterval  time.Duration // minimum interval between text updates
	Thinking          policy.Thinking
	AskUserTools      []string // tool family that pauses for a user choice
	Gate              *safety.Gate
	Formatter         ToolFormatter
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.InactivityTimeout <= 0 {
		out.InactivityTimeout = 2 * time.Minute
	}
	if out.ThrottleInterval <= 0 {
		out.ThrottleInterval = 700 * time.Millisecond
	}
	if out.AskUserTools == nil {
		out.AskUserTools = []string{"AskUserQuestion"}
	}
	if out.Gate == nil {
		out.Gate = &safety.Gate{AllowedDirs: out.AllowedDirs}
	}
	if out.Formatter == nil {
		out.Formatter = DefaultFormatter{}
	}
	return out
}

// Lifecycle owns the cancellation token, the inactivity watchdog and the
// single-flight guarantee for one Session. It is the only writer of the
// Session it is given.
type Lifecycle struct {
	engine agent.Engine
	index  *session.Index
	sess   *session.Session
	cfg    Config

	mu            sync.Mutex
	state         State
	cancel        context.CancelFunc
	stopRequested bool // stop arrived before the stream opened
	stopped       bool // stop cancelled a running stream (this query)
	interrupted   bool // stop caused by a superseding message
	timedOut      bool
	currentTool   string
}

// NewLifecycle wires a lifecycle for one session.
func NewLifecycle(engine agent.Engine, index *session.Index, sess *session.Session, cfg Config) *Lifecycle {
	return &Lifecycle{
		engine: engine,
		index:  index,
		sess:   sess,
		cfg:    cfg.withDefaults(),
		state:  StateIdle,
	}
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// IsRunning reports whether a send is in flight (Processing or Running).
// Callers must gate Send on this: the lifecycle does not queue.
func (l *Lifecycle) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == StateProcessing || l.state == StateRunning
}

// Stop requests cancellation of the in-flight query, if any.
func (l *Lifecycle) Stop() StopResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateRunning:
		l.stopped = true
		if l.cancel != nil {
			l.cancel()
		}
		return StopStopped
	case StateProcessing:
		// No token exists yet; Send consults this flag right before
		// opening the stream.
		l.stopRequested = true
		return StopPending
	default:
		return StopNoneRunning
	}
}

// Interrupt stops the current query on behalf of a superseding message.
// The next Send consumes the flag (clearing any pending stop with it) so
// the new message is not treated as itself cancelled.
func (l *Lifecycle) Interrupt() StopResult {
	res := l.Stop()
	l.mu.Lock()
	l.interrupted = true
	l.mu.Unlock()
	return res
}

// Snapshot returns a copy of the session under the lifecycle lock.
func (l *Lifecycle) Snapshot() session.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.sess
}

// ResetSession clears the session identity under the lifecycle lock.
func (l *Lifecycle) ResetSession() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sess.Reset()
}

// AdoptSession installs a saved identity under the lifecycle lock.
func (l *Lifecycle) AdoptSession(id, title string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sess.Reset()
	l.sess.ID = id
	l.sess.Title = title
}

// SetTitle sets the user-facing session label.
func (l *Lifecycle) SetTitle(title string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sess.Title = title
}

// CurrentTool returns the display label of the tool most recently started,
// or "".
func (l *Lifecycle) CurrentTool() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTool
}

// Send drives one query end to end and returns the assembled response
// text. Single-flight: a concurrent Send fails with ErrQueryInFlight.
func (l *Lifecycle) Send(ctx context.Context, message string, notifier Notifier) (string, error) {
	decision := l.cfg.Thinking.Level(message)

	l.mu.Lock()
	if l.state == StateProcessing || l.state == StateRunning {
		l.mu.Unlock()
		return "", ErrQueryInFlight
	}
	l.state = StateProcessing
	if l.interrupted {
		// This message is the one that caused the interrupt; the stop
		// that came with it must not cancel it too.
		l.interrupted = false
		l.stopRequested = false
	}
	firstMessage := !l.sess.Started()
	l.mu.Unlock()

	prompt := message
	if firstMessage {
		// Give the backend the wall clock up front so it never has to
		// burn a tool call asking for it.
		prompt = "Current time: " + time.Now().Format(time.RFC1123) + "\n\n" + message
	}

	// A stop may have arrived while Processing; honor it before any
	// stream is opened.
	l.mu.Lock()
	if l.stopRequested {
		l.stopRequested = false
		l.state = StateAborted
		l.mu.Unlock()
		l.finalize()
		return "", ErrCancelled
	}
	qctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.stopped = false
	l.timedOut = false
	l.state = StateRunning
	now := time.Now()
	l.sess.ActiveSince = now
	l.sess.LastActivity = now
	resumeID := l.sess.ID
	l.mu.Unlock()
	defer l.finalize()

	watchdog := time.AfterFunc(l.cfg.InactivityTimeout, func() {
		l.mu.Lock()
		l.timedOut = true
		l.mu.Unlock()
		cancel()
	})
	defer watchdog.Stop()

	events, errs := l.engine.Query(qctx, prompt, agent.QueryOptions{
		Resume:         resumeID,
		Model:          l.cfg.Model,
		WorkingDir:     l.cfg.WorkingDir,
		AllowedDirs:    l.cfg.AllowedDirs,
		MaxTurns:       l.cfg.MaxTurns,
		ThinkingBudget: decision.Budget,
		SystemPrompt:   l.cfg.SystemPrompt,
	})

	red := newReducer(notifier, l.cfg.Gate, l.cfg.Formatter, l.cfg.ThrottleInterval, l.cfg.AskUserTools)

	var streamErr error
	for ev := range events {
		watchdog.Reset(l.cfg.InactivityTimeout)
		l.observeEvent(ev, message)

		if err := red.reduce(qctx, ev); err != nil {
			streamErr = err
			cancel()
			break
		}
		if red.askUserHit {
			// Remaining events of this message are moot; release the
			// stream so the backend can unwind.
			cancel()
			break
		}
	}
	if streamErr == nil {
		// A closed channel yields nil; otherwise this is the stream's
		// terminal error.
		streamErr = <-errs
	}

	if streamErr != nil {
		if isBlocked(streamErr) {
			// Policy decision, not a fault: the session's error fields
			// stay clean.
			l.markState(StateAborted)
			return "", streamErr
		}
		if suppress := l.shouldSuppress(streamErr, red.complete || red.askUserHit); !suppress {
			l.mu.Lock()
			l.sess.RecordError(streamErr.Error(), time.Now())
			l.state = StateFailed
			l.mu.Unlock()
			return "", streamErr
		}
		l.markState(StateAborted)
	} else {
		l.markState(StateCompleted)
	}

	if red.usage != nil {
		l.mu.Lock()
		l.sess.LastUsage = red.usage
		l.mu.Unlock()
	}

	return l.assemble(ctx, red, notifier)
}

// observeEvent updates session bookkeeping for every received event and
// persists the session id the moment the backend first reveals it, so the
// conversation is resumable even if this query is later aborted.
func (l *Lifecycle) observeEvent(ev agent.Event, message string) {
	l.mu.Lock()
	l.sess.LastActivity = time.Now()
	for _, b := range ev.Blocks {
		if b.Type == agent.BlockToolUse {
			l.currentTool = b.ToolName
		}
	}
	newID := ev.SessionID != "" && l.sess.ID == ""
	if newID {
		l.sess.ID = ev.SessionID
		if l.sess.Title == "" {
			l.sess.Title = session.TitleFromMessage(message)
		}
	}
	id, title := l.sess.ID, l.sess.Title
	l.mu.Unlock()

	if newID {
		l.index.Upsert(session.Record{
			ID:         id,
			SavedAt:    time.Now(),
			WorkingDir: l.cfg.WorkingDir,
			Title:      title,
		})
	}
}

// shouldSuppress applies the cooperative-cancellation rule: an error that
// reads as cancellation is expected noise when the query already finished
// logically, was preempted, was explicitly stopped, or timed out.
func (l *Lifecycle) shouldSuppress(err error, complete bool) bool {
	if !isCancelLike(err) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return complete || l.interrupted || l.stopped || l.stopRequested || l.timedOut
}

// assemble produces the final return value and terminal emissions, in
// priority order.
func (l *Lifecycle) assemble(ctx context.Context, red *reducer, notifier Notifier) (string, error) {
	done := Update{Kind: UpdateDone}

	if red.askUserHit {
		if err := notifier.Notify(ctx, done); err != nil {
			return "", err
		}
		return ResponseAwaitingSelection, nil
	}

	if err := red.closeSegment(ctx); err != nil {
		return "", err
	}

	l.mu.Lock()
	timedOut := l.timedOut
	l.mu.Unlock()
	if timedOut {
		if err := red.appendNotice(ctx, timeoutNotice); err != nil {
			return "", err
		}
		if err := notifier.Notify(ctx, done); err != nil {
			return "", err
		}
		return red.response.String() + "\n\n" + timeoutNotice, nil
	}

	if err := notifier.Notify(ctx, done); err != nil {
		return "", err
	}
	if red.response.Len() == 0 {
		return ResponseEmpty, nil
	}
	return red.response.String(), nil
}

func (l *Lifecycle) markState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// finalize cleans up after a query and feeds the terminal state back to
// Idle: token cleared, current-tool display cleared, activity timestamp
// cleared.
func (l *Lifecycle) finalize() {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.currentTool = ""
	l.stopped = false
	l.timedOut = false
	l.sess.ActiveSince = time.Time{}
	l.state = StateIdle
	l.mu.Unlock()
}
