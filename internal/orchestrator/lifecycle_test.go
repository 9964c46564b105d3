package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/relay/internal/agent"
	"github.com/ChamsBouzaiene/relay/internal/session"
)

// fakeEngine replays a scripted event stream. With hang set it blocks
// after the scripted events until the context is cancelled, like a backend
// that has gone quiet.
type fakeEngine struct {
	events []agent.Event
	err    error
	hang   bool
}

func (f *fakeEngine) Query(ctx context.Context, prompt string, opts agent.QueryOptions) (<-chan agent.Event, <-chan error) {
	eventCh := make(chan agent.Event)
	errCh := make(chan error, 1)
	go func() {
		defer close(eventCh)
		defer close(errCh)
		for _, ev := range f.events {
			select {
			case eventCh <- ev:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if f.hang {
			<-ctx.Done()
			errCh <- ctx.Err()
			return
		}
		if f.err != nil {
			errCh <- f.err
		}
	}()
	return eventCh, errCh
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recordingNotifier) Notify(_ context.Context, u Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

func (r *recordingNotifier) all() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func (r *recordingNotifier) byKind(kind UpdateKind) []Update {
	var out []Update
	for _, u := range r.all() {
		if u.Kind == kind {
			out = append(out, u)
		}
	}
	return out
}

// waitFor polls until at least n updates of the given kind arrived;
// fire-and-forget emissions land on their own schedule.
func (r *recordingNotifier) waitFor(t *testing.T, kind UpdateKind, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(r.byKind(kind)) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s updates, have %d", n, kind, len(r.byKind(kind)))
}

func assistantText(id, text string) agent.Event {
	return agent.Event{Kind: agent.EventAssistant, SessionID: id, Blocks: []agent.Block{{Type: agent.BlockText, Text: text}}}
}

func toolUse(id, name, toolID string, input map[string]any) agent.Event {
	raw, _ := json.Marshal(input)
	return agent.Event{Kind: agent.EventAssistant, SessionID: id, Blocks: []agent.Block{{
		Type: agent.BlockToolUse, ToolName: name, ToolID: toolID, ToolInput: raw,
	}}}
}

func toolResult(id, toolID, content string, isErr bool) agent.Event {
	return agent.Event{Kind: agent.EventUser, SessionID: id, Blocks: []agent.Block{{
		Type: agent.BlockToolResult, ResultID: toolID, IsError: isErr, Content: content,
	}}}
}

func resultEvent(id string) agent.Event {
	return agent.Event{Kind: agent.EventResult, SessionID: id, Usage: &agent.Usage{InputTokens: 10, OutputTokens: 20}}
}

func newTestManager(t *testing.T, eng agent.Engine) (*Manager, *session.Index) {
	t.Helper()
	index := session.NewIndex(filepath.Join(t.TempDir(), "sessions.json"))
	m := NewManager(eng, index, Config{
		Model:       "test-model",
		WorkingDir:  "/work/project",
		AllowedDirs: []string{"/work/project"},
	})
	return m, index
}

func TestSendAssemblesResponse(t *testing.T) {
	eng := &fakeEngine{events: []agent.Event{
		{Kind: agent.EventSystem, SessionID: "sess-1"},
		assistantText("sess-1", "Hello, "),
		assistantText("sess-1", "world."),
		resultEvent("sess-1"),
	}}
	m, index := newTestManager(t, eng)
	rec := &recordingNotifier{}

	got, err := m.Send(context.Background(), "hi", rec)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got != "Hello, world." {
		t.Errorf("response = %q, want %q", got, "Hello, world.")
	}

	if m.Session().ID != "sess-1" {
		t.Errorf("session id = %q, want sess-1", m.Session().ID)
	}
	if m.Session().LastUsage == nil || m.Session().LastUsage.OutputTokens != 20 {
		t.Errorf("usage not captured: %+v", m.Session().LastUsage)
	}
	if found := index.Find("sess-1"); found == nil {
		t.Error("session id was not persisted to the index")
	}

	if n := len(rec.byKind(UpdateDone)); n != 1 {
		t.Errorf("expected exactly one done update, got %d", n)
	}
	ends := rec.byKind(UpdateSegmentEnd)
	if len(ends) != 1 || ends[0].Text != "Hello, world." || ends[0].SegmentID != 0 {
		t.Errorf("unexpected segment_end updates: %+v", ends)
	}
}

func TestEmptyResponseSentinel(t *testing.T) {
	eng := &fakeEngine{events: []agent.Event{
		{Kind: agent.EventSystem, SessionID: "sess-1"},
		resultEvent("sess-1"),
	}}
	m, _ := newTestManager(t, eng)

	got, err := m.Send(context.Background(), "hi", &recordingNotifier{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got != ResponseEmpty {
		t.Errorf("response = %q, want %q", got, ResponseEmpty)
	}
}

// A text block longer than the minimum segment length produces one text
// update, and its segment is closed before the following tool invocation
// is announced.
func TestTextThenToolOrdering(t *testing.T) {
	const long = "This text has 25 chars!!!"
	eng := &fakeEngine{events: []agent.Event{
		assistantText("sess-1", long),
		toolUse("sess-1", "WebSearch", "t1", map[string]any{"query": "go"}),
		toolResult("sess-1", "t1", "3 results", false),
		assistantText("sess-1", "Summary of the findings."),
		resultEvent("sess-1"),
	}}
	m, _ := newTestManager(t, eng)
	rec := &recordingNotifier{}

	if _, err := m.Send(context.Background(), "hi", rec); err != nil {
		t.Fatalf("Send: %v", err)
	}
	rec.waitFor(t, UpdateTool, 1)
	rec.waitFor(t, UpdateToolDone, 1)

	texts := rec.byKind(UpdateText)
	if len(texts) == 0 || texts[0].Text != long || texts[0].SegmentID != 0 {
		t.Fatalf("expected throttled text update for segment 0, got %+v", texts)
	}

	// segment_end per id: exactly once, ids increasing.
	ends := rec.byKind(UpdateSegmentEnd)
	if len(ends) != 2 {
		t.Fatalf("expected 2 segment_end updates, got %+v", ends)
	}
	if ends[0].SegmentID != 0 || ends[1].SegmentID != 1 {
		t.Errorf("segment ids out of order: %+v", ends)
	}

	// The awaited segment_end(0) must precede the tool announcement.
	var endIdx, toolIdx int = -1, -1
	for i, u := range rec.all() {
		if u.Kind == UpdateSegmentEnd && u.SegmentID == 0 {
			endIdx = i
		}
		if u.Kind == UpdateTool && toolIdx < 0 {
			toolIdx = i
		}
	}
	if endIdx < 0 || toolIdx < 0 || endIdx > toolIdx {
		t.Errorf("segment_end(0) at %d should precede tool at %d", endIdx, toolIdx)
	}
}

// Short final segments are not starved: no throttled update mid-stream,
// but the text is flushed as segment_end at query end.
func TestShortSegmentFlushedAtEnd(t *testing.T) {
	eng := &fakeEngine{events: []agent.Event{
		assistantText("sess-1", "short reply"),
		resultEvent("sess-1"),
	}}
	m, _ := newTestManager(t, eng)
	rec := &recordingNotifier{}

	got, err := m.Send(context.Background(), "hi", rec)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got != "short reply" {
		t.Errorf("response = %q", got)
	}
	if n := len(rec.byKind(UpdateText)); n != 0 {
		t.Errorf("expected no throttled text updates for a short segment, got %d", n)
	}
	ends := rec.byKind(UpdateSegmentEnd)
	if len(ends) != 1 || ends[0].Text != "short reply" {
		t.Errorf("final segment not flushed: %+v", ends)
	}
}

// A result for an identifier that was never registered (or was dropped,
// as the ask-user family is) produces no tool_done update.
func TestOrphanToolResultIgnored(t *testing.T) {
	eng := &fakeEngine{events: []agent.Event{
		toolResult("sess-1", "never-registered", "whatever", false),
		resultEvent("sess-1"),
	}}
	m, _ := newTestManager(t, eng)
	rec := &recordingNotifier{}

	if _, err := m.Send(context.Background(), "hi", rec); err != nil {
		t.Fatalf("Send: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // give stray async emissions a chance
	if n := len(rec.byKind(UpdateToolDone)); n != 0 {
		t.Errorf("expected no tool_done for unknown result id, got %d", n)
	}
}

func TestToolDoneClassification(t *testing.T) {
	eng := &fakeEngine{events: []agent.Event{
		toolUse("sess-1", "WebSearch", "ok1", map[string]any{"query": "a"}),
		toolResult("sess-1", "ok1", "fine", false),
		toolUse("sess-1", "WebSearch", "bad1", map[string]any{"query": "b"}),
		toolResult("sess-1", "bad1", "Error: no route to host", false),
		resultEvent("sess-1"),
	}}
	m, _ := newTestManager(t, eng)
	rec := &recordingNotifier{}

	if _, err := m.Send(context.Background(), "hi", rec); err != nil {
		t.Fatalf("Send: %v", err)
	}
	rec.waitFor(t, UpdateToolDone, 2)

	var okText, badText string
	for _, u := range rec.byKind(UpdateToolDone) {
		switch u.ToolID {
		case "ok1":
			okText = u.Text
		case "bad1":
			badText = u.Text
		}
	}
	if !strings.HasPrefix(okText, "✅") {
		t.Errorf("success result not annotated as success: %q", okText)
	}
	if !strings.HasPrefix(badText, "❌") {
		t.Errorf("error-pattern result not annotated as error: %q", badText)
	}
}

func TestBlockedToolAbortsQuery(t *testing.T) {
	eng := &fakeEngine{events: []agent.Event{
		assistantText("sess-1", "Let me clean up."),
		toolUse("sess-1", "Bash", "t1", map[string]any{"command": "rm -rf / --no-preserve-root"}),
		resultEvent("sess-1"),
	}, hang: true}
	m, _ := newTestManager(t, eng)

	_, err := m.Send(context.Background(), "hi", &recordingNotifier{})
	if err == nil || !strings.Contains(err.Error(), "blocked") {
		t.Fatalf("expected safety veto, got %v", err)
	}
	// Policy decision, not a fault.
	if m.Session().LastError != "" {
		t.Errorf("safety veto polluted session error: %q", m.Session().LastError)
	}
}

func TestAskUserShortCircuits(t *testing.T) {
	eng := &fakeEngine{events: []agent.Event{
		assistantText("sess-1", "Before I continue I need to know something."),
		toolUse("sess-1", "AskUserQuestion", "q1", map[string]any{"question": "Which one?"}),
		assistantText("sess-1", "this must never be reduced"),
	}, hang: true}
	m, _ := newTestManager(t, eng)
	rec := &recordingNotifier{}

	got, err := m.Send(context.Background(), "hi", rec)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got != ResponseAwaitingSelection {
		t.Errorf("response = %q, want %q", got, ResponseAwaitingSelection)
	}
	if n := len(rec.byKind(UpdateDone)); n != 1 {
		t.Errorf("expected done framing, got %d done updates", n)
	}
	time.Sleep(50 * time.Millisecond)
	for _, u := range rec.byKind(UpdateTool) {
		if u.ToolID == "q1" {
			t.Error("ask-user tool must not be announced as a tool update")
		}
	}
}

func TestStopWhileIdle(t *testing.T) {
	m, _ := newTestManager(t, &fakeEngine{})
	if got := m.Stop(); got != StopNoneRunning {
		t.Errorf("Stop() while idle = %s, want %s", got, StopNoneRunning)
	}
}

func TestStopWhileProcessingThenSendCancelled(t *testing.T) {
	m, _ := newTestManager(t, &fakeEngine{})
	l := m.lifecycle

	l.mu.Lock()
	l.state = StateProcessing
	l.mu.Unlock()

	if got := m.Stop(); got != StopPending {
		t.Fatalf("Stop() while processing = %s, want %s", got, StopPending)
	}

	l.mu.Lock()
	l.state = StateIdle
	l.mu.Unlock()

	_, err := m.Send(context.Background(), "hi", &recordingNotifier{})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Send after pending stop = %v, want ErrCancelled", err)
	}

	// The pending flag is consumed: the next send runs normally.
	if _, err := m.Send(context.Background(), "hi", &recordingNotifier{}); err != nil {
		t.Fatalf("Send after consumed stop: %v", err)
	}
}

func TestStopWhileRunning(t *testing.T) {
	const long = "partial answer that is long enough to emit"
	eng := &fakeEngine{events: []agent.Event{
		{Kind: agent.EventSystem, SessionID: "sess-1"},
		assistantText("sess-1", long),
	}, hang: true}
	m, index := newTestManager(t, eng)
	rec := &recordingNotifier{}

	type result struct {
		text string
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		text, err := m.Send(context.Background(), "hi", rec)
		resCh <- result{text, err}
	}()

	rec.waitFor(t, UpdateText, 1)
	if got := m.Stop(); got != StopStopped {
		t.Fatalf("Stop() while running = %s, want %s", got, StopStopped)
	}

	res := <-resCh
	if res.err != nil {
		t.Fatalf("cancellation surfaced as error: %v", res.err)
	}
	if res.text != long {
		t.Errorf("partial response = %q, want %q", res.text, long)
	}

	// The id was persisted before the abort, so the session is resumable.
	if index.Find("sess-1") == nil {
		t.Error("session id not persisted before abort")
	}

	// No further text/tool emissions after the cancellation point.
	seen := len(rec.all())
	time.Sleep(50 * time.Millisecond)
	for _, u := range rec.all()[seen:] {
		if u.Kind == UpdateText || u.Kind == UpdateTool {
			t.Errorf("update %s emitted after cancellation", u.Kind)
		}
	}
}

func TestInactivityTimeoutPreservesPartialText(t *testing.T) {
	eng := &fakeEngine{events: []agent.Event{
		{Kind: agent.EventSystem, SessionID: "sess-1"},
		assistantText("sess-1", "Here are the result"),
	}, hang: true}
	index := session.NewIndex(filepath.Join(t.TempDir(), "sessions.json"))
	m := NewManager(eng, index, Config{
		WorkingDir:        "/work/project",
		InactivityTimeout: 50 * time.Millisecond,
	})
	rec := &recordingNotifier{}

	got, err := m.Send(context.Background(), "hi", rec)
	if err != nil {
		t.Fatalf("timeout surfaced as error: %v", err)
	}
	want := "Here are the result\n\n" + timeoutNotice
	if got != want {
		t.Errorf("response = %q, want %q", got, want)
	}

	ends := rec.byKind(UpdateSegmentEnd)
	if len(ends) != 2 {
		t.Fatalf("expected partial segment plus notice segment, got %+v", ends)
	}
	if ends[0].Text != "Here are the result" || ends[1].Text != timeoutNotice {
		t.Errorf("unexpected segment contents: %+v", ends)
	}
}

func TestTransportFaultRecorded(t *testing.T) {
	eng := &fakeEngine{
		events: []agent.Event{assistantText("sess-1", "working on it")},
		err:    fmt.Errorf("backend exploded"),
	}
	m, _ := newTestManager(t, eng)

	_, err := m.Send(context.Background(), "hi", &recordingNotifier{})
	if err == nil || !strings.Contains(err.Error(), "backend exploded") {
		t.Fatalf("expected transport fault, got %v", err)
	}
	if m.Session().LastError == "" {
		t.Error("transport fault not recorded on session")
	}
	if m.Session().LastErrorTime.IsZero() {
		t.Error("error time not recorded")
	}
}

// Session snapshots must stay safe while a query is mutating the session,
// including the failure path that records the transport error. Run with
// the race detector to get the full benefit.
func TestSessionSnapshotDuringFailingSend(t *testing.T) {
	eng := &fakeEngine{
		events: []agent.Event{
			{Kind: agent.EventSystem, SessionID: "sess-1"},
			assistantText("sess-1", "some partial output before the fault"),
		},
		err: fmt.Errorf("stream torn down"),
	}
	m, _ := newTestManager(t, eng)

	stop := make(chan struct{})
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		for {
			select {
			case <-stop:
				return
			default:
				_ = m.Session()
			}
		}
	}()

	_, err := m.Send(context.Background(), "hi", &recordingNotifier{})
	close(stop)
	<-polled

	if err == nil || !strings.Contains(err.Error(), "stream torn down") {
		t.Fatalf("expected transport fault, got %v", err)
	}
	sess := m.Session()
	if sess.LastError == "" || sess.ID != "sess-1" {
		t.Errorf("snapshot after failure = %+v", sess)
	}
}

func TestInterruptSupersedes(t *testing.T) {
	eng := &fakeEngine{events: []agent.Event{
		{Kind: agent.EventSystem, SessionID: "sess-1"},
		assistantText("sess-1", "a reply that is long enough to be emitted"),
	}, hang: true}
	m, _ := newTestManager(t, eng)
	rec := &recordingNotifier{}

	done := make(chan error, 1)
	go func() {
		_, err := m.Send(context.Background(), "hi", rec)
		done <- err
	}()
	rec.waitFor(t, UpdateText, 1)

	if got := m.Interrupt(); got != StopStopped {
		t.Fatalf("Interrupt() = %s, want %s", got, StopStopped)
	}
	if err := <-done; err != nil {
		t.Fatalf("preempted query surfaced error: %v", err)
	}

	// The superseding message proceeds: it is not treated as cancelled.
	eng2 := &fakeEngine{events: []agent.Event{
		assistantText("sess-1", "superseding answer"),
		resultEvent("sess-1"),
	}}
	m.lifecycle.engine = eng2
	got, err := m.Send(context.Background(), "!urgent", &recordingNotifier{})
	if err != nil {
		t.Fatalf("superseding send failed: %v", err)
	}
	if got != "superseding answer" {
		t.Errorf("superseding response = %q", got)
	}
}

func TestConcurrentSendRejected(t *testing.T) {
	eng := &fakeEngine{events: []agent.Event{
		assistantText("sess-1", "a reply that is long enough to be emitted"),
	}, hang: true}
	m, _ := newTestManager(t, eng)
	rec := &recordingNotifier{}

	go m.Send(context.Background(), "hi", rec) //nolint:errcheck
	rec.waitFor(t, UpdateText, 1)

	if !m.IsRunning() {
		t.Fatal("expected IsRunning during in-flight query")
	}
	if _, err := m.Send(context.Background(), "again", &recordingNotifier{}); !errors.Is(err, ErrQueryInFlight) {
		t.Fatalf("concurrent Send = %v, want ErrQueryInFlight", err)
	}
	m.Stop()
}

func TestResumeIdempotent(t *testing.T) {
	m, index := newTestManager(t, &fakeEngine{})
	index.Upsert(session.Record{ID: "sess-9", WorkingDir: "/work/project", Title: "older chat"})

	for i := 0; i < 2; i++ {
		if err := m.Resume("sess-9"); err != nil {
			t.Fatalf("Resume #%d: %v", i+1, err)
		}
		if m.Session().ID != "sess-9" || m.Session().Title != "older chat" {
			t.Fatalf("Resume #%d adopted %+v", i+1, m.Session())
		}
	}
}

func TestResumeUnknownOrForeign(t *testing.T) {
	m, index := newTestManager(t, &fakeEngine{})
	index.Upsert(session.Record{ID: "other", WorkingDir: "/somewhere/else"})

	if err := m.Resume("missing"); err == nil {
		t.Error("expected error resuming unknown id")
	}
	if err := m.Resume("other"); err == nil {
		t.Error("expected error resuming session from another working directory")
	}
}

func TestResumeLast(t *testing.T) {
	m, index := newTestManager(t, &fakeEngine{})

	if err := m.ResumeLast(); err == nil {
		t.Error("expected error with no saved sessions")
	}

	index.Upsert(session.Record{ID: "old", WorkingDir: "/work/project"})
	index.Upsert(session.Record{ID: "new", WorkingDir: "/work/project"})

	if err := m.ResumeLast(); err != nil {
		t.Fatalf("ResumeLast: %v", err)
	}
	if m.Session().ID != "new" {
		t.Errorf("resumed %q, want the most recent id", m.Session().ID)
	}
}

func TestKillClearsIdentityOnly(t *testing.T) {
	m, index := newTestManager(t, &fakeEngine{})
	index.Upsert(session.Record{ID: "sess-4", WorkingDir: "/work/project", Title: "keep me"})
	if err := m.Resume("sess-4"); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	m.Kill()
	if m.Session().ID != "" || m.Session().Title != "" {
		t.Errorf("Kill left identity behind: %+v", m.Session())
	}
	if index.Find("sess-4") == nil {
		t.Error("Kill must not touch the saved-session index")
	}
}
