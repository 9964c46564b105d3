package orchestrator

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/relay/internal/agent"
	"github.com/ChamsBouzaiene/relay/internal/safety"
)

// minSegmentLen is the length a text segment must exceed before a
// throttled text update is emitted. The final segment is always flushed
// at query end regardless, so short replies are never starved.
const minSegmentLen = 20

// Error-pattern heuristic for tool results whose IsError flag is unset.
var resultErrorPatterns = []string{"error:", "exception:", "traceback", "failed:", "permission denied"}

// reducer folds one query's stream of events into ordered updates and the
// accumulated response. Scoped to a single Send call; never shared.
type reducer struct {
	notifier Notifier
	gate     *safety.Gate
	format   ToolFormatter
	throttle time.Duration
	askUser  map[string]bool // tool names that pause for an out-of-band choice

	pending      map[string]string // tool id -> display string, this query only
	segment      strings.Builder
	segmentID    int
	response     strings.Builder
	lastTextEmit time.Time

	askUserHit bool
	complete   bool
	usage      *agent.Usage
}

func newReducer(notifier Notifier, gate *safety.Gate, format ToolFormatter, throttle time.Duration, askUserTools []string) *reducer {
	askUser := make(map[string]bool, len(askUserTools))
	for _, name := range askUserTools {
		askUser[name] = true
	}
	return &reducer{
		notifier: notifier,
		gate:     gate,
		format:   format,
		throttle: throttle,
		askUser:  askUser,
		pending:  make(map[string]string),
	}
}

// reduce consumes one event. Blocks are handled in order; events arrive
// strictly sequentially. A non-nil error (safety veto) aborts the query.
func (r *reducer) reduce(ctx context.Context, ev agent.Event) error {
	switch ev.Kind {
	case agent.EventAssistant:
		for _, b := range ev.Blocks {
			if err := r.assistantBlock(ctx, b); err != nil {
				return err
			}
			if r.askUserHit {
				// Short-circuit the rest of this message.
				return nil
			}
		}
	case agent.EventUser:
		for _, b := range ev.Blocks {
			if b.Type == agent.BlockToolResult {
				r.toolResult(ctx, b)
			}
		}
	case agent.EventResult:
		r.complete = true
		if ev.Usage != nil {
			r.usage = ev.Usage
		}
	case agent.EventSystem:
		// Session id is captured by the lifecycle; nothing to emit.
	default:
		log.Printf("skipping unhandled event kind %q", ev.Kind)
	}
	return nil
}

func (r *reducer) assistantBlock(ctx context.Context, b agent.Block) error {
	switch b.Type {
	case agent.BlockThinking:
		dispatchAsync(ctx, r.notifier, Update{Kind: UpdateThinking, Text: b.Thinking})

	case agent.BlockToolUse:
		if err := r.gate.Check(b.ToolName, b.ToolInput); err != nil {
			return err
		}
		if err := r.closeSegment(ctx); err != nil {
			return err
		}
		display := r.format.Display(b.ToolName, b.ToolInput)
		r.pending[b.ToolID] = display
		if r.askUser[b.ToolName] {
			// No terminal update will ever arrive for this id, and the
			// transport shows its own selection UI instead of a tool line.
			delete(r.pending, b.ToolID)
			r.askUserHit = true
			return nil
		}
		dispatchAsync(ctx, r.notifier, Update{Kind: UpdateTool, Text: display, ToolID: b.ToolID})

	case agent.BlockText:
		r.response.WriteString(b.Text)
		r.segment.WriteString(b.Text)
		if time.Since(r.lastTextEmit) >= r.throttle && r.segment.Len() > minSegmentLen {
			r.lastTextEmit = time.Now()
			if err := r.notifier.Notify(ctx, Update{
				Kind:      UpdateText,
				Text:      r.segment.String(),
				SegmentID: r.segmentID,
			}); err != nil {
				return err
			}
		}

	default:
		log.Printf("skipping unhandled block type %q", b.Type)
	}
	return nil
}

func (r *reducer) toolResult(ctx context.Context, b agent.Block) {
	display, ok := r.pending[b.ResultID]
	if !ok {
		// Ask-user tools and unknown ids produce no terminal update.
		return
	}
	delete(r.pending, b.ResultID)

	failed := b.IsError || matchesErrorPattern(b.Content)
	status := "✅"
	if failed {
		status = "❌"
	}
	text := status + " " + display
	if summary := r.format.Summary(b.Content); summary != "" {
		text += " — " + summary
	}
	dispatchAsync(ctx, r.notifier, Update{Kind: UpdateToolDone, Text: text, ToolID: b.ResultID})
}

// closeSegment finalizes the current text segment, if non-empty. Each
// segment id is closed at most once, always before a greater id opens.
func (r *reducer) closeSegment(ctx context.Context) error {
	if r.segment.Len() == 0 {
		return nil
	}
	err := r.notifier.Notify(ctx, Update{
		Kind:      UpdateSegmentEnd,
		Text:      r.segment.String(),
		SegmentID: r.segmentID,
	})
	r.segment.Reset()
	r.segmentID++
	return err
}

// appendNotice opens a fresh trailing segment containing notice and
// immediately emits and closes it. Used for the timeout notice.
func (r *reducer) appendNotice(ctx context.Context, notice string) error {
	r.segment.WriteString(notice)
	if err := r.notifier.Notify(ctx, Update{
		Kind:      UpdateText,
		Text:      notice,
		SegmentID: r.segmentID,
	}); err != nil {
		return err
	}
	return r.closeSegment(ctx)
}

func matchesErrorPattern(content string) bool {
	lower := strings.ToLower(content)
	for _, p := range resultErrorPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
