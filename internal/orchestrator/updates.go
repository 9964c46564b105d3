// Package orchestrator drives one resumable session against a streaming
// agent backend: it owns the query lifecycle (cancellation, inactivity
// watchdog, single-flight), folds heterogeneous stream events into ordered
// user-visible updates, and maintains the saved-session index.
package orchestrator

import (
	"context"
	"log"
)

// UpdateKind discriminates user-visible updates sent to the chat transport.
type UpdateKind string

const (
	UpdateThinking   UpdateKind = "thinking"
	UpdateTool       UpdateKind = "tool"
	UpdateToolDone   UpdateKind = "tool_done"
	UpdateText       UpdateKind = "text"
	UpdateSegmentEnd UpdateKind = "segment_end"
	UpdateDone       UpdateKind = "done"
)

// Update is one emission to the chat transport. SegmentID is meaningful
// for text and segment_end, ToolID for tool and tool_done.
type Update struct {
	Kind      UpdateKind
	Text      string
	SegmentID int
	ToolID    string
}

// Notifier is the status-callback collaborator: the transport-side
// receiver of updates.
type Notifier interface {
	Notify(ctx context.Context, u Update) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, u Update) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, u Update) error { return f(ctx, u) }

// dispatchAsync delivers a non-critical update without blocking event
// consumption. Failures are logged, never propagated: transport slowness
// or flakiness must not stall or fail the stream.
func dispatchAsync(ctx context.Context, n Notifier, u Update) {
	go func() {
		if err := n.Notify(ctx, u); err != nil {
			log.Printf("⚠️  dropped %s update: %v", u.Kind, err)
		}
	}()
}
