package agent

import (
	"context"
	"encoding/json"
)

// EventKind discriminates the top-level streamed event variants.
type EventKind string

const (
	EventAssistant EventKind = "assistant" // model output: text/thinking/tool_use blocks
	EventUser      EventKind = "user"      // backend-echoed user turn: tool_result blocks
	EventResult    EventKind = "result"    // terminal event, carries usage accounting
	EventSystem    EventKind = "system"    // backend bookkeeping (init, status)
	EventOther     EventKind = "other"     // anything unrecognized; skipped downstream
)

// BlockType discriminates content blocks inside an event.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one content block of a streamed event. Which fields are
// meaningful depends on Type.
type Block struct {
	Type BlockType

	Text     string // BlockText
	Thinking string // BlockThinking

	// BlockToolUse
	ToolName  string
	ToolID    string
	ToolInput json.RawMessage

	// BlockToolResult
	ResultID string
	IsError  bool
	Content  string
}

// Event is one item of a streaming query. The backend assigns SessionID
// on the first event of a conversation; later events may repeat it.
type Event struct {
	Kind      EventKind
	SessionID string
	Blocks    []Block
	Usage     *Usage // EventResult only
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// QueryOptions carries the per-query configuration forwarded to the backend.
type QueryOptions struct {
	Resume         string   // session id to resume, "" for a fresh session
	Model          string
	WorkingDir     string
	AllowedDirs    []string
	MaxTurns       int
	ThinkingBudget int // 0 disables extended thinking
	SystemPrompt   string
}

// Engine abstracts the streaming agent backend. Query returns a channel of
// events and a channel that yields at most one error. Both channels are
// closed when the stream ends; the engine observes ctx for cancellation.
type Engine interface {
	Query(ctx context.Context, prompt string, opts QueryOptions) (<-chan Event, <-chan error)
}
