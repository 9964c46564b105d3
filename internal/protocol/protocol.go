package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CommandType enumerates all supported front-end -> relay commands.
type CommandType string

const (
	CommandUserMessage   CommandType = "user_message"
	CommandCancelRequest CommandType = "cancel_request"
	CommandKillSession   CommandType = "kill_session"
	CommandResumeSession CommandType = "resume_session"
	CommandListSessions  CommandType = "list_sessions"
	CommandGetConfig     CommandType = "get_config"
)

// Command is a marker interface implemented by all protocol commands.
type Command interface {
	GetType() CommandType
}

// UserMessageCommand delivers one chat message for processing. A message
// starting with "!" preempts any query already in flight.
type UserMessageCommand struct {
	Type      CommandType `json:"type"`
	Sender    string      `json:"sender,omitempty"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
}

// GetType implements Command.
func (c UserMessageCommand) GetType() CommandType { return CommandUserMessage }

// CancelRequestCommand requests cancellation of the current running query.
type CancelRequestCommand struct {
	Type   CommandType `json:"type"`
	Sender string      `json:"sender,omitempty"`
}

// GetType implements Command.
func (c CancelRequestCommand) GetType() CommandType { return CommandCancelRequest }

// KillSessionCommand discards the live session identity. Saved sessions
// are not touched.
type KillSessionCommand struct {
	Type   CommandType `json:"type"`
	Sender string      `json:"sender,omitempty"`
}

// GetType implements Command.
func (c KillSessionCommand) GetType() CommandType { return CommandKillSession }

// ResumeSessionCommand adopts a saved session. An empty SessionID means
// the most recent session for the current working directory.
type ResumeSessionCommand struct {
	Type      CommandType `json:"type"`
	Sender    string      `json:"sender,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
}

// GetType implements Command.
func (c ResumeSessionCommand) GetType() CommandType { return CommandResumeSession }

// ListSessionsCommand requests the saved sessions for the current
// working directory.
type ListSessionsCommand struct {
	Type   CommandType `json:"type"`
	Sender string      `json:"sender,omitempty"`
}

// GetType implements Command.
func (c ListSessionsCommand) GetType() CommandType { return CommandListSessions }

// GetConfigCommand requests the current configuration.
type GetConfigCommand struct {
	Type CommandType `json:"type"`
}

// GetType implements Command.
func (c GetConfigCommand) GetType() CommandType { return CommandGetConfig }

type rawCommand struct {
	Type CommandType `json:"type"`
}

// DecodeCommand converts raw JSON into a strongly typed command.
func DecodeCommand(data []byte) (Command, error) {
	var base rawCommand
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	switch base.Type {
	case CommandUserMessage:
		var cmd UserMessageCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode user_message: %w", err)
		}
		if cmd.Message == "" {
			return nil, errors.New("user_message requires message")
		}
		return cmd, nil
	case CommandCancelRequest:
		var cmd CancelRequestCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode cancel_request: %w", err)
		}
		return cmd, nil
	case CommandKillSession:
		var cmd KillSessionCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode kill_session: %w", err)
		}
		return cmd, nil
	case CommandResumeSession:
		var cmd ResumeSessionCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode resume_session: %w", err)
		}
		return cmd, nil
	case CommandListSessions:
		var cmd ListSessionsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode list_sessions: %w", err)
		}
		return cmd, nil
	case CommandGetConfig:
		var cmd GetConfigCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode get_config: %w", err)
		}
		return cmd, nil
	default:
		return nil, fmt.Errorf("unknown command type: %s", base.Type)
	}
}

// EventType enumerates relay -> front-end events.
type EventType string

const (
	EventAssistantText EventType = "assistant_text"
	EventThinking      EventType = "thinking"
	EventTool          EventType = "tool_event"
	EventDone          EventType = "done"
	EventError         EventType = "error"
	EventStatus        EventType = "status"
	EventCancelled     EventType = "cancelled"
	EventSessionList   EventType = "session_list"
	EventConfigLoaded  EventType = "config_loaded"
)

// Event is implemented by every outgoing message.
type Event interface {
	isEvent()
	GetType() EventType
}

// MarshalEvent serializes an event into JSON for NDJSON transport.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

type eventBase struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
}

func (eventBase) isEvent() {}

// AssistantTextEvent streams one text segment to the front-end. Final
// marks the segment's last emission; the segment id never repeats with
// Final set.
type AssistantTextEvent struct {
	eventBase
	Content   string `json:"content"`
	SegmentID int    `json:"segment_id"`
	Final     bool   `json:"final,omitempty"`
}

// NewAssistantTextEvent constructs an assistant_text event.
func NewAssistantTextEvent(sessionID, content string, segmentID int, final bool) AssistantTextEvent {
	return AssistantTextEvent{
		eventBase: eventBase{Type: EventAssistantText, SessionID: sessionID},
		Content:   content,
		SegmentID: segmentID,
		Final:     final,
	}
}

// GetType implements Event.
func (e AssistantTextEvent) GetType() EventType { return e.Type }

// ThinkingEvent carries a reasoning fragment for optional display.
type ThinkingEvent struct {
	eventBase
	Content string `json:"content"`
}

// NewThinkingEvent constructs a thinking event.
func NewThinkingEvent(sessionID, content string) ThinkingEvent {
	return ThinkingEvent{
		eventBase: eventBase{Type: EventThinking, SessionID: sessionID},
		Content:   content,
	}
}

// GetType implements Event.
func (e ThinkingEvent) GetType() EventType { return e.Type }

// ToolEvent tracks tool invocation lifecycle.
type ToolEvent struct {
	eventBase
	Tool    string `json:"tool"`
	Phase   string `json:"phase"` // started, completed
	Success *bool  `json:"success,omitempty"`
	Details string `json:"details,omitempty"`
}

// NewToolEvent constructs a tool_event message.
func NewToolEvent(sessionID, tool, phase string, success *bool, details string) ToolEvent {
	return ToolEvent{
		eventBase: eventBase{Type: EventTool, SessionID: sessionID},
		Tool:      tool,
		Phase:     phase,
		Success:   success,
		Details:   details,
	}
}

// GetType implements Event.
func (e ToolEvent) GetType() EventType { return e.Type }

// DoneEvent signals completion of one user message.
type DoneEvent struct {
	eventBase
	Summary      string `json:"summary,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// NewDoneEvent constructs a done event.
func NewDoneEvent(sessionID, summary string, inputTokens, outputTokens int) DoneEvent {
	return DoneEvent{
		eventBase:    eventBase{Type: EventDone, SessionID: sessionID},
		Summary:      summary,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}
}

// GetType implements Event.
func (e DoneEvent) GetType() EventType { return e.Type }

// ErrorEvent reports recoverable protocol or backend issues.
type ErrorEvent struct {
	eventBase
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// NewErrorEvent constructs an error event.
func NewErrorEvent(sessionID, message, kind string) ErrorEvent {
	return ErrorEvent{
		eventBase: eventBase{Type: EventError, SessionID: sessionID},
		Message:   message,
		Kind:      kind,
	}
}

// GetType implements Event.
func (e ErrorEvent) GetType() EventType { return e.Type }

// StatusEvent communicates coarse lifecycle state.
type StatusEvent struct {
	eventBase
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// NewStatusEvent constructs a status event.
func NewStatusEvent(sessionID, status, detail string) StatusEvent {
	return StatusEvent{
		eventBase: eventBase{Type: EventStatus, SessionID: sessionID},
		Status:    status,
		Detail:    detail,
	}
}

// GetType implements Event.
func (e StatusEvent) GetType() EventType { return e.Type }

// CancelledEvent signals that a query was stopped by user request.
type CancelledEvent struct {
	eventBase
	Reason string `json:"reason,omitempty"`
}

// NewCancelledEvent constructs a cancelled event.
func NewCancelledEvent(sessionID, reason string) CancelledEvent {
	return CancelledEvent{
		eventBase: eventBase{Type: EventCancelled, SessionID: sessionID},
		Reason:    reason,
	}
}

// GetType implements Event.
func (e CancelledEvent) GetType() EventType { return e.Type }

// SessionSummary is one saved session in a session_list event.
type SessionSummary struct {
	SessionID  string `json:"session_id"`
	Title      string `json:"title,omitempty"`
	SavedAt    string `json:"saved_at"`
	WorkingDir string `json:"working_directory,omitempty"`
}

// SessionListEvent returns the saved sessions for the working directory,
// most recent first.
type SessionListEvent struct {
	eventBase
	Sessions []SessionSummary `json:"sessions"`
}

// NewSessionListEvent constructs a session_list event.
func NewSessionListEvent(sessions []SessionSummary) SessionListEvent {
	return SessionListEvent{
		eventBase: eventBase{Type: EventSessionList},
		Sessions:  sessions,
	}
}

// GetType implements Event.
func (e SessionListEvent) GetType() EventType { return e.Type }

// ConfigLoadedEvent returns the current configuration.
type ConfigLoadedEvent struct {
	eventBase
	Config map[string]string `json:"config"`
}

// NewConfigLoadedEvent constructs a config_loaded event.
func NewConfigLoadedEvent(config map[string]string) ConfigLoadedEvent {
	return ConfigLoadedEvent{
		eventBase: eventBase{Type: EventConfigLoaded},
		Config:    config,
	}
}

// GetType implements Event.
func (e ConfigLoadedEvent) GetType() EventType { return e.Type }
