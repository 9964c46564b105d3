package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// AnthropicEngine implements Engine on top of the Anthropic SDK. The API is
// stateless, so the engine keeps per-session message history itself, keyed
// by a locally generated session id; passing that id in QueryOptions.Resume
// continues the conversation.
type AnthropicEngine struct {
	client *anthropic.Client
	model  string

	mu      sync.Mutex
	history map[string][]anthropic.Message
}

// NewAnthropicEngine creates an Anthropic-backed engine.
func NewAnthropicEngine(apiKey, modelName string) *AnthropicEngine {
	return &AnthropicEngine{
		client:  anthropic.NewClient(apiKey),
		model:   modelName,
		history: make(map[string][]anthropic.Message),
	}
}

// deltaBlock translates a streamed content-block delta into a normalized
// block. Only text and thinking deltas carry displayable content; the
// thinking payload sits behind an embedded pointer on MessageContent.
func deltaBlock(delta anthropic.MessagesEventContentBlockDeltaData) (Block, bool) {
	switch delta.Delta.Type {
	case "text_delta":
		if delta.Delta.Text != nil {
			return Block{Type: BlockText, Text: *delta.Delta.Text}, true
		}
	case "thinking_delta":
		if delta.Delta.MessageContentThinking != nil {
			return Block{Type: BlockThinking, Thinking: delta.Delta.Thinking}, true
		}
	}
	return Block{}, false
}

// Query implements Engine. Events are emitted in arrival order: a system
// event carrying the session id, assistant events per streamed block, then
// a terminal result event with usage.
func (e *AnthropicEngine) Query(ctx context.Context, prompt string, opts QueryOptions) (<-chan Event, <-chan error) {
	eventCh := make(chan Event, 16) // buffered to avoid blocking SDK callbacks
	errCh := make(chan error, 1)

	go func() {
		defer close(eventCh)
		defer close(errCh)

		sessionID := opts.Resume
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		e.mu.Lock()
		msgs := append([]anthropic.Message(nil), e.history[sessionID]...)
		e.mu.Unlock()
		msgs = append(msgs, anthropic.Message{
			Role:    anthropic.RoleUser,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(prompt)},
		})

		send := func(ev Event) bool {
			ev.SessionID = sessionID
			select {
			case eventCh <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(Event{Kind: EventSystem}) {
			errCh <- ctx.Err()
			return
		}

		model := opts.Model
		if model == "" {
			model = e.model
		}

		maxTokens := 4096
		if opts.ThinkingBudget > 0 {
			// Anthropic requires max_tokens to exceed the thinking budget.
			maxTokens = opts.ThinkingBudget + 4096
		}

		req := anthropic.MessagesStreamRequest{
			MessagesRequest: anthropic.MessagesRequest{
				Model:     anthropic.Model(model),
				Messages:  msgs,
				MaxTokens: maxTokens,
			},
		}
		if opts.SystemPrompt != "" {
			req.MultiSystem = []anthropic.MessageSystemPart{
				{Type: "text", Text: opts.SystemPrompt},
			}
		}
		if opts.ThinkingBudget > 0 {
			req.Thinking = &anthropic.Thinking{
				Type:         anthropic.ThinkingTypeEnabled,
				BudgetTokens: opts.ThinkingBudget,
			}
		}

		var assistantText strings.Builder
		var streamErr error

		req.OnError = func(errResp anthropic.ErrorResponse) {
			if errResp.Error != nil {
				streamErr = fmt.Errorf("anthropic streaming error: %s", errResp.Error.Message)
			}
		}

		req.OnContentBlockDelta = func(delta anthropic.MessagesEventContentBlockDeltaData) {
			block, ok := deltaBlock(delta)
			if !ok {
				return
			}
			if block.Type == BlockText {
				assistantText.WriteString(block.Text)
			}
			send(Event{Kind: EventAssistant, Blocks: []Block{block}})
		}

		req.OnContentBlockStop = func(_ anthropic.MessagesEventContentBlockStopData, content anthropic.MessageContent) {
			if content.Type != "tool_use" || content.MessageContentToolUse == nil {
				return
			}
			tu := content.MessageContentToolUse
			send(Event{Kind: EventAssistant, Blocks: []Block{{
				Type:      BlockToolUse,
				ToolName:  tu.Name,
				ToolID:    tu.ID,
				ToolInput: json.RawMessage(tu.Input),
			}}})
		}

		resp, err := e.client.CreateMessagesStream(ctx, req)
		if err != nil {
			errCh <- err
			return
		}
		if streamErr != nil {
			errCh <- streamErr
			return
		}

		e.mu.Lock()
		e.history[sessionID] = append(e.history[sessionID],
			anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(prompt)},
			},
			anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(assistantText.String())},
			},
		)
		e.mu.Unlock()

		send(Event{Kind: EventResult, Usage: &Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		}})
	}()

	return eventCh, errCh
}
