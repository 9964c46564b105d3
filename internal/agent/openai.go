package agent

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIEngine implements Engine over the OpenAI chat-completions API (and
// any OpenAI-compatible endpoint via a base URL override). Like the
// Anthropic engine it keeps session history locally; the API has no
// extended-thinking knob, so ThinkingBudget is ignored.
type OpenAIEngine struct {
	client *openai.Client
	model  string

	mu      sync.Mutex
	history map[string][]openai.ChatCompletionMessage
}

// NewOpenAIEngine creates an OpenAI-backed engine. baseURL may be empty.
func NewOpenAIEngine(apiKey, modelName, baseURL string) *OpenAIEngine {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIEngine{
		client:  openai.NewClientWithConfig(config),
		model:   modelName,
		history: make(map[string][]openai.ChatCompletionMessage),
	}
}

// Query implements Engine.
func (e *OpenAIEngine) Query(ctx context.Context, prompt string, opts QueryOptions) (<-chan Event, <-chan error) {
	eventCh := make(chan Event, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(eventCh)
		defer close(errCh)

		sessionID := opts.Resume
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		e.mu.Lock()
		msgs := append([]openai.ChatCompletionMessage(nil), e.history[sessionID]...)
		e.mu.Unlock()

		model := opts.Model
		if model == "" {
			model = e.model
		}

		req := openai.ChatCompletionRequest{
			Model:  model,
			Stream: true,
			StreamOptions: &openai.StreamOptions{
				IncludeUsage: true,
			},
		}
		if opts.SystemPrompt != "" {
			req.Messages = append(req.Messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: opts.SystemPrompt,
			})
		}
		req.Messages = append(req.Messages, msgs...)
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
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

		stream, err := e.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			errCh <- err
			return
		}
		defer stream.Close()

		var assistantText strings.Builder
		var usage Usage

		for {
			response, err := stream.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) && !strings.Contains(err.Error(), "EOF") {
					errCh <- err
					return
				}
				break
			}
			if response.Usage != nil {
				usage = Usage{
					InputTokens:  response.Usage.PromptTokens,
					OutputTokens: response.Usage.CompletionTokens,
				}
			}
			if len(response.Choices) == 0 {
				continue
			}
			delta := response.Choices[0].Delta
			if delta.Content != "" {
				assistantText.WriteString(delta.Content)
				if !send(Event{Kind: EventAssistant, Blocks: []Block{
					{Type: BlockText, Text: delta.Content},
				}}) {
					errCh <- ctx.Err()
					return
				}
			}
		}

		e.mu.Lock()
		e.history[sessionID] = append(e.history[sessionID],
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: assistantText.String()},
		)
		e.mu.Unlock()

		send(Event{Kind: EventResult, Usage: &usage})
	}()

	return eventCh, errCh
}
