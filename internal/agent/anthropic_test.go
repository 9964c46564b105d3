package agent

import (
	"testing"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

func TestDeltaBlockText(t *testing.T) {
	text := "partial answer"
	block, ok := deltaBlock(anthropic.MessagesEventContentBlockDeltaData{
		Delta: anthropic.MessageContent{
			Type: "text_delta",
			Text: &text,
		},
	})
	if !ok {
		t.Fatal("text delta produced no block")
	}
	if block.Type != BlockText || block.Text != text {
		t.Errorf("got %+v", block)
	}
}

func TestDeltaBlockThinking(t *testing.T) {
	block, ok := deltaBlock(anthropic.MessagesEventContentBlockDeltaData{
		Delta: anthropic.MessageContent{
			Type: "thinking_delta",
			MessageContentThinking: &anthropic.MessageContentThinking{
				Thinking: "weighing the options",
			},
		},
	})
	if !ok {
		t.Fatal("thinking delta produced no block")
	}
	if block.Type != BlockThinking || block.Thinking != "weighing the options" {
		t.Errorf("got %+v", block)
	}
}

func TestDeltaBlockSkipsEmptyAndUnknown(t *testing.T) {
	tests := []struct {
		name  string
		delta anthropic.MessagesEventContentBlockDeltaData
	}{
		{"text delta without payload", anthropic.MessagesEventContentBlockDeltaData{
			Delta: anthropic.MessageContent{Type: "text_delta"},
		}},
		{"thinking delta without payload", anthropic.MessagesEventContentBlockDeltaData{
			Delta: anthropic.MessageContent{Type: "thinking_delta"},
		}},
		{"signature delta", anthropic.MessagesEventContentBlockDeltaData{
			Delta: anthropic.MessageContent{Type: "signature_delta"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if block, ok := deltaBlock(tt.delta); ok {
				t.Errorf("expected no block, got %+v", block)
			}
		})
	}
}
