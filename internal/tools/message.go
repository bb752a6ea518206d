package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/clawrouter/internal/bus"
)

// Outbox is the narrow bus surface the message tool needs.
type Outbox interface {
	PublishOutbound(bus.OutboundMessage)
}

// MessageTool lets the LLM send a proactive message to the current (or
// an explicitly named) destination outside the normal reply flow —
// useful for multi-turn tool sequences that want to narrate progress
// before the final answer.
type MessageTool struct {
	mu      sync.Mutex
	bus     Outbox
	channel string
	chatID  string
}

// NewMessageTool builds a message tool publishing through bus.
func NewMessageTool(b Outbox) *MessageTool {
	return &MessageTool{bus: b}
}

func (t *MessageTool) Name() string { return "message" }

func (t *MessageTool) Description() string {
	return "Send a message to the current conversation immediately, without waiting for your final answer. Use for long-running tasks to narrate progress."
}

func (t *MessageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The message text to send.",
			},
		},
		"required": []string{"content"},
	}
}

// SetContext records the current reply destination, called by the agent
// loop before each message is processed (§4.8 step 4).
func (t *MessageTool) SetContext(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel, t.chatID = channel, chatID
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	content, _ := args["content"].(string)
	if content == "" {
		return "", fmt.Errorf("message: content is required")
	}
	t.mu.Lock()
	channel, chatID := t.channel, t.chatID
	t.mu.Unlock()
	if channel == "" || chatID == "" {
		return "", fmt.Errorf("message: no active destination")
	}
	t.bus.PublishOutbound(bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: content})
	return "sent", nil
}
