package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawrouter/internal/bus"
)

// Inbox is the narrow bus surface the spawn tool needs to report a
// sub-agent's result back in (§4.8a).
type Inbox interface {
	PublishInbound(bus.InboundMessage)
}

// SubagentRunner executes one background task and returns its result.
// Wired to a second Loop instance (or the same loop recursing with a
// fresh session) by the process that constructs the tool registry.
type SubagentRunner func(ctx context.Context, task string) (string, error)

// SpawnTool creates a sub-agent run for a task that can proceed
// independently of the current turn. The result is reported back as a
// channel="system" InboundMessage whose ChatID encodes the origin, so it
// flows through the ordinary §4.8a system-message path instead of a
// bespoke callback mechanism.
type SpawnTool struct {
	run Inbox
	do  SubagentRunner

	mu            sync.Mutex
	originChannel string
	originChatID  string
}

// NewSpawnTool builds a spawn tool that reports results onto inbox and
// executes tasks via do. do may be set later with SetRunner once the
// runner it depends on exists (the spawn tool must be registered before
// the agent loop it recurses into is fully constructed).
func NewSpawnTool(inbox Inbox, do SubagentRunner) *SpawnTool {
	return &SpawnTool{run: inbox, do: do}
}

// SetRunner assigns the function used to execute a spawned task.
func (t *SpawnTool) SetRunner(do SubagentRunner) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.do = do
}

func (t *SpawnTool) Name() string { return "spawn" }

func (t *SpawnTool) Description() string {
	return "Spawn a sub-agent to handle a task in the background and report back when done. Use for independent, time-consuming work."
}

func (t *SpawnTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "The task for the sub-agent to complete.",
			},
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Optional short label for display.",
			},
		},
		"required": []string{"task"},
	}
}

// SetContext records the origin (channel, chatID) the sub-agent's result
// should be delivered back to.
func (t *SpawnTool) SetContext(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.originChannel, t.originChatID = channel, chatID
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	task, _ := args["task"].(string)
	if task == "" {
		return "", fmt.Errorf("spawn: task is required")
	}

	t.mu.Lock()
	do := t.do
	originChannel, originChatID := t.originChannel, t.originChatID
	t.mu.Unlock()
	if do == nil {
		return "spawn: no subagent runner configured", nil
	}
	if originChannel == "" || originChatID == "" {
		return "", fmt.Errorf("spawn: no active destination")
	}

	runID := uuid.NewString()[:8]
	go func() {
		// Detached from the parent run's context/deadline: the sub-agent
		// result is expected well after this tool call returns.
		result, err := do(context.Background(), task)
		if err != nil {
			result = fmt.Sprintf("sub-agent task failed: %v", err)
		}
		t.run.PublishInbound(bus.InboundMessage{
			Channel:  "system",
			SenderID: "spawn:" + runID,
			ChatID:   originChannel + ":" + originChatID,
			Content:  result,
		})
	}()

	return fmt.Sprintf("Spawned sub-agent (run %s) for: %s. Result will arrive as a follow-up message.", runID, task), nil
}
