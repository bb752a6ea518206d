package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/clawrouter/internal/cron"
)

// CronListTool exposes the current agent's scheduled-task table to the LLM.
type CronListTool struct {
	table *cron.Table
}

// NewCronListTool builds a tool reading table.
func NewCronListTool(table *cron.Table) *CronListTool {
	return &CronListTool{table: table}
}

func (t *CronListTool) Name() string        { return "cron_list" }
func (t *CronListTool) Description() string { return "List this agent's scheduled tasks." }
func (t *CronListTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *CronListTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	entries, err := t.table.List()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CronSetTool lets the LLM create or update a scheduled task, consulted
// later by the cron trigger (§4.15/C16).
type CronSetTool struct {
	table   *cron.Table
	channel string
	chatID  string
}

// NewCronSetTool builds a tool writing through table.
func NewCronSetTool(table *cron.Table) *CronSetTool {
	return &CronSetTool{table: table}
}

func (t *CronSetTool) Name() string { return "cron_set" }

func (t *CronSetTool) Description() string {
	return "Create or update a scheduled task. The task fires as a system message to the current conversation at the given cron expression."
}

func (t *CronSetTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id":      map[string]interface{}{"type": "string", "description": "Existing task ID to update, omit to create new."},
			"expr":    map[string]interface{}{"type": "string", "description": "5-field cron expression."},
			"message": map[string]interface{}{"type": "string", "description": "Content to deliver when the task fires."},
		},
		"required": []string{"expr", "message"},
	}
}

// SetContext records the conversation a newly created task should fire
// back into.
func (t *CronSetTool) SetContext(channel, chatID string) {
	t.channel, t.chatID = channel, chatID
}

func (t *CronSetTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	expr, _ := args["expr"].(string)
	message, _ := args["message"].(string)
	id, _ := args["id"].(string)
	if expr == "" || message == "" {
		return "", fmt.Errorf("cron_set: expr and message are required")
	}
	entry, err := t.table.Set(cron.Entry{ID: id, Expr: expr, Message: message, Channel: t.channel, ChatID: t.chatID})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("scheduled %s (%s)", entry.ID, entry.Expr), nil
}
