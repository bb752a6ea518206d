// Package tools implements the tool registry and built-in tools the
// agent loop drives during its provider/tool iteration (§4.8). The core
// treats every tool as an opaque execute(name, args) capability; this
// package supplies that capability plus the handful of built-ins this
// runtime ships with (message, spawn, image_resize, mcp_bridge, cron).
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/clawrouter/internal/providers"
)

// Tool is one named capability the LLM may invoke mid-run.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// ContextualTool is a Tool that needs to know the current message's
// (channel, chatID) so it can act on the right destination — the
// message tool sending proactively, the spawn tool reporting back via a
// channel="system" message, the cron tool scoping to the firing agent.
type ContextualTool interface {
	Tool
	SetContext(channel, chatID string)
}

// Registry holds every tool available to one agent, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds (or replaces) a tool under its own Name().
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool, or ok=false if unregistered.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs name with args. If the tool implements ContextualTool and
// channel/chatID are non-empty, SetContext is called first.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}, channel, chatID string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("tools: %q not registered", name)
	}
	if ct, ok := t.(ContextualTool); ok && channel != "" && chatID != "" {
		ct.SetContext(channel, chatID)
	}
	return t.Execute(ctx, args)
}

// UpdateContext calls SetContext on every ContextualTool in the
// registry, used by the agent loop once per message (§4.8 step 4) so
// the message/spawn/cron tools always know the current reply
// destination even if the LLM never explicitly passes it as an argument.
func (r *Registry) UpdateContext(channel, chatID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tools {
		if ct, ok := t.(ContextualTool); ok {
			ct.SetContext(channel, chatID)
		}
	}
}

// sortedNames returns tool names in sorted order so the LLM-facing tool
// list (and therefore the provider's prompt-cache key) is deterministic
// regardless of map iteration order.
func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderDefs returns every registered tool's schema in the shape the
// providers package sends to the LLM.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, name := range r.sortedNames() {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Names lists every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNames()
}
