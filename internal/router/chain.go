// Package router implements the routing filter chain: an ordered list of
// filters that decide whether the agent should respond to a message, and
// that contribute prompt text when it does.
package router

import (
	"context"

	"github.com/nextlevelbuilder/clawrouter/internal/bus"
	"github.com/nextlevelbuilder/clawrouter/internal/session"
)

// Decision is the outcome of a filter's gating judgment.
type Decision int

const (
	// Abstain means the filter has no opinion; the chain defers to the
	// next filter, or to the default (Respond) if none remain.
	Abstain Decision = iota
	Respond
	Skip
)

// Filter is one scenario-specific routing policy.
type Filter interface {
	// ShouldRespond returns the filter's gating decision for msg, or
	// Abstain if this filter doesn't apply.
	ShouldRespond(ctx context.Context, msg bus.InboundMessage, s *session.Session) (Decision, error)
	// BuildPromptExtras returns text to append to the system prompt, or
	// "" if this filter contributes nothing. Called only after gating
	// approves a response.
	BuildPromptExtras(msg bus.InboundMessage, s *session.Session) string
	// BuildUserReminder returns a short reminder to prepend to the user
	// turn, or "" if this filter contributes nothing.
	BuildUserReminder(msg bus.InboundMessage, s *session.Session) string
}

// Chain evaluates filters in registration order; the first non-Abstain
// decision wins. If every filter abstains, the default is Respond.
type Chain struct {
	filters []Filter
}

// NewChain builds a chain from zero or more filters, in evaluation order.
func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Add appends a filter to the end of the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// ShouldRespond runs the chain and returns a plain bool: true unless some
// filter explicitly returned Skip (or, failing any definitive answer,
// defaults to true).
func (c *Chain) ShouldRespond(ctx context.Context, msg bus.InboundMessage, s *session.Session) (bool, error) {
	for _, f := range c.filters {
		decision, err := f.ShouldRespond(ctx, msg, s)
		if err != nil {
			return false, err
		}
		switch decision {
		case Respond:
			return true, nil
		case Skip:
			return false, nil
		case Abstain:
			continue
		}
	}
	return true, nil
}

// CollectPromptExtras gathers non-empty system-prompt additions from
// every filter, in registration order.
func (c *Chain) CollectPromptExtras(msg bus.InboundMessage, s *session.Session) []string {
	var extras []string
	for _, f := range c.filters {
		if extra := f.BuildPromptExtras(msg, s); extra != "" {
			extras = append(extras, extra)
		}
	}
	return extras
}

// CollectUserReminders gathers non-empty user-message reminders from
// every filter, in registration order.
func (c *Chain) CollectUserReminders(msg bus.InboundMessage, s *session.Session) []string {
	var reminders []string
	for _, f := range c.filters {
		if reminder := f.BuildUserReminder(msg, s); reminder != "" {
			reminders = append(reminders, reminder)
		}
	}
	return reminders
}
