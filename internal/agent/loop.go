// Package agent implements the agent loop (C9): the single consumer of
// an agent's inbound bus. It routes each message through the filter
// chain, drives the provider/tool iteration protocol, persists the
// session, and emits the reply both to the owning channel and to the
// cross-process relay so peer agents observe it.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/clawrouter/internal/bus"
	"github.com/nextlevelbuilder/clawrouter/internal/providers"
	"github.com/nextlevelbuilder/clawrouter/internal/relay"
	"github.com/nextlevelbuilder/clawrouter/internal/router"
	"github.com/nextlevelbuilder/clawrouter/internal/session"
	"github.com/nextlevelbuilder/clawrouter/internal/store"
	"github.com/nextlevelbuilder/clawrouter/internal/tools"
	"github.com/nextlevelbuilder/clawrouter/internal/tracing"
)

const fallbackCompletion = "I've completed processing but have no response to give."

// Config wires the collaborators one Loop needs. Nil fields fall back to
// sane no-ops (nil Tracer, nil Relay) so the loop is usable in tests
// without the full stack.
type Config struct {
	AgentName     string
	BotOpenID     string
	SystemPrompt  string
	Provider      providers.Provider
	Model         string
	MaxIterations int

	Bus         *bus.Bus
	Sessions    store.SessionStore
	Transcripts store.TranscriptStore
	Relay       *relay.Relay
	Router      *router.Chain
	Tools       *tools.Registry
	Tracer      *tracing.Tracer

	Log *slog.Logger
}

// Loop is the single-consumer agent run loop for one agent process.
type Loop struct {
	cfg     Config
	log     *slog.Logger
	running chan struct{}
}

// New builds a Loop from cfg, applying documented defaults for anything
// left zero.
func New(cfg Config) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 20
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Loop{cfg: cfg, log: cfg.Log, running: make(chan struct{})}
}

// Run drives the consume loop until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.running:
			return
		default:
		}

		msg, ok := l.cfg.Bus.ConsumeInbound(ctx)
		if !ok {
			continue
		}
		l.process(ctx, msg)
	}
}

// Stop ends the consume loop after the current message finishes.
func (l *Loop) Stop() {
	close(l.running)
}

func (l *Loop) process(ctx context.Context, m bus.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("agent: panic processing message", "panic", r)
			l.emitApology(m, fmt.Errorf("panic: %v", r))
		}
	}()

	runCtx, span := l.startRunSpan(ctx, m)
	if span != nil {
		defer span.End()
	}

	replyChannel, replyChatID := m.Channel, m.ChatID
	content, senderTag := m.Content, ""
	sessionKey := m.SessionKey()
	if m.Channel == "system" {
		replyChannel, replyChatID = l.resolveSystemOrigin(m.ChatID)
		content, senderTag = l.resolveSystemMessage(m)
		sessionKey = replyChannel + ":" + replyChatID
	}

	s, err := l.cfg.Sessions.GetOrCreate(sessionKey)
	if err != nil {
		l.log.Warn("agent: session load failed", "key", sessionKey, "err", err)
		l.emitApology(m, err)
		return
	}

	decision, err := l.shouldRespond(runCtx, m, s)
	if err != nil {
		l.log.Warn("agent: routing error, defaulting to respond", "err", err)
		decision = true
	}
	if !decision {
		l.log.Debug("agent: skipping message", "session", sessionKey)
		return
	}

	if l.cfg.Tools != nil {
		l.cfg.Tools.UpdateContext(m.Channel, m.ChatID)
	}

	messages := l.buildMessages(m, s)

	finalContent, err := l.runIterations(runCtx, messages)
	if err != nil {
		l.log.Error("agent: run failed", "err", err)
		l.emitApology(m, err)
		return
	}

	l.persistTurn(s, m, content, senderTag, finalContent)

	outMeta := m.Metadata
	l.cfg.Bus.PublishOutbound(bus.OutboundMessage{
		Channel:  replyChannel,
		ChatID:   replyChatID,
		Content:  finalContent,
		Metadata: outMeta,
	})

	if l.cfg.Transcripts != nil && m.Channel != "system" {
		if err := l.cfg.Transcripts.Append(sessionKey, "assistant", finalContent, l.cfg.AgentName, "", time.Time{}); err != nil {
			l.log.Debug("agent: transcript append failed", "err", err)
		}
	}

	l.publishToRelay(m, finalContent)
}

// shouldRespond runs the routing chain, treating a "system" message as
// always-respond (it never reaches the group-chat filter's concerns).
func (l *Loop) shouldRespond(ctx context.Context, m bus.InboundMessage, s *session.Session) (bool, error) {
	if m.Channel == "system" || l.cfg.Router == nil {
		return true, nil
	}
	return l.cfg.Router.ShouldRespond(ctx, m, s)
}

// resolveSystemMessage implements §4.8a: returns the incoming content
// with a bracketed "[System: sender]" prefix to feed the LLM, plus the
// sender tag used when persisting. It does not save anything itself.
func (l *Loop) resolveSystemMessage(m bus.InboundMessage) (content string, senderTag string) {
	return fmt.Sprintf("[System: %s] %s", m.SenderID, m.Content), m.SenderID
}

// resolveSystemOrigin splits a system message's ChatID (encoded as
// "origin_channel:origin_chat_id" per §4.8a) back into the channel and
// chat id the eventual reply must be posted to. A malformed encoding
// falls back to treating the whole string as the chat id on the
// "system" channel rather than dropping the reply.
func (l *Loop) resolveSystemOrigin(encoded string) (channel, chatID string) {
	idx := strings.Index(encoded, ":")
	if idx < 0 {
		return "system", encoded
	}
	return encoded[:idx], encoded[idx+1:]
}

func (l *Loop) buildMessages(m bus.InboundMessage, s *session.Session) []providers.Message {
	systemPrompt := l.cfg.SystemPrompt
	if l.cfg.Router != nil && m.Channel != "system" {
		extras := l.cfg.Router.CollectPromptExtras(m, s)
		if len(extras) > 0 {
			systemPrompt += strings.Join(extras, "")
		}
	}

	messages := make([]providers.Message, 0, len(s.Entries)+2)
	messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})
	for _, e := range s.GetHistory(50) {
		messages = append(messages, providers.Message{Role: e.Role, Content: e.Content})
	}

	userTurn := m.Content
	if m.Channel == "system" {
		userTurn = fmt.Sprintf("[System: %s] %s", m.SenderID, m.Content)
	} else if l.cfg.Router != nil {
		reminders := l.cfg.Router.CollectUserReminders(m, s)
		if len(reminders) > 0 {
			userTurn = strings.Join(reminders, "\n") + "\n\n" + m.Content
		}
	}
	messages = append(messages, providers.Message{Role: "user", Content: userTurn})
	return messages
}

// runIterations drives the provider/tool loop (§4.8 step 6) up to
// MaxIterations, returning the final assistant content.
func (l *Loop) runIterations(ctx context.Context, messages []providers.Message) (string, error) {
	var toolDefs []providers.ToolDefinition
	if l.cfg.Tools != nil {
		toolDefs = l.cfg.Tools.ProviderDefs()
	}

	for iteration := 1; iteration <= l.cfg.MaxIterations; iteration++ {
		req := providers.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			Model:    l.cfg.Model,
			Options: map[string]interface{}{
				providers.OptMaxTokens:   8192,
				providers.OptTemperature: 0.7,
			},
		}

		var resp *providers.ChatResponse
		err := l.callLLM(ctx, iteration, func(ctx context.Context) error {
			var chatErr error
			resp, chatErr = l.cfg.Provider.Chat(ctx, req)
			return chatErr
		})
		if err != nil {
			return "", fmt.Errorf("agent: LLM call failed (iteration %d): %w", iteration, err)
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		assistantMsg := providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistantMsg)

		for _, tc := range resp.ToolCalls {
			result := l.executeTool(ctx, tc)
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}
	return fallbackCompletion, nil
}

func (l *Loop) executeTool(ctx context.Context, tc providers.ToolCall) string {
	if l.cfg.Tools == nil {
		return "no tool registry configured"
	}
	var result string
	_ = l.callTool(ctx, tc.Name, func(ctx context.Context) error {
		out, err := l.cfg.Tools.Execute(ctx, tc.Name, tc.Arguments, "", "")
		if err != nil {
			// §7: tool failures are surfaced as the tool's textual result,
			// not distinguished from success by the loop itself.
			result = fmt.Sprintf("error: %v", err)
			return nil
		}
		result = out
		return nil
	})
	return result
}

// persistTurn appends the incoming user turn and the assistant reply to
// s, tagging the user turn per §4.8 step 8 / §4.8a.
func (l *Loop) persistTurn(s *session.Session, m bus.InboundMessage, rawContent, senderTag, finalContent string) {
	switch {
	case m.Channel == "system":
		l.cfg.Sessions.AddMessage(s, session.RoleUser, rawContent, session.SenderSystem, senderTag)
	case m.MetaBool("from_bot"):
		sender := m.MetaOr("sender_agent_name", m.SenderID)
		l.cfg.Sessions.AddMessage(s, session.RoleUser, m.Content, session.SenderBot, sender)
	default:
		l.cfg.Sessions.AddMessage(s, session.RoleUser, m.Content, session.SenderHuman, "")
	}
	l.cfg.Sessions.AddMessage(s, session.RoleAssistant, finalContent, "", "")

	if err := l.cfg.Sessions.Save(s); err != nil {
		l.log.Warn("agent: session save failed", "key", s.Key, "err", err)
	}
}

// publishToRelay fans finalContent out to peer agents, skipped entirely
// for system-origin runs (those are private sub-agent/cron reports, not
// group-chat turns other bots should observe).
func (l *Loop) publishToRelay(m bus.InboundMessage, finalContent string) {
	if l.cfg.Relay == nil || m.Channel == "system" {
		return
	}
	env := relay.Envelope{
		Channel:         m.Channel,
		ChatID:          m.ChatID,
		Content:         finalContent,
		SenderBotOpenID: l.cfg.BotOpenID,
		SenderAgentName: l.cfg.AgentName,
		Metadata:        m.Metadata,
	}
	if err := l.cfg.Relay.Publish(env); err != nil {
		l.log.Warn("agent: relay publish failed", "err", err)
	}
}

func (l *Loop) emitApology(m bus.InboundMessage, cause error) {
	channel, chatID := m.Channel, m.ChatID
	if m.Channel == "system" {
		channel, chatID = l.resolveSystemOrigin(m.ChatID)
	}
	l.log.Warn("agent: emitting apology", "channel", channel, "chat_id", chatID, "err", cause)
	l.cfg.Bus.PublishOutbound(bus.OutboundMessage{
		Channel:  channel,
		ChatID:   chatID,
		Content:  "Sorry, I ran into a problem handling that message.",
		Metadata: m.Metadata,
	})
}

func (l *Loop) startRunSpan(ctx context.Context, m bus.InboundMessage) (context.Context, trace.Span) {
	if l.cfg.Tracer == nil {
		return ctx, nil
	}
	return l.cfg.Tracer.StartRun(ctx, l.cfg.AgentName, m.Channel, m.ChatID)
}

func (l *Loop) callLLM(ctx context.Context, iteration int, fn func(context.Context) error) error {
	if l.cfg.Tracer == nil {
		return fn(ctx)
	}
	return l.cfg.Tracer.LLMCall(ctx, l.cfg.Provider.Name(), l.cfg.Model, iteration, fn)
}

func (l *Loop) callTool(ctx context.Context, name string, fn func(context.Context) error) error {
	if l.cfg.Tracer == nil {
		return fn(ctx)
	}
	return l.cfg.Tracer.ToolCall(ctx, name, fn)
}

// RunSubagent executes task as a nested one-shot run against a fresh
// ephemeral session, used by the spawn tool (§4.10). It reuses this
// loop's provider/tools/model but never touches the router or the
// cross-process relay — a sub-agent's work is not a group-chat turn.
func (l *Loop) RunSubagent(ctx context.Context, task string) (string, error) {
	messages := []providers.Message{
		{Role: "system", Content: l.cfg.SystemPrompt},
		{Role: "user", Content: task},
	}
	return l.runIterations(ctx, messages)
}
