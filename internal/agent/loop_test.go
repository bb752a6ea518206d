package agent

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawrouter/internal/bus"
	"github.com/nextlevelbuilder/clawrouter/internal/providers"
	"github.com/nextlevelbuilder/clawrouter/internal/session"
)

type scriptedProvider struct {
	replies []providers.ChatResponse
	calls   int
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) DefaultModel() string { return "scripted-model" }

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	resp := p.replies[p.calls%len(p.replies)]
	p.calls++
	return &resp, nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}

func waitOutbound(t *testing.T, b *bus.Bus) bus.OutboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := b.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("timed out waiting for outbound message")
	}
	return msg
}

// S1: DM round-trip — no tool calls, plain reply.
func TestLoopDMRoundTrip(t *testing.T) {
	b := bus.New(8)
	sessions := session.NewManager("", nil)
	provider := &scriptedProvider{replies: []providers.ChatResponse{{Content: "hi"}}}

	l := New(Config{
		AgentName:     "bot",
		Provider:      provider,
		Model:         "scripted-model",
		Bus:           b,
		Sessions:      sessions,
		MaxIterations: 20,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	b.PublishInbound(bus.InboundMessage{Channel: "cli", ChatID: "c1", Content: "hello"})

	out := waitOutbound(t, b)
	if out.ChatID != "c1" || out.Content != "hi" {
		t.Fatalf("unexpected outbound: %+v", out)
	}

	s, err := sessions.GetOrCreate("cli:c1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(s.Entries) != 2 {
		t.Fatalf("expected 2 session entries, got %d", len(s.Entries))
	}
	if s.Entries[0].Role != session.RoleUser || s.Entries[0].SenderType != session.SenderHuman {
		t.Fatalf("unexpected user entry: %+v", s.Entries[0])
	}
	if s.Entries[1].Role != session.RoleAssistant || s.Entries[1].Content != "hi" {
		t.Fatalf("unexpected assistant entry: %+v", s.Entries[1])
	}
}

// Property 9: a provider that always requests tool calls terminates after
// exactly MaxIterations turns with the fallback completion message.
func TestLoopIterationCapFallback(t *testing.T) {
	b := bus.New(8)
	sessions := session.NewManager("", nil)
	provider := &scriptedProvider{replies: []providers.ChatResponse{{
		ToolCalls: []providers.ToolCall{{ID: "1", Name: "noop", Arguments: map[string]interface{}{}}},
	}}}

	l := New(Config{
		AgentName:     "bot",
		Provider:      provider,
		Model:         "scripted-model",
		Bus:           b,
		Sessions:      sessions,
		MaxIterations: 3,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	b.PublishInbound(bus.InboundMessage{Channel: "cli", ChatID: "c2", Content: "loop forever"})

	out := waitOutbound(t, b)
	if out.Content != fallbackCompletion {
		t.Fatalf("expected fallback completion, got %q", out.Content)
	}
	if provider.calls != 3 {
		t.Fatalf("expected exactly 3 provider calls, got %d", provider.calls)
	}
}

// §4.8a: a system-channel message is saved with sender_type=system and a
// bracketed prefix, and always bypasses the router.
func TestLoopSystemMessagePrefixed(t *testing.T) {
	b := bus.New(8)
	sessions := session.NewManager("", nil)
	provider := &scriptedProvider{replies: []providers.ChatResponse{{Content: "done"}}}

	l := New(Config{
		AgentName:     "bot",
		Provider:      provider,
		Model:         "scripted-model",
		Bus:           b,
		Sessions:      sessions,
		MaxIterations: 20,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	b.PublishInbound(bus.InboundMessage{Channel: "system", SenderID: "cron:abc", ChatID: "cli:c3", Content: "tick"})

	out := waitOutbound(t, b)
	if out.Channel != "cli" || out.ChatID != "c3" || out.Content != "done" {
		t.Fatalf("unexpected outbound: %+v", out)
	}

	s, err := sessions.GetOrCreate("cli:c3")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(s.Entries) != 2 {
		t.Fatalf("expected 2 session entries, got %d", len(s.Entries))
	}
	if s.Entries[0].SenderType != session.SenderSystem {
		t.Fatalf("expected sender_type=system, got %+v", s.Entries[0])
	}
	want := "[System: cron:abc] tick"
	if s.Entries[0].Content != want {
		t.Fatalf("expected content %q, got %q", want, s.Entries[0].Content)
	}
}
