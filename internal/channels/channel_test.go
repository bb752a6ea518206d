package channels

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawrouter/internal/bus"
)

func TestIsAllowedOpenPolicyAllowsEveryone(t *testing.T) {
	b := NewBaseChannel("test", bus.New(1), DMPolicyOpen, GroupPolicyOpen, nil, nil)
	if !b.IsAllowed("direct", "anyone") {
		t.Fatal("expected open policy to allow any sender")
	}
}

func TestIsAllowedAllowlistPolicy(t *testing.T) {
	b := NewBaseChannel("test", bus.New(1), DMPolicyAllowlist, GroupPolicyAllowlist, []string{"@alice", "bob"}, nil)

	if !b.IsAllowed("direct", "alice") {
		t.Fatal("expected allow-listed sender (with @ stripped) to be allowed")
	}
	if !b.IsAllowed("group", "bob") {
		t.Fatal("expected allow-listed sender to be allowed in groups too")
	}
	if b.IsAllowed("direct", "eve") {
		t.Fatal("expected non-allow-listed sender to be denied")
	}
}

func TestIsAllowedDisabledPolicyDeniesEveryone(t *testing.T) {
	b := NewBaseChannel("test", bus.New(1), DMPolicyDisabled, GroupPolicyDisabled, nil, nil)
	if b.IsAllowed("direct", "alice") {
		t.Fatal("expected disabled policy to deny everyone")
	}
	if b.IsAllowed("group", "alice") {
		t.Fatal("expected disabled group policy to deny everyone")
	}
}

func TestHandleMessageTagsGroupChatType(t *testing.T) {
	busInstance := bus.New(1)
	b := NewBaseChannel("test", busInstance, DMPolicyOpen, GroupPolicyOpen, nil, nil)

	b.HandleMessage("alice", "chat1", "hello", nil, "group", nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := busInstance.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a published inbound message")
	}
	if msg.Metadata["chat_type"] != "group" {
		t.Fatalf("expected chat_type=group metadata, got %+v", msg.Metadata)
	}
}

type recordingTranscripter struct {
	key, role, content, sender string
}

func (r *recordingTranscripter) Append(key, role, content, sender, messageID string, ts time.Time) error {
	r.key, r.role, r.content, r.sender = key, role, content, sender
	return nil
}

func TestHandleMessageAppendsGroupTurnToTranscript(t *testing.T) {
	busInstance := bus.New(1)
	tr := &recordingTranscripter{}
	b := NewBaseChannel("test", busInstance, DMPolicyOpen, GroupPolicyOpen, nil, tr)

	b.HandleMessage("alice", "chat1", "hello", nil, "group", nil)

	if tr.key != "test:chat1" || tr.role != "user" || tr.content != "hello" || tr.sender != "alice" {
		t.Fatalf("expected group turn appended to transcript, got %+v", tr)
	}
}

func TestHandleMessageSkipsTranscriptForDirectMessages(t *testing.T) {
	busInstance := bus.New(1)
	tr := &recordingTranscripter{}
	b := NewBaseChannel("test", busInstance, DMPolicyOpen, GroupPolicyOpen, nil, tr)

	b.HandleMessage("alice", "chat1", "hello", nil, "direct", nil)

	if tr.key != "" {
		t.Fatalf("expected no transcript append for a direct message, got %+v", tr)
	}
}

func TestHandleMessageDropsDisallowedSender(t *testing.T) {
	busInstance := bus.New(1)
	b := NewBaseChannel("test", busInstance, DMPolicyDisabled, GroupPolicyOpen, nil, nil)
	b.HandleMessage("alice", "chat1", "hello", nil, "direct", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, ok := busInstance.ConsumeInbound(ctx); ok {
		t.Fatal("expected disallowed sender's message to be dropped")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("expected untouched string, got %q", got)
	}
	if got := Truncate("this is long", 4); got != "this..." {
		t.Fatalf("expected truncated string with ellipsis, got %q", got)
	}
}

func TestCLIChannelRoundTrip(t *testing.T) {
	in := strings.NewReader("hello there\n")
	out := &bytes.Buffer{}
	b := bus.New(1)

	ch := NewCLIChannel(b, in, out, "local-chat", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !ch.IsRunning() {
		t.Fatal("expected channel to report running after Start")
	}

	consumeCtx, consumeCancel := context.WithTimeout(context.Background(), time.Second)
	defer consumeCancel()
	msg, ok := b.ConsumeInbound(consumeCtx)
	if !ok {
		t.Fatal("expected the stdin line to be published inbound")
	}
	if msg.Content != "hello there" || msg.ChatID != "local-chat" {
		t.Fatalf("unexpected inbound message: %+v", msg)
	}

	b.PublishOutbound(bus.OutboundMessage{Channel: "cli", ChatID: "local-chat", Content: "hi back"})
	deadline := time.Now().Add(time.Second)
	for out.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(out.String(), "hi back") {
		t.Fatalf("expected reply written to stdout, got %q", out.String())
	}

	if err := ch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
