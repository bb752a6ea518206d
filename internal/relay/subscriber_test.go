package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawrouter/internal/bus"
	"github.com/nextlevelbuilder/clawrouter/internal/transcript"
)

type fakeInbox struct {
	mu       sync.Mutex
	received []bus.InboundMessage
}

func (f *fakeInbox) PublishInbound(m bus.InboundMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, m)
}

func (f *fakeInbox) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func (f *fakeInbox) all() []bus.InboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bus.InboundMessage, len(f.received))
	copy(out, f.received)
	return out
}

type fakeRoster struct {
	members []Member
	names   map[string]string
}

func (r *fakeRoster) Members(self string) []Member {
	var out []Member
	for _, m := range r.members {
		if m.OpenID != self {
			out = append(out, m)
		}
	}
	return out
}

func (r *fakeRoster) DisplayName(openID string) string {
	return r.names[openID]
}

func TestSubscriberSkipsSelfLoop(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	inbox := &fakeInbox{}
	roster := &fakeRoster{names: map[string]string{"botB": "BotB"}}

	sub := NewSubscriber(r, inbox, nil, roster, "agentB", func() string { return "botB" }, nil)
	r.Publish(Envelope{ChatID: "g1", Content: "hi", SenderBotOpenID: "botB", SenderAgentName: "B"})

	sub.poll(context.Background())

	if inbox.count() != 0 {
		t.Fatalf("expected self-loop to be dropped, got %d injections", inbox.count())
	}
}

func TestSubscriberDedupsAcrossPolls(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	inbox := &fakeInbox{}
	roster := &fakeRoster{names: map[string]string{"botB": "BotB"}}

	sub := NewSubscriber(r, inbox, nil, roster, "agentB", func() string { return "botB" }, nil)
	r.Publish(Envelope{ChatID: "g1", Content: "hi @BotB", SenderBotOpenID: "botA", SenderAgentName: "A"})

	sub.poll(context.Background())

	// Simulate the subscriber's offset file being reset (e.g. a crash
	// before the offset write landed): the same envelope is read again,
	// but the in-memory dedup set must still suppress a second injection.
	writeOffset(r.offsetsDir+"/agentB.txt", 0)
	sub.poll(context.Background())

	if inbox.count() != 1 {
		t.Fatalf("expected exactly one injection after dedup, got %d", inbox.count())
	}
}

func TestSubscriberRecomputesIsMentionedFromContentOnly(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	inbox := &fakeInbox{}
	roster := &fakeRoster{names: map[string]string{"botB": "BotB"}}

	sub := NewSubscriber(r, inbox, nil, roster, "agentB", func() string { return "botB" }, nil)

	// Envelope carries is_mentioned=true in its metadata (copied from the
	// original user message), but the content itself does not mention
	// BotB. The recomputed value must be false regardless.
	r.Publish(Envelope{
		ChatID: "g1", Content: "just chatting, no mention here",
		SenderBotOpenID: "botA", SenderAgentName: "A",
		Metadata: map[string]string{"is_mentioned": "true", "chat_type": "group"},
	})
	sub.poll(context.Background())

	msgs := inbox.all()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 injection, got %d", len(msgs))
	}
	if msgs[0].Metadata["is_mentioned"] != "false" {
		t.Fatalf("expected is_mentioned recomputed to false, got %q", msgs[0].Metadata["is_mentioned"])
	}

	// A second envelope whose content DOES mention BotB must recompute
	// to true even if the envelope metadata said false.
	r.Publish(Envelope{
		ChatID: "g1", Content: "hey @BotB can you help",
		SenderBotOpenID: "botA", SenderAgentName: "A",
		Metadata: map[string]string{"is_mentioned": "false", "chat_type": "group"},
	})
	sub.poll(context.Background())

	msgs = inbox.all()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 injections, got %d", len(msgs))
	}
	if msgs[1].Metadata["is_mentioned"] != "true" {
		t.Fatalf("expected is_mentioned recomputed to true, got %q", msgs[1].Metadata["is_mentioned"])
	}
}

func TestSubscriberAppendsRelayedReplyToTranscript(t *testing.T) {
	dir := t.TempDir()
	relayDir := t.TempDir()
	tr := transcript.NewStore(dir)
	r := New(relayDir)
	inbox := &fakeInbox{}
	roster := &fakeRoster{}

	sub := NewSubscriber(r, inbox, tr, roster, "agentB", func() string { return "botB" }, nil)
	r.Publish(Envelope{Channel: "feishu", ChatID: "g1", Content: "hello peers", SenderBotOpenID: "botA", SenderAgentName: "A"})
	sub.poll(context.Background())

	recs, err := tr.GetRecent("feishu:g1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Content != "hello peers" || recs[0].Sender != "A" {
		t.Fatalf("unexpected transcript: %+v", recs)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	inbox := &fakeInbox{}
	sub := NewSubscriber(r, inbox, nil, &fakeRoster{}, "agentB", func() string { return "botB" }, nil)
	sub.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sub.Run(ctx, nil)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
