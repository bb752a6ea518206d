package router

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawrouter/internal/bus"
	"github.com/nextlevelbuilder/clawrouter/internal/providers"
	"github.com/nextlevelbuilder/clawrouter/internal/session"
)

type stubLLM struct {
	content string
	err     error
	calls   int
}

func (s *stubLLM) Name() string        { return "stub" }
func (s *stubLLM) DefaultModel() string { return "stub-model" }

func (s *stubLLM) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &providers.ChatResponse{Content: s.content, FinishReason: "stop"}, nil
}

func (s *stubLLM) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return s.Chat(ctx, req)
}

func botMsg(mentioned bool) bus.InboundMessage {
	return bus.InboundMessage{
		Channel: "relay", ChatID: "g1", SenderID: "botB",
		Content: "status update",
		Metadata: map[string]string{
			"chat_type":    "group",
			"from_bot":     "true",
			"is_mentioned": boolStr(mentioned),
		},
	}
}

func humanMsg(mentioned bool, policy string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel: "feishu", ChatID: "g1", SenderID: "u1",
		Content: "hey",
		Metadata: map[string]string{
			"chat_type":    "group",
			"from_bot":     "false",
			"is_mentioned": boolStr(mentioned),
			"group_policy": policy,
		},
	}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func sessionWithTrailingBots(n int) *session.Session {
	s := &session.Session{Key: "relay:g1"}
	for i := 0; i < n; i++ {
		s.Entries = append(s.Entries, session.Entry{
			Role: session.RoleAssistant, Content: "prior reply", Timestamp: time.Now(),
		})
	}
	return s
}

func TestNonGroupMessageAbstains(t *testing.T) {
	f := NewGroupChatFilter(nil, "m", "/tmp", nil)
	msg := bus.InboundMessage{Metadata: map[string]string{"chat_type": "dm"}}
	decision, err := f.ShouldRespond(context.Background(), msg, nil)
	if err != nil || decision != Abstain {
		t.Fatalf("decision=%v err=%v, want Abstain", decision, err)
	}
}

func TestDepthCapSkipsRegardlessOfMention(t *testing.T) {
	f := NewGroupChatFilter(nil, "m", "/tmp", nil)
	f.MaxBotReplyDepth = 8
	s := sessionWithTrailingBots(7) // depth = 7+1 = 8 >= 8
	decision, err := f.ShouldRespond(context.Background(), botMsg(true), s)
	if err != nil || decision != Skip {
		t.Fatalf("decision=%v err=%v, want Skip at depth cap", decision, err)
	}
}

func TestBotMessageNotMentionedAlwaysSkips(t *testing.T) {
	f := NewGroupChatFilter(nil, "m", "/tmp", nil)
	s := sessionWithTrailingBots(1)
	decision, err := f.ShouldRespond(context.Background(), botMsg(false), s)
	if err != nil || decision != Skip {
		t.Fatalf("decision=%v err=%v, want Skip for unmentioned bot message", decision, err)
	}
}

func TestBotMessageMentionedBelowThresholdRespondsWithoutLLM(t *testing.T) {
	llm := &stubLLM{content: "NO"}
	f := NewGroupChatFilter(llm, "m", "/tmp", nil)
	s := sessionWithTrailingBots(1) // depth = 2 <= threshold 3
	decision, err := f.ShouldRespond(context.Background(), botMsg(true), s)
	if err != nil || decision != Respond {
		t.Fatalf("decision=%v err=%v, want Respond below threshold", decision, err)
	}
	if llm.calls != 0 {
		t.Errorf("expected no LLM call below threshold, got %d calls", llm.calls)
	}
}

func TestMentionedHumanMessageShortCircuitsWithoutLLM(t *testing.T) {
	llm := &stubLLM{content: "NO"}
	f := NewGroupChatFilter(llm, "m", "/tmp", nil)
	decision, err := f.ShouldRespond(context.Background(), humanMsg(true, "auto"), nil)
	if err != nil || decision != Respond {
		t.Fatalf("decision=%v err=%v, want Respond (mention short-circuit)", decision, err)
	}
	if llm.calls != 0 {
		t.Errorf("expected no LLM call for mentioned human, got %d calls", llm.calls)
	}
}

func TestOpenPolicyHumanMessageRespondsWithoutMention(t *testing.T) {
	llm := &stubLLM{content: "NO"}
	f := NewGroupChatFilter(llm, "m", "/tmp", nil)
	decision, err := f.ShouldRespond(context.Background(), humanMsg(false, "open"), nil)
	if err != nil || decision != Respond {
		t.Fatalf("decision=%v err=%v, want Respond under open policy", decision, err)
	}
}

func TestAutoPolicyUnmentionedHumanFallsThroughToLLM(t *testing.T) {
	llm := &stubLLM{content: "YES"}
	f := NewGroupChatFilter(llm, "m", "/tmp", nil)
	decision, err := f.ShouldRespond(context.Background(), humanMsg(false, "auto"), nil)
	if err != nil || decision != Respond {
		t.Fatalf("decision=%v err=%v", decision, err)
	}
	if llm.calls != 1 {
		t.Errorf("expected exactly 1 LLM call, got %d", llm.calls)
	}
}

func TestLLMGateDefaultsOnProviderErrorForBot(t *testing.T) {
	llm := &stubLLM{err: context.DeadlineExceeded}
	f := NewGroupChatFilter(llm, "m", "/tmp", nil)
	s := sessionWithTrailingBots(5) // depth=6, above threshold(3), below cap(8) -> LLM gate
	decision, err := f.ShouldRespond(context.Background(), botMsg(true), s)
	if err != nil {
		t.Fatalf("ShouldRespond returned error: %v", err)
	}
	// default_respond = !from_bot = false for a bot sender
	if decision != Skip {
		t.Fatalf("decision=%v, want Skip (conservative default for bot sender on provider error)", decision)
	}
}

func TestLLMGateDefaultsOnProviderErrorForHuman(t *testing.T) {
	llm := &stubLLM{err: context.DeadlineExceeded}
	f := NewGroupChatFilter(llm, "m", "/tmp", nil)
	decision, err := f.ShouldRespond(context.Background(), humanMsg(false, "auto"), nil)
	if err != nil {
		t.Fatalf("ShouldRespond returned error: %v", err)
	}
	if decision != Respond {
		t.Fatalf("decision=%v, want Respond (charitable default for human sender on provider error)", decision)
	}
}

func TestLLMGateTieBreaksOnLastOccurrence(t *testing.T) {
	llm := &stubLLM{content: "Thinking... NO wait, actually YES"}
	f := NewGroupChatFilter(llm, "m", "/tmp", nil)
	decision, err := f.ShouldRespond(context.Background(), humanMsg(false, "auto"), nil)
	if err != nil || decision != Respond {
		t.Fatalf("decision=%v err=%v, want Respond since last occurrence is YES", decision, err)
	}

	llm2 := &stubLLM{content: "YES but actually NO"}
	f2 := NewGroupChatFilter(llm2, "m", "/tmp", nil)
	decision2, err := f2.ShouldRespond(context.Background(), humanMsg(false, "auto"), nil)
	if err != nil || decision2 != Skip {
		t.Fatalf("decision=%v err=%v, want Skip since last occurrence is NO", decision2, err)
	}
}

func TestBuildPromptExtrasVariesByFromBot(t *testing.T) {
	f := NewGroupChatFilter(nil, "m", "/tmp", nil)
	msg := humanMsg(true, "open")
	msg.Metadata["group_members"] = `[{"name":"BotB","type":"bot","description":"handles billing"}]`

	extra := f.BuildPromptExtras(msg, nil)
	if extra == "" {
		t.Fatal("expected non-empty prompt extra for group message with members")
	}
	if !containsAll(extra, "@BotB", "(bot)", "handles billing", "Do NOT @mention other bots") {
		t.Errorf("missing expected content in human-sourced extra: %s", extra)
	}

	msg.Metadata["from_bot"] = "true"
	botExtra := f.BuildPromptExtras(msg, nil)
	if !containsAll(botExtra, "You are replying to another bot") {
		t.Errorf("missing expected content in bot-sourced extra: %s", botExtra)
	}
}

func TestBuildUserReminderOnlyForGroupChats(t *testing.T) {
	f := NewGroupChatFilter(nil, "m", "/tmp", nil)
	if r := f.BuildUserReminder(bus.InboundMessage{Metadata: map[string]string{"chat_type": "dm"}}, nil); r != "" {
		t.Errorf("expected empty reminder for dm, got %q", r)
	}
	if r := f.BuildUserReminder(humanMsg(false, "open"), nil); r == "" {
		t.Error("expected non-empty reminder for group chat")
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !contains(s, sub) {
			return false
		}
	}
	return true
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (sub == "" || indexOf(s, sub) >= 0)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
