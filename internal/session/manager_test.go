package session

import (
	"os"
	"testing"
)

func TestCountTrailingBotsResetsOnHuman(t *testing.T) {
	s := &Session{}
	s.Entries = []Entry{
		{Role: RoleUser, SenderType: SenderHuman, Content: "hi"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, SenderType: SenderBot, Sender: "botB", Content: "b1"},
		{Role: RoleAssistant, Content: "a2"},
	}
	if got := s.CountTrailingBots(30); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}

	s.Entries = append(s.Entries, Entry{Role: RoleUser, SenderType: SenderHuman, Content: "stop"})
	if got := s.CountTrailingBots(30); got != 0 {
		t.Fatalf("after human turn: got %d, want 0", got)
	}

	s.Entries = append(s.Entries, Entry{Role: RoleAssistant, Content: "a3"})
	if got := s.CountTrailingBots(30); got != 1 {
		t.Fatalf("after new assistant turn: got %d, want 1", got)
	}
}

func TestCountTrailingBotsResetsOnSystem(t *testing.T) {
	s := &Session{Entries: []Entry{
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, SenderType: SenderBot, Content: "b1"},
		{Role: RoleUser, SenderType: SenderSystem, Content: "[System] tick"},
		{Role: RoleAssistant, Content: "a2"},
	}}
	if got := s.CountTrailingBots(30); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
}

func TestGetRecentForPromptMapsRoles(t *testing.T) {
	s := &Session{Entries: []Entry{
		{Role: RoleUser, SenderType: SenderHuman, Content: "hello"},
		{Role: RoleAssistant, Content: "hi there"},
		{Role: RoleUser, SenderType: SenderBot, Sender: "botB", Content: "chiming in"},
	}}
	got := s.GetRecentForPrompt(20)
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	if got[0].Role != "user" || got[0].Sender != "" {
		t.Fatalf("human entry mismapped: %+v", got[0])
	}
	if got[1].Role != "assistant" || got[1].Sender != "self" {
		t.Fatalf("own assistant entry mismapped: %+v", got[1])
	}
	if got[2].Role != "assistant" || got[2].Sender != "botB" {
		t.Fatalf("bot entry mismapped: %+v", got[2])
	}
}

func TestManagerSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil)

	s, err := m.GetOrCreate("cli:c1")
	if err != nil {
		t.Fatal(err)
	}
	m.AddMessage(s, RoleUser, "hello", SenderHuman, "")
	m.AddMessage(s, RoleAssistant, "hi", "", "")
	if err := m.Save(s); err != nil {
		t.Fatal(err)
	}

	m2 := NewManager(dir, nil)
	reloaded, err := m2.GetOrCreate("cli:c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.Entries) != 2 {
		t.Fatalf("got %d entries after reload, want 2", len(reloaded.Entries))
	}
	if reloaded.Entries[0].Content != "hello" || reloaded.Entries[1].Content != "hi" {
		t.Fatalf("unexpected reloaded content: %+v", reloaded.Entries)
	}
}

func TestManagerSaveRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil)
	s, _ := m.GetOrCreate("../evil")
	if err := m.Save(s); err == nil {
		t.Fatal("expected error for path-escaping key")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no files written, got %d", len(entries))
	}
}
