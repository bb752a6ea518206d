package telegram

import "testing"

func TestParseChatID(t *testing.T) {
	id, err := parseChatID("123456789")
	if err != nil {
		t.Fatalf("parseChatID: %v", err)
	}
	if id != 123456789 {
		t.Fatalf("expected 123456789, got %d", id)
	}

	if _, err := parseChatID("not-a-number"); err == nil {
		t.Fatal("expected an error for a non-numeric chat id")
	}
}

func TestParseChatIDNegative(t *testing.T) {
	// Telegram group chat ids are negative.
	id, err := parseChatID("-100123456")
	if err != nil {
		t.Fatalf("parseChatID: %v", err)
	}
	if id != -100123456 {
		t.Fatalf("expected -100123456, got %d", id)
	}
}
