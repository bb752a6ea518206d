package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestIsMentioned(t *testing.T) {
	m := &discordgo.MessageCreate{Message: &discordgo.Message{
		Mentions: []*discordgo.User{{ID: "111"}, {ID: "222"}},
	}}
	if !isMentioned(m, "222") {
		t.Fatal("expected bot id in mentions to be detected")
	}
	if isMentioned(m, "333") {
		t.Fatal("expected absent bot id to not be detected")
	}
}

func TestStripMention(t *testing.T) {
	cases := []struct {
		content, botID, want string
	}{
		{"<@123> hello", "123", "hello"},
		{"<@!123> hello there", "123", "hello there"},
		{"no mention here", "123", "no mention here"},
	}
	for _, c := range cases {
		if got := stripMention(c.content, c.botID); got != c.want {
			t.Errorf("stripMention(%q, %q) = %q, want %q", c.content, c.botID, got, c.want)
		}
	}
}
