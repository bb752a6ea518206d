// Package discord implements the Discord channel using discordgo's
// gateway client.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/clawrouter/internal/bus"
	"github.com/nextlevelbuilder/clawrouter/internal/channels"
)

// Config configures a Discord channel.
type Config struct {
	Token          string
	DMPolicy       channels.DMPolicy
	GroupPolicy    channels.GroupPolicy
	AllowFrom      []string
	RequireMention bool
}

// Channel implements channels.Channel for Discord.
type Channel struct {
	channels.BaseChannel
	session        *discordgo.Session
	cfg            Config
	botUserID      string
	requireMention bool
	log            *slog.Logger

	mu      sync.Mutex
	running bool
}

// New builds a Discord channel from cfg. transcripts may be nil, in
// which case inbound group turns are not recorded.
func New(cfg Config, b *bus.Bus, transcripts channels.Transcripter, log *slog.Logger) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	if log == nil {
		log = slog.Default()
	}

	return &Channel{
		BaseChannel:    channels.NewBaseChannel("discord", b, cfg.DMPolicy, cfg.GroupPolicy, cfg.AllowFrom, transcripts),
		session:        session,
		cfg:            cfg,
		requireMention: cfg.RequireMention,
		log:            log,
	}, nil
}

// Start opens the Discord gateway connection and begins receiving
// events, in a goroutine that also drains the outbound queue.
func (c *Channel) Start(ctx context.Context) error {
	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	user, err := c.session.User("@me")
	if err != nil {
		_ = c.session.Close()
		return fmt.Errorf("discord: fetch bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	go c.writeLoop(ctx)
	return nil
}

func (c *Channel) Stop() error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return c.session.Close()
}

func (c *Channel) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Send posts content into a Discord channel by id.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if msg.ChatID == "" {
		return fmt.Errorf("discord: empty chat id")
	}
	_, err := c.session.ChannelMessageSend(msg.ChatID, msg.Content)
	return err
}

func (c *Channel) writeLoop(ctx context.Context) {
	for {
		msg, ok := c.Bus().SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if msg.Channel != "discord" {
			continue
		}
		if err := c.Send(ctx, msg); err != nil {
			c.log.Warn("discord: send failed", "err", err)
		}
	}
}

func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}

	senderID := m.Author.ID
	isDM := m.GuildID == ""
	peerKind := "group"
	if isDM {
		peerKind = "direct"
	}

	mentioned := !isDM && isMentioned(m, c.botUserID)
	content := m.Content
	if mentioned {
		content = stripMention(content, c.botUserID)
	}
	if !isDM && c.requireMention && !mentioned {
		return
	}

	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		content = "[empty message]"
	}

	extra := map[string]string{}
	if mentioned {
		extra["is_mentioned"] = "true"
	}
	if peerKind == "group" {
		extra["group_policy"] = string(c.cfg.GroupPolicy)
	}

	c.HandleMessage(senderID, m.ChannelID, content, nil, peerKind, extra)
}

func isMentioned(m *discordgo.MessageCreate, botUserID string) bool {
	for _, u := range m.Mentions {
		if u.ID == botUserID {
			return true
		}
	}
	return false
}

func stripMention(content, botUserID string) string {
	content = strings.ReplaceAll(content, "<@"+botUserID+">", "")
	content = strings.ReplaceAll(content, "<@!"+botUserID+">", "")
	return strings.TrimSpace(content)
}
