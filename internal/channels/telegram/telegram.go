// Package telegram implements the Telegram channel using telego's
// long-polling bot API client.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/clawrouter/internal/bus"
	"github.com/nextlevelbuilder/clawrouter/internal/channels"
)

// Config configures a Telegram channel.
type Config struct {
	Token          string
	DMPolicy       channels.DMPolicy
	GroupPolicy    channels.GroupPolicy
	AllowFrom      []string
	RequireMention bool
}

// Channel implements channels.Channel for Telegram.
type Channel struct {
	channels.BaseChannel
	bot            *telego.Bot
	cfg            Config
	requireMention bool
	log            *slog.Logger

	mu         sync.Mutex
	running    bool
	pollCancel context.CancelFunc
}

// New builds a Telegram channel from cfg. transcripts may be nil, in
// which case inbound group turns are not recorded.
func New(cfg Config, b *bus.Bus, transcripts channels.Transcripter, log *slog.Logger) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		BaseChannel:    channels.NewBaseChannel("telegram", b, cfg.DMPolicy, cfg.GroupPolicy, cfg.AllowFrom, transcripts),
		bot:            bot,
		cfg:            cfg,
		requireMention: cfg.RequireMention,
		log:            log,
	}, nil
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.pollCancel = cancel
	c.running = true
	c.mu.Unlock()

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{Timeout: 30})
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: start long polling: %w", err)
	}

	go c.writeLoop(pollCtx)
	go func() {
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()
	return nil
}

func (c *Channel) Stop() error {
	c.mu.Lock()
	if c.pollCancel != nil {
		c.pollCancel()
	}
	c.running = false
	c.mu.Unlock()
	return nil
}

func (c *Channel) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Send posts content into a Telegram chat by numeric id.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	_, err = c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), msg.Content))
	return err
}

func (c *Channel) writeLoop(ctx context.Context) {
	for {
		msg, ok := c.Bus().SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if msg.Channel != "telegram" {
			continue
		}
		if err := c.Send(ctx, msg); err != nil {
			c.log.Warn("telegram: send failed", "err", err)
		}
	}
}

func (c *Channel) handleMessage(message *telego.Message) {
	user := message.From
	if user == nil {
		return
	}

	senderID := fmt.Sprintf("%d", user.ID)
	if user.Username != "" {
		senderID = fmt.Sprintf("%d|%s", user.ID, user.Username)
	}

	isGroup := message.Chat.Type == "group" || message.Chat.Type == "supergroup"
	peerKind := "direct"
	if isGroup {
		peerKind = "group"
	}

	content := message.Text
	mentioned := false
	if isGroup {
		mentioned, content = c.stripBotMention(content)
		if c.requireMention && !mentioned {
			return
		}
	}
	if content == "" {
		content = "[empty message]"
	}

	extra := map[string]string{}
	if mentioned {
		extra["is_mentioned"] = "true"
	}
	if isGroup {
		extra["group_policy"] = string(c.cfg.GroupPolicy)
	}

	chatID := fmt.Sprintf("%d", message.Chat.ID)
	c.HandleMessage(senderID, chatID, content, nil, peerKind, extra)
}

// stripBotMention checks text against this bot's own @username (as
// reported by c.bot.Username(); an empty username never matches) and
// removes it from the returned text.
func (c *Channel) stripBotMention(text string) (bool, string) {
	username := c.bot.Username()
	if username == "" {
		return false, text
	}
	tag := "@" + username
	if strings.Contains(text, tag) {
		return true, strings.TrimSpace(strings.ReplaceAll(text, tag, ""))
	}
	return false, text
}

func parseChatID(chatIDStr string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(chatIDStr, "%d", &id)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", chatIDStr, err)
	}
	return id, nil
}
