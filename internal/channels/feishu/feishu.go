package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkevent "github.com/larksuite/oapi-sdk-go/v3/event"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"

	"github.com/nextlevelbuilder/clawrouter/internal/bus"
	"github.com/nextlevelbuilder/clawrouter/internal/channels"
)

// Config configures a Feishu/Lark channel.
type Config struct {
	AppID     string
	AppSecret string
	Domain    string // empty = Lark Global (open.larksuite.com)

	DMPolicy       channels.DMPolicy
	GroupPolicy    channels.GroupPolicy
	AllowFrom      []string
	RequireMention bool
}

// Channel implements channels.Channel for Feishu/Lark.
type Channel struct {
	channels.BaseChannel
	cfg       Config
	rest      *client
	botOpenID string
	log       *slog.Logger

	mu      sync.Mutex
	ws      *larkws.Client
	cancel  context.CancelFunc
	running bool
}

// New builds a Feishu channel, requiring cfg.AppID/AppSecret. transcripts
// may be nil, in which case inbound group turns are not recorded.
func New(cfg Config, b *bus.Bus, transcripts channels.Transcripter, log *slog.Logger) (*Channel, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("feishu: app_id and app_secret are required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("feishu", b, cfg.DMPolicy, cfg.GroupPolicy, cfg.AllowFrom, transcripts),
		cfg:         cfg,
		rest:        newClient(cfg.AppID, cfg.AppSecret, cfg.Domain),
		log:         log,
	}, nil
}

// Start connects the long-poll WebSocket client and begins dispatching
// message-receive events onto the bus.
func (c *Channel) Start(ctx context.Context) error {
	if openID, err := c.rest.botInfo(ctx); err != nil {
		c.log.Warn("feishu: bot info probe failed, mention recomputation disabled", "err", err)
	} else {
		c.botOpenID = openID
	}

	handler := larkevent.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(func(eventCtx context.Context, event *larkim.P2MessageReceiveV1) error {
			c.handleEvent(event)
			return nil
		})

	c.mu.Lock()
	c.ws = larkws.NewClient(c.cfg.AppID, c.cfg.AppSecret,
		larkws.WithEventHandler(handler),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	)
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.writeLoop(runCtx)

	go func() {
		if err := c.ws.Start(runCtx); err != nil {
			c.log.Error("feishu: websocket client stopped", "err", err)
		}
	}()

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	return nil
}

func (c *Channel) Stop() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.running = false
	c.mu.Unlock()
	return nil
}

// IsRunning reports whether Start has completed and Stop has not been
// called since; it does not check the websocket connection itself. It
// shadows the embedded BaseChannel's field which this type never sets.
func (c *Channel) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Send posts text content into a Feishu chat by id.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if msg.ChatID == "" {
		return fmt.Errorf("feishu: empty chat id")
	}
	_, err := c.rest.sendText(ctx, msg.ChatID, msg.Content)
	return err
}

func (c *Channel) writeLoop(ctx context.Context) {
	for {
		msg, ok := c.Bus().SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if msg.Channel != "feishu" {
			continue
		}
		if err := c.Send(ctx, msg); err != nil {
			c.log.Warn("feishu: send failed", "err", err)
		}
	}
}

// handleEvent parses a P2MessageReceiveV1 push, recomputes is_mentioned
// against this bot's own open id (never trusting the platform's own
// mention flag verbatim, matching the teacher's stripBotMention/
// parseMessageEvent pattern) and publishes an InboundMessage.
func (c *Channel) handleEvent(event *larkim.P2MessageReceiveV1) {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return
	}
	msg := event.Event.Message
	sender := event.Event.Sender

	chatID := strOr(msg.ChatId)
	chatType := strOr(msg.ChatType)
	content := extractText(strOr(msg.Content), strOr(msg.MessageType))

	senderID := ""
	if sender != nil && sender.SenderId != nil {
		senderID = strOr(sender.SenderId.OpenId)
	}

	mentionedBot := false
	var mentionKeys []string
	for _, m := range msg.Mentions {
		if m.Id == nil {
			continue
		}
		if strOr(m.Id.OpenId) == c.botOpenID && c.botOpenID != "" {
			mentionedBot = true
			mentionKeys = append(mentionKeys, strOr(m.Key))
		}
	}
	for _, key := range mentionKeys {
		content = strings.TrimSpace(strings.ReplaceAll(content, key, ""))
	}

	peerKind := "direct"
	if chatType == "group" {
		peerKind = "group"
		if c.cfg.RequireMention && !mentionedBot {
			return
		}
	}

	extra := map[string]string{}
	if mentionedBot {
		extra["is_mentioned"] = "true"
	}
	if peerKind == "group" {
		extra["group_policy"] = string(c.cfg.GroupPolicy)
	}

	c.HandleMessage(senderID, chatID, content, nil, peerKind, extra)
}

func strOr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func extractText(rawContent, messageType string) string {
	if rawContent == "" {
		return ""
	}
	switch messageType {
	case "text":
		var textMsg struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(rawContent), &textMsg); err == nil {
			return textMsg.Text
		}
		return rawContent
	case "image":
		return "[image]"
	default:
		return fmt.Sprintf("[%s message]", messageType)
	}
}
