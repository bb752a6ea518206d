// Package channels adapts external chat platforms to the bus. Each
// adapter translates platform events into bus.InboundMessage and
// delivers bus.OutboundMessage back onto the platform.
package channels

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/clawrouter/internal/bus"
)

// DMPolicy controls how direct messages from unknown senders are handled.
type DMPolicy string

const (
	DMPolicyPairing   DMPolicy = "pairing"
	DMPolicyAllowlist DMPolicy = "allowlist"
	DMPolicyOpen      DMPolicy = "open"
	DMPolicyDisabled  DMPolicy = "disabled"
)

// GroupPolicy controls how group messages are handled.
type GroupPolicy string

const (
	GroupPolicyOpen      GroupPolicy = "open"
	GroupPolicyAllowlist GroupPolicy = "allowlist"
	GroupPolicyDisabled  GroupPolicy = "disabled"
)

// Channel is the interface every platform adapter implements.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(peerKind, senderID string) bool
}

// Transcripter is the narrow slice of transcript.Store a channel needs
// to record inbound human turns into the shared group transcript.
type Transcripter interface {
	Append(key, role, content, sender, messageID string, ts time.Time) error
}

// BaseChannel supplies the allow-list/policy machinery shared by every
// concrete adapter. Adapters embed it and add their own transport.
type BaseChannel struct {
	name        string
	bus         *bus.Bus
	running     bool
	dmPolicy    DMPolicy
	groupPolicy GroupPolicy
	allowList   []string
	transcripts Transcripter
}

// NewBaseChannel builds a BaseChannel publishing onto b. transcripts may
// be nil, in which case inbound group turns are not recorded.
func NewBaseChannel(name string, b *bus.Bus, dmPolicy DMPolicy, groupPolicy GroupPolicy, allowList []string, transcripts Transcripter) BaseChannel {
	if dmPolicy == "" {
		dmPolicy = DMPolicyOpen
	}
	if groupPolicy == "" {
		groupPolicy = GroupPolicyOpen
	}
	return BaseChannel{name: name, bus: b, dmPolicy: dmPolicy, groupPolicy: groupPolicy, allowList: allowList, transcripts: transcripts}
}

func (c *BaseChannel) Name() string { return c.name }

func (c *BaseChannel) IsRunning() bool { return c.running }

func (c *BaseChannel) setRunning(running bool) { c.running = running }

func (c *BaseChannel) Bus() *bus.Bus { return c.bus }

// IsAllowed checks senderID against the configured allow-list for the
// given peer kind ("direct" or "group"). A "disabled" policy denies
// everyone; an "allowlist" policy admits only listed senders, so an empty
// allow-list admits no one; any other policy allows everyone.
func (c *BaseChannel) IsAllowed(peerKind, senderID string) bool {
	policy := c.dmPolicy
	if peerKind == "group" {
		return string(c.groupPolicy) != string(GroupPolicyDisabled) && c.checkAllowlist(string(c.groupPolicy), senderID)
	}
	return string(policy) != string(DMPolicyDisabled) && c.checkAllowlist(string(policy), senderID)
}

func (c *BaseChannel) checkAllowlist(policy, senderID string) bool {
	if policy != "allowlist" {
		return true
	}
	if len(c.allowList) == 0 {
		return false
	}
	for _, allowed := range c.allowList {
		if senderID == strings.TrimPrefix(allowed, "@") {
			return true
		}
	}
	return false
}

// HandleMessage builds an InboundMessage from a decoded platform event
// and publishes it onto the bus, applying the allow-list gate first.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, media []bus.MediaAttachment, peerKind string, extraMeta map[string]string) {
	if !c.IsAllowed(peerKind, senderID) {
		return
	}
	meta := map[string]string{}
	for k, v := range extraMeta {
		meta[k] = v
	}
	if peerKind == "group" {
		meta["chat_type"] = "group"
		if c.transcripts != nil {
			sessionKey := c.name + ":" + chatID
			if err := c.transcripts.Append(sessionKey, "user", content, senderID, "", time.Time{}); err != nil {
				slog.Default().Debug("channels: failed to append inbound turn to transcript", "channel", c.name, "err", err)
			}
		}
	}
	c.bus.PublishInbound(bus.InboundMessage{
		Channel:  c.name,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
		Media:    media,
		Metadata: meta,
	})
}

// Truncate shortens s to maxLen runes, appending "..." when cut.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
