package relay

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/clawrouter/internal/bus"
	"github.com/nextlevelbuilder/clawrouter/internal/store"
)

const defaultPollInterval = 500 * time.Millisecond

// Inbox is the narrow slice of bus.Bus the subscriber needs, kept as an
// interface so tests can supply a fake.
type Inbox interface {
	PublishInbound(bus.InboundMessage)
}

// Subscriber polls the relay for envelopes published by peer agents and
// re-injects them into this agent's local inbound bus, after dedup,
// self-loop skip, and full metadata recomputation from content.
type Subscriber struct {
	relay        *Relay
	inbox        Inbox
	transcripts  store.TranscriptStore
	roster       Roster
	agentName    string
	selfBotID    func() string
	pollInterval time.Duration
	limiter      *rate.Limiter

	dedup *dedupLRU

	log *slog.Logger

	stop chan struct{}
}

// NewSubscriber constructs a Subscriber for agentName, reading self's bot
// open id via selfBotID (called for each handled envelope, since it may change if
// the bot reconnects and is re-issued a session token).
func NewSubscriber(r *Relay, inbox Inbox, transcripts store.TranscriptStore, roster Roster, agentName string, selfBotID func() string, log *slog.Logger) *Subscriber {
	if log == nil {
		log = slog.Default()
	}
	return &Subscriber{
		relay:        r,
		inbox:        inbox,
		transcripts:  transcripts,
		roster:       roster,
		agentName:    agentName,
		selfBotID:    selfBotID,
		pollInterval: defaultPollInterval,
		limiter:      rate.NewLimiter(rate.Every(defaultPollInterval), 1),
		dedup:        newDedupLRU(5000),
		log:          log,
		stop:         make(chan struct{}),
	}
}

// Run polls for new relay envelopes until ctx is cancelled or Stop is
// called. wake, if non-nil, lets a caller (e.g. an fsnotify watcher on
// the outbound log) trigger an immediate poll instead of waiting for the
// next tick.
func (s *Subscriber) Run(ctx context.Context, wake <-chan struct{}) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.poll(ctx)
		case <-wake:
			if s.limiter.Allow() {
				s.poll(ctx)
			}
		}
	}
}

// Stop ends the polling loop.
func (s *Subscriber) Stop() {
	close(s.stop)
}

func (s *Subscriber) poll(ctx context.Context) {
	envelopes, err := s.relay.ReadNewMessages(s.agentName)
	if err != nil {
		s.log.Debug("relay subscriber: read failed", "err", err)
		return
	}
	for _, env := range envelopes {
		s.handle(ctx, env)
	}
}

func (s *Subscriber) handle(ctx context.Context, env Envelope) {
	if env.RelayMsgID == "" {
		return
	}
	if s.dedup.Contains(env.RelayMsgID) {
		return
	}
	selfID := s.selfBotID()
	if env.SenderBotOpenID != "" && env.SenderBotOpenID == selfID {
		return // own message looped back
	}
	s.dedup.Add(env.RelayMsgID)

	channel := env.Channel
	if channel == "" {
		channel = "feishu"
	}
	sessionKey := channel + ":" + env.ChatID

	if s.transcripts != nil {
		if err := s.transcripts.Append(sessionKey, "assistant", env.Content, env.SenderAgentName, "", time.Time{}); err != nil {
			s.log.Debug("relay: failed to append transcript", "err", err)
		}
	}

	metadata := make(map[string]string, len(env.Metadata)+4)
	for k, v := range env.Metadata {
		metadata[k] = v
	}
	metadata["from_bot"] = "true"
	metadata["sender_agent_name"] = env.SenderAgentName
	if metadata["chat_type"] == "" {
		metadata["chat_type"] = "group"
	}
	// Never trust the envelope's own is_mentioned: the sending bot may
	// have copied it from the original user message's metadata.
	metadata["is_mentioned"] = boolString(s.computeIsMentioned(env.Content, selfID))
	if metadata["group_policy"] == "" {
		metadata["group_policy"] = "auto"
	}
	if s.roster != nil {
		metadata["group_members"] = encodeMembers(s.roster.Members(selfID))
	}

	replyTo := env.ChatID
	if metadata["chat_type"] != "group" {
		replyTo = env.SenderBotOpenID
	}

	msg := bus.InboundMessage{
		Channel:  channel,
		SenderID: env.SenderBotOpenID,
		ChatID:   replyTo,
		Content:  env.Content,
		Metadata: metadata,
	}
	s.inbox.PublishInbound(msg)
	s.log.Debug("relay: injected message", "from", env.SenderAgentName, "session", sessionKey)
}

// computeIsMentioned decides whether this agent was addressed by scanning
// content for "@<display name>" or an explicit "<at id=selfID>" marker.
// It never consults the envelope's own metadata.
func (s *Subscriber) computeIsMentioned(content, selfID string) bool {
	if s.roster == nil || selfID == "" {
		return false
	}
	name := s.roster.DisplayName(selfID)
	if name != "" && strings.Contains(content, "@"+name) {
		return true
	}
	if strings.Contains(content, "<at id="+selfID) {
		return true
	}
	return false
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
