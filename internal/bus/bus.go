package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultQueueSize  = 256
	defaultConsumeTTL = time.Second
)

// Bus holds the bounded inbound/outbound queues connecting channel
// adapters to the agent loop, plus an event fan-out for observers. One
// Bus instance belongs to exactly one agent process.
type Bus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	subMu sync.RWMutex
	subs  map[string]chan Event
}

// New creates a Bus with the given queue capacity. A capacity of 0 uses
// the default.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultQueueSize
	}
	return &Bus{
		inbound:  make(chan InboundMessage, capacity),
		outbound: make(chan OutboundMessage, capacity),
		subs:     make(map[string]chan Event),
	}
}

// PublishInbound enqueues a message for the agent loop. It blocks if the
// queue is full, applying back-pressure to producers (channel ingress
// tasks, the relay subscriber, the cron trigger).
func (b *Bus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound waits up to a short timeout for the next inbound
// message. It returns ok=false on timeout (the caller should re-check its
// running flag and retry) or when ctx is cancelled.
func (b *Bus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	timer := time.NewTimer(defaultConsumeTTL)
	defer timer.Stop()
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-timer.C:
		return InboundMessage{}, false
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues a reply for channel adapters to deliver.
func (b *Bus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// SubscribeOutbound waits for the next outbound message bound for
// delivery. Multiple channel adapters typically filter by msg.Channel
// after receiving.
func (b *Bus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// Subscribe registers a new event listener and returns its ID and
// receive channel. Call Unsubscribe when done.
func (b *Bus) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, 64)
	b.subMu.Lock()
	b.subs[id] = ch
	b.subMu.Unlock()
	return id, ch
}

// Unsubscribe removes a previously registered listener.
func (b *Bus) Unsubscribe(id string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Broadcast fans an event out to every current subscriber. Slow or full
// subscriber channels are skipped rather than blocking the broadcaster.
func (b *Bus) Broadcast(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
