package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestConsumeInboundPreservesEnqueueOrder(t *testing.T) {
	b := New(16)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			b.PublishInbound(InboundMessage{Channel: "cli", ChatID: "c1", Content: string(rune('a' + i))})
		}
	}()
	wg.Wait()

	var got []string
	for i := 0; i < 5; i++ {
		msg, ok := b.ConsumeInbound(ctx)
		if !ok {
			t.Fatalf("expected message %d, got timeout", i)
		}
		got = append(got, msg.Content)
	}
	want := []string{"a", "b", "c", "d", "e"}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("order mismatch at %d: got %q want %q", i, got[i], w)
		}
	}
}

func TestConsumeInboundTimesOut(t *testing.T) {
	b := New(1)
	ctx := context.Background()
	start := time.Now()
	_, ok := b.ConsumeInbound(ctx)
	if ok {
		t.Fatal("expected timeout, got a message")
	}
	if time.Since(start) < 500*time.Millisecond {
		t.Fatal("returned before the consume timeout elapsed")
	}
}

func TestConsumeInboundRespectsCancellation(t *testing.T) {
	b := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := b.ConsumeInbound(ctx)
	if ok {
		t.Fatal("expected no message after cancellation")
	}
}

func TestBroadcastDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := New(1)
	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	for i := 0; i < 100; i++ {
		b.Broadcast(Event{Kind: EventMessageRouted})
	}
	if len(ch) == 0 {
		t.Fatal("expected at least one buffered event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(1)
	id, ch := b.Subscribe()
	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}
}
