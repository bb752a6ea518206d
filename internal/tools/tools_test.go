package tools

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/clawrouter/internal/bus"
)

type recordingOutbox struct {
	messages []bus.OutboundMessage
}

func (r *recordingOutbox) PublishOutbound(msg bus.OutboundMessage) {
	r.messages = append(r.messages, msg)
}

func TestRegistryExecuteSetsContextOnContextualTools(t *testing.T) {
	out := &recordingOutbox{}
	reg := NewRegistry()
	reg.Register(NewMessageTool(out))

	_, err := reg.Execute(context.Background(), "message", map[string]interface{}{"content": "hi"}, "cli", "c1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.messages) != 1 || out.messages[0].ChatID != "c1" || out.messages[0].Channel != "cli" {
		t.Fatalf("unexpected publish: %+v", out.messages)
	}
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Execute(context.Background(), "nope", nil, "cli", "c1"); err == nil {
		t.Fatal("expected error for unregistered tool")
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewMessageTool(&recordingOutbox{}))
	reg.Register(NewSpawnTool(&recordingInboundBus{}, nil))

	names := reg.Names()
	if len(names) != 2 || names[0] != "message" || names[1] != "spawn" {
		t.Fatalf("expected sorted [message spawn], got %v", names)
	}
}

func TestMessageToolRequiresContentAndDestination(t *testing.T) {
	tool := NewMessageTool(&recordingOutbox{})
	if _, err := tool.Execute(context.Background(), map[string]interface{}{}); err == nil {
		t.Fatal("expected error for missing content")
	}
	tool.SetContext("", "")
	if _, err := tool.Execute(context.Background(), map[string]interface{}{"content": "hi"}); err == nil {
		t.Fatal("expected error for missing destination")
	}
}

type recordingInboundBus struct {
	messages []bus.InboundMessage
	notify   chan struct{}
}

func (r *recordingInboundBus) PublishInbound(msg bus.InboundMessage) {
	r.messages = append(r.messages, msg)
	if r.notify != nil {
		close(r.notify)
	}
}

func TestSpawnToolRequiresRunner(t *testing.T) {
	inbox := &recordingInboundBus{}
	tool := NewSpawnTool(inbox, nil)
	tool.SetContext("cli", "c1")

	result, err := tool.Execute(context.Background(), map[string]interface{}{"task": "do something"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result == "" {
		t.Fatal("expected a placeholder result when no runner is configured")
	}
}

func TestSpawnToolRunsAndReportsBack(t *testing.T) {
	inbox := &recordingInboundBus{notify: make(chan struct{})}
	tool := NewSpawnTool(inbox, func(ctx context.Context, task string) (string, error) {
		return "result: " + task, nil
	})
	tool.SetContext("cli", "c1")

	if _, err := tool.Execute(context.Background(), map[string]interface{}{"task": "count to 3"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	<-inbox.notify
	if len(inbox.messages) != 1 {
		t.Fatalf("expected 1 reported result, got %d", len(inbox.messages))
	}
	if inbox.messages[0].Channel != "system" || inbox.messages[0].ChatID != "cli:c1" {
		t.Fatalf("unexpected envelope: %+v", inbox.messages[0])
	}
}

func TestSpawnToolRequiresTask(t *testing.T) {
	tool := NewSpawnTool(&recordingInboundBus{}, nil)
	tool.SetContext("cli", "c1")
	if _, err := tool.Execute(context.Background(), map[string]interface{}{}); err == nil {
		t.Fatal("expected error for missing task")
	}
}
