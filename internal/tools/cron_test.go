package tools

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/clawrouter/internal/cron"
)

func TestCronSetToolCreatesAndUsesContext(t *testing.T) {
	table := cron.NewTable(t.TempDir())
	tool := NewCronSetTool(table)
	tool.SetContext("cli", "c1")

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"expr":    "0 9 * * *",
		"message": "good morning",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result == "" {
		t.Fatal("expected a non-empty confirmation")
	}

	entries, err := table.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Channel != "cli" || entries[0].ChatID != "c1" {
		t.Fatalf("unexpected entry: %+v", entries)
	}
}

func TestCronSetToolRequiresExprAndMessage(t *testing.T) {
	tool := NewCronSetTool(cron.NewTable(t.TempDir()))
	if _, err := tool.Execute(context.Background(), map[string]interface{}{"message": "x"}); err == nil {
		t.Fatal("expected error for missing expr")
	}
	if _, err := tool.Execute(context.Background(), map[string]interface{}{"expr": "0 9 * * *"}); err == nil {
		t.Fatal("expected error for missing message")
	}
}

func TestCronListToolReturnsJSON(t *testing.T) {
	table := cron.NewTable(t.TempDir())
	table.Set(cron.Entry{Expr: "0 9 * * *", Message: "hi"})

	tool := NewCronListTool(table)
	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result == "" || result == "null" {
		t.Fatalf("expected non-empty JSON, got %q", result)
	}
}
