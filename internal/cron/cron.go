// Package cron implements the per-agent scheduled-task table (§6
// <home>/<agent>/cron/) and the ticker that evaluates it, publishing a
// channel="system" InboundMessage on each due trigger so it drives the
// ordinary §4.8a system-message path.
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawrouter/internal/bus"
)

// Entry is one scheduled task.
type Entry struct {
	ID       string `json:"id"`
	Expr     string `json:"expr"`     // standard 5-field cron expression
	Message  string `json:"message"`  // content delivered as the system message
	Channel  string `json:"channel"`  // origin channel to reply through
	ChatID   string `json:"chat_id"`  // origin chat id to reply through
	LastRun  string `json:"last_run,omitempty"`
}

// Table persists one agent's cron entries as a JSON file under its
// cron/ directory and validates expressions with gronx.
type Table struct {
	mu   sync.Mutex
	path string
}

// NewTable opens (without yet loading) the cron table at dir/entries.json.
func NewTable(dir string) *Table {
	os.MkdirAll(dir, 0o755)
	return &Table{path: filepath.Join(dir, "entries.json")}
}

// List returns every configured entry.
func (t *Table) List() ([]Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load()
}

// Set validates expr, assigns an ID if e.ID is empty, and upserts e.
func (t *Table) Set(e Entry) (Entry, error) {
	if !gronx.IsValid(e.Expr) {
		return Entry{}, fmt.Errorf("cron: invalid expression %q", e.Expr)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, err := t.load()
	if err != nil {
		return Entry{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()[:8]
	}
	replaced := false
	for i, existing := range entries {
		if existing.ID == e.ID {
			entries[i] = e
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, e)
	}
	return e, t.save(entries)
}

// Remove deletes the entry with the given id.
func (t *Table) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries, err := t.load()
	if err != nil {
		return err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return t.save(out)
}

func (t *Table) load() ([]Entry, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (t *Table) save(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.path, data, 0o644)
}

func (t *Table) markRun(id string, when time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries, err := t.load()
	if err != nil {
		return
	}
	for i := range entries {
		if entries[i].ID == id {
			entries[i].LastRun = when.UTC().Format(time.RFC3339)
		}
	}
	_ = t.save(entries)
}

// Inbox is the narrow bus surface the trigger needs.
type Inbox interface {
	PublishInbound(bus.InboundMessage)
}

// Trigger evaluates one agent's cron table on a 1-minute ticker and
// publishes a system message for every entry due at that minute.
type Trigger struct {
	table *Table
	inbox Inbox
	log   *slog.Logger
	eng   gronx.Gronx
}

// NewTrigger builds a trigger over table, publishing onto inbox.
func NewTrigger(table *Table, inbox Inbox, log *slog.Logger) *Trigger {
	if log == nil {
		log = slog.Default()
	}
	return &Trigger{table: table, inbox: inbox, log: log, eng: gronx.New()}
}

// Run ticks once a minute until ctx is cancelled.
func (tr *Trigger) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			tr.tick(now)
		}
	}
}

func (tr *Trigger) tick(now time.Time) {
	entries, err := tr.table.List()
	if err != nil {
		tr.log.Warn("cron: list failed", "err", err)
		return
	}
	for _, e := range entries {
		due, err := tr.eng.IsDue(e.Expr, now)
		if err != nil {
			tr.log.Warn("cron: bad expression", "id", e.ID, "expr", e.Expr, "err", err)
			continue
		}
		if !due {
			continue
		}
		tr.inbox.PublishInbound(bus.InboundMessage{
			Channel:  "system",
			SenderID: "cron:" + e.ID,
			ChatID:   e.Channel + ":" + e.ChatID,
			Content:  e.Message,
		})
		tr.table.markRun(e.ID, now)
	}
}
