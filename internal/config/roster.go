package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/clawrouter/internal/relay"
)

// GroupRoster loads groups.json — the flat peer list shared by every
// agent under one home directory — and implements relay.Roster over it.
// A fsnotify watcher keeps the in-memory copy fresh without requiring
// callers to re-read the file on every message.
type GroupRoster struct {
	mu      sync.RWMutex
	path    string
	members []relay.Member
	log     *slog.Logger
	watcher *fsnotify.Watcher
}

// NewGroupRoster loads path once and starts watching it for changes.
// A missing file is not an error: the roster starts empty.
func NewGroupRoster(path string, log *slog.Logger) *GroupRoster {
	if log == nil {
		log = slog.Default()
	}
	r := &GroupRoster{path: path, log: log}
	if err := r.reload(); err != nil {
		log.Warn("roster: initial load failed", "path", path, "err", err)
	}
	if w, err := fsnotify.NewWatcher(); err == nil {
		r.watcher = w
		if err := w.Add(path); err != nil {
			// The file may not exist yet; watch its directory instead isn't
			// wired here since groups.json is expected to be seeded by
			// onboarding before any agent starts polling it.
			log.Debug("roster: watch failed", "path", path, "err", err)
		}
		go r.watch()
	}
	return r
}

func (r *GroupRoster) watch() {
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := r.reload(); err != nil {
					r.log.Warn("roster: reload failed", "err", err)
				}
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Debug("roster: watcher error", "err", err)
		}
	}
}

func (r *GroupRoster) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.mu.Lock()
			r.members = nil
			r.mu.Unlock()
			return nil
		}
		return err
	}
	var members []relay.Member
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	r.mu.Lock()
	r.members = members
	r.mu.Unlock()
	return nil
}

// Members returns every entry whose OpenID differs from self.
func (r *GroupRoster) Members(self string) []relay.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]relay.Member, 0, len(r.members))
	for _, m := range r.members {
		if m.OpenID != self {
			out = append(out, m)
		}
	}
	return out
}

// DisplayName returns the configured name for openID, or "" if unknown.
func (r *GroupRoster) DisplayName(openID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.members {
		if m.OpenID == openID {
			return m.Name
		}
	}
	return ""
}

// Close stops the file watcher.
func (r *GroupRoster) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// SaveGroups writes members to path as a flat JSON array, the format
// every agent under the same home directory reads.
func SaveGroups(path string, members []relay.Member) error {
	data, err := json.MarshalIndent(members, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
