package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawrouter/internal/relay"
)

func TestGroupRosterLoadsAndFiltersSelf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.json")
	if err := SaveGroups(path, []relay.Member{
		{OpenID: "a1", Name: "Agent One"},
		{OpenID: "a2", Name: "Agent Two"},
	}); err != nil {
		t.Fatalf("SaveGroups: %v", err)
	}

	roster := NewGroupRoster(path, nil)
	defer roster.Close()

	members := roster.Members("a1")
	if len(members) != 1 || members[0].OpenID != "a2" {
		t.Fatalf("expected only a2, got %+v", members)
	}
	if name := roster.DisplayName("a2"); name != "Agent Two" {
		t.Fatalf("expected Agent Two, got %q", name)
	}
	if name := roster.DisplayName("unknown"); name != "" {
		t.Fatalf("expected empty name for unknown member, got %q", name)
	}
}

func TestGroupRosterMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-groups.json")
	roster := NewGroupRoster(path, nil)
	defer roster.Close()

	if members := roster.Members("self"); len(members) != 0 {
		t.Fatalf("expected empty roster, got %+v", members)
	}
	// give the watcher goroutine a moment to start without flaking the test
	time.Sleep(10 * time.Millisecond)
}
