package relay

// Member describes one peer in the shared group roster (groups.json),
// used to recompute mention status and to populate group_members
// metadata on relay re-injection.
type Member struct {
	Name        string `json:"name"`
	OpenID      string `json:"open_id"`
	Type        string `json:"type"` // "bot" | "human"
	Description string `json:"description,omitempty"`
}

// Roster resolves the live peer list for one bot identity. Implemented
// by internal/config (backed by groups.json, fsnotify-watched for live
// reload); kept as a narrow interface here so relay has no dependency on
// the config package.
type Roster interface {
	// Members returns every roster entry whose OpenID differs from self.
	Members(self string) []Member
	// DisplayName returns the configured display name for a bot open id,
	// or "" if unknown.
	DisplayName(openID string) string
}
