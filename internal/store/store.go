// Package store defines the persistence interfaces the agent loop and
// relay depend on, decoupling them from a specific backend. The
// file-backed implementations in internal/session and
// internal/transcript satisfy these directly; PostgresStore is the
// optional "managed" mode backend for multi-instance deployments.
package store

import (
	"time"

	"github.com/nextlevelbuilder/clawrouter/internal/session"
	"github.com/nextlevelbuilder/clawrouter/internal/transcript"
)

// SessionStore is the persistence surface session.Manager exposes to
// the rest of the codebase.
type SessionStore interface {
	GetOrCreate(key string) (*session.Session, error)
	AddMessage(s *session.Session, role session.Role, content string, senderType session.SenderType, sender string)
	Save(s *session.Session) error
}

// TranscriptStore is the persistence surface transcript.Store exposes.
type TranscriptStore interface {
	Append(key, role, content, sender, messageID string, ts time.Time) error
	GetRecent(key string, n int) ([]transcript.Record, error)
	CountTrailingAssistants(key string, maxScan int) (int, error)
}

var (
	_ SessionStore    = (*session.Manager)(nil)
	_ TranscriptStore = (*transcript.Store)(nil)
)
