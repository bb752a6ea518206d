package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nextlevelbuilder/clawrouter/internal/session"
	"github.com/nextlevelbuilder/clawrouter/internal/transcript"
)

// PostgresStore backs both SessionStore and TranscriptStore with rows in
// a Postgres database instead of JSONL files, for deployments with
// database.mode=="managed" where multiple agent instances share state.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and applies any pending migrations found
// under migrationsDir before returning.
func OpenPostgres(ctx context.Context, dsn, migrationsDir string) (*PostgresStore, error) {
	if migrationsDir != "" {
		m, err := migrate.New("file://"+migrationsDir, dsn)
		if err != nil {
			return nil, fmt.Errorf("store: create migrator: %w", err)
		}
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			return nil, fmt.Errorf("store: apply migrations: %w", err)
		}
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// GetOrCreate loads the row for key, or inserts an empty one.
func (p *PostgresStore) GetOrCreate(key string) (*session.Session, error) {
	ctx := context.Background()
	var entriesJSON []byte
	var created, updated time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT entries, created_at, updated_at FROM sessions WHERE key = $1`, key,
	).Scan(&entriesJSON, &created, &updated)

	if err == nil {
		var entries []session.Entry
		if len(entriesJSON) > 0 {
			if jsonErr := json.Unmarshal(entriesJSON, &entries); jsonErr != nil {
				return nil, fmt.Errorf("store: decode entries for %s: %w", key, jsonErr)
			}
		}
		return &session.Session{Key: key, Entries: entries, Created: created, Updated: updated}, nil
	}

	now := time.Now().UTC()
	_, insertErr := p.pool.Exec(ctx,
		`INSERT INTO sessions (key, entries, created_at, updated_at) VALUES ($1, '[]', $2, $2)
		 ON CONFLICT (key) DO NOTHING`, key, now)
	if insertErr != nil {
		return nil, fmt.Errorf("store: create session %s: %w", key, insertErr)
	}
	return &session.Session{Key: key, Created: now, Updated: now}, nil
}

// AddMessage mirrors session.Manager.AddMessage's in-memory append; the
// caller must still call Save to persist the row.
func (p *PostgresStore) AddMessage(s *session.Session, role session.Role, content string, senderType session.SenderType, sender string) {
	now := time.Now().UTC()
	s.Entries = append(s.Entries, session.Entry{
		Role: role, Content: content, Timestamp: now, SenderType: senderType, Sender: sender,
	})
	s.Updated = now
}

// Save upserts the full entry slice as one JSONB column.
func (p *PostgresStore) Save(s *session.Session) error {
	data, err := json.Marshal(s.Entries)
	if err != nil {
		return fmt.Errorf("store: encode entries for %s: %w", s.Key, err)
	}
	_, err = p.pool.Exec(context.Background(),
		`INSERT INTO sessions (key, entries, created_at, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET entries = $2, updated_at = $4`,
		s.Key, data, s.Created, s.Updated)
	return err
}

// Append inserts one transcript row for key.
func (p *PostgresStore) Append(key, role, content, sender, messageID string, ts time.Time) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := p.pool.Exec(context.Background(),
		`INSERT INTO transcript_records (session_key, role, content, sender, message_id, ts) VALUES ($1,$2,$3,$4,$5,$6)`,
		key, role, content, sender, messageID, ts)
	return err
}

// GetRecent returns the newest n transcript rows for key in chronological
// order, deduplicated by message_id at the query layer.
func (p *PostgresStore) GetRecent(key string, n int) ([]transcript.Record, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := p.pool.Query(context.Background(), `
		SELECT role, content, sender, message_id, ts FROM (
			SELECT DISTINCT ON (message_id) role, content, sender, message_id, ts
			FROM transcript_records
			WHERE session_key = $1
			ORDER BY message_id, ts DESC
		) dedup
		ORDER BY ts DESC
		LIMIT $2`, key, n)
	if err != nil {
		return nil, fmt.Errorf("store: query transcript %s: %w", key, err)
	}
	defer rows.Close()

	var records []transcript.Record
	for rows.Next() {
		var rec transcript.Record
		if err := rows.Scan(&rec.Role, &rec.Content, &rec.Sender, &rec.MessageID, &rec.TS); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, rows.Err()
}

// CountTrailingAssistants mirrors transcript.Store's definition over the
// Postgres-backed tail.
func (p *PostgresStore) CountTrailingAssistants(key string, maxScan int) (int, error) {
	if maxScan <= 0 {
		maxScan = 30
	}
	records, err := p.GetRecent(key, maxScan)
	if err != nil {
		return 0, err
	}
	count := 0
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Role != "assistant" {
			break
		}
		count++
	}
	return count, nil
}

var (
	_ SessionStore    = (*PostgresStore)(nil)
	_ TranscriptStore = (*PostgresStore)(nil)
)
