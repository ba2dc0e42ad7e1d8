package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Usage is the terminal record of one /ring invocation.
type Usage struct {
	InteractionID string
	UserID        string
	GuildID       string
	Tier          string
	Outcome       string
	Duration      time.Duration
	CreatedAt     time.Time
}

// Count is one row of Summary.
type Count struct {
	Tier    string
	Outcome string
	N       int
}

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the ledger at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Single writer; sqlite serialises anyway.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS ring_usage (
		id TEXT PRIMARY KEY,
		interaction_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		guild_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		outcome TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS ring_usage_user ON ring_usage (user_id)`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts u, retrying briefly while the database is locked.
func (s *Store) Record(ctx context.Context, u Usage) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	id := uuid.NewString()

	var lastErr error
	for i := 0; i < 5; i++ {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO ring_usage (id, interaction_id, user_id, guild_id, tier, outcome, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			id, u.InteractionID, u.UserID, u.GuildID, u.Tier, u.Outcome, u.Duration.Milliseconds(), u.CreatedAt.Unix())
		if err == nil {
			return nil
		}
		lastErr = err
		if strings.Contains(err.Error(), "database is locked") {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		return err
	}
	return lastErr
}

// Summary returns invocation counts grouped by tier and outcome.
func (s *Store) Summary(ctx context.Context) ([]Count, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT tier, outcome, COUNT(*) FROM ring_usage GROUP BY tier, outcome ORDER BY tier, outcome")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Tier, &c.Outcome, &c.N); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UserCount returns how many invocations a user has made.
func (s *Store) UserCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ring_usage WHERE user_id = ?", userID).Scan(&n)
	return n, err
}
