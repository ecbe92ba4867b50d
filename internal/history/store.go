// Package history keeps a local record of finished battles in an embedded
// sqlite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// Record is one finished battle.
type Record struct {
	SessionID    string    `json:"sessionId"`
	BattleType   string    `json:"battleType"`
	Result       string    `json:"result"` // "victory" | "defeat" | "fled" | "captured"
	Turns        int       `json:"turns"`
	OpponentName string    `json:"opponentName"`
	Captured     bool      `json:"captured"`
	EndedAt      time.Time `json:"endedAt"`
}

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS battles (
	session_id TEXT PRIMARY KEY,
	battle_type TEXT NOT NULL,
	result TEXT NOT NULL,
	turns INTEGER NOT NULL,
	opponent_name TEXT NOT NULL,
	captured INTEGER NOT NULL,
	ended_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_battles_ended_at ON battles(ended_at DESC);
`

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts or replaces one finished battle.
func (s *Store) Record(ctx context.Context, r Record) error {
	if r.EndedAt.IsZero() {
		r.EndedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO battles(session_id, battle_type, result, turns, opponent_name, captured, ended_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	battle_type=excluded.battle_type,
	result=excluded.result,
	turns=excluded.turns,
	opponent_name=excluded.opponent_name,
	captured=excluded.captured,
	ended_at=excluded.ended_at
`, r.SessionID, r.BattleType, r.Result, r.Turns, r.OpponentName, boolToInt(r.Captured), ts(r.EndedAt))
	if err != nil {
		return fmt.Errorf("record battle: %w", err)
	}
	return nil
}

// Recent returns the n most recently finished battles, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, battle_type, result, turns, opponent_name, captured, ended_at
FROM battles ORDER BY ended_at DESC, session_id LIMIT ?
`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent battles: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var captured int
		var endedAt string
		if err := rows.Scan(&r.SessionID, &r.BattleType, &r.Result, &r.Turns, &r.OpponentName, &captured, &endedAt); err != nil {
			return nil, fmt.Errorf("scan battle row: %w", err)
		}
		r.Captured = captured != 0
		if t, perr := time.Parse(time.RFC3339Nano, endedAt); perr == nil {
			r.EndedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns one battle by session id.
func (s *Store) Get(ctx context.Context, sessionID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT session_id, battle_type, result, turns, opponent_name, captured, ended_at
FROM battles WHERE session_id = ?
`, sessionID)

	var r Record
	var captured int
	var endedAt string
	err := row.Scan(&r.SessionID, &r.BattleType, &r.Result, &r.Turns, &r.OpponentName, &captured, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get battle: %w", err)
	}
	r.Captured = captured != 0
	if t, perr := time.Parse(time.RFC3339Nano, endedAt); perr == nil {
		r.EndedAt = t
	}
	return r, nil
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
