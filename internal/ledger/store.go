// Package ledger is the sqlite-backed transcript store: chat sessions, their
// messages, and per-session usage. It doubles as the core's Persistence
// collaborator.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sahaay/internal/chat"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("session not found")

type Store struct {
	db *sql.DB
}

type SessionRecord struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type MessageRecord struct {
	ID        int64
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

type UsageTotals struct {
	Replies int64   `json:"replies"`
	CostINR float64 `json:"cost_inr"`
	CostUSD float64 `json:"cost_usd"`
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Init(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
  session_id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT NOT NULL,
  role TEXT NOT NULL,
  content TEXT NOT NULL,
  created_at TEXT NOT NULL,
  FOREIGN KEY(session_id) REFERENCES sessions(session_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
CREATE TABLE IF NOT EXISTS session_usage (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT NOT NULL,
  cost_inr REAL NOT NULL DEFAULT 0,
  cost_usd REAL NOT NULL DEFAULT 0,
  tokens_json TEXT NOT NULL DEFAULT '{}',
  recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_usage_session ON session_usage(session_id);`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) CreateSession(ctx context.Context, id, title string) (SessionRecord, error) {
	if id == "" {
		return SessionRecord{}, fmt.Errorf("session id is required")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sessions(session_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, title, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return SessionRecord{}, err
	}
	return SessionRecord{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	var out SessionRecord
	var tsCreated, tsUpdated string
	row := s.db.QueryRowContext(
		ctx,
		`SELECT session_id, title, created_at, updated_at FROM sessions WHERE session_id=?`,
		id,
	)
	if err := row.Scan(&out.ID, &out.Title, &tsCreated, &tsUpdated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRecord{}, ErrNotFound
		}
		return SessionRecord{}, err
	}
	out.CreatedAt, _ = time.Parse(time.RFC3339Nano, tsCreated)
	out.UpdatedAt, _ = time.Parse(time.RFC3339Nano, tsUpdated)
	return out, nil
}

func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT session_id, title, created_at, updated_at FROM sessions
		 ORDER BY updated_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []SessionRecord{}
	for rows.Next() {
		var rec SessionRecord
		var tsCreated, tsUpdated string
		if err := rows.Scan(&rec.ID, &rec.Title, &tsCreated, &tsUpdated); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, tsCreated)
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, tsUpdated)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id=?`, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_usage WHERE session_id=?`, id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) AddMessage(ctx context.Context, sessionID, role, content string) (MessageRecord, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO messages(session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, role, content, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return MessageRecord{}, err
	}
	id, _ := res.LastInsertId()
	_, _ = s.db.ExecContext(
		ctx,
		`UPDATE sessions SET updated_at=? WHERE session_id=?`,
		now.Format(time.RFC3339Nano), sessionID,
	)
	return MessageRecord{ID: id, SessionID: sessionID, Role: role, Content: content, CreatedAt: now}, nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]MessageRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, session_id, role, content, created_at FROM messages
		 WHERE session_id=? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []MessageRecord{}
	for rows.Next() {
		var rec MessageRecord
		var ts string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Role, &rec.Content, &ts); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) SessionUsage(ctx context.Context, sessionID string) (UsageTotals, error) {
	var out UsageTotals
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*), COALESCE(SUM(cost_inr), 0), COALESCE(SUM(cost_usd), 0)
		 FROM session_usage WHERE session_id=?`,
		sessionID,
	)
	if err := row.Scan(&out.Replies, &out.CostINR, &out.CostUSD); err != nil {
		return UsageTotals{}, err
	}
	return out, nil
}

// SaveMessage, UpdateSessionTitle and RecordUsage satisfy chat.Persistence.

func (s *Store) SaveMessage(ctx context.Context, sessionID, role, content string) error {
	_, err := s.AddMessage(ctx, sessionID, role, content)
	return err
}

func (s *Store) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions SET title=?, updated_at=? WHERE session_id=?`,
		title, time.Now().UTC().Format(time.RFC3339Nano), sessionID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) RecordUsage(ctx context.Context, sessionID string, usage chat.Usage) error {
	tokensJSON, _ := json.Marshal(usage.Tokens)
	var inr, usd float64
	if usage.CostINR != nil {
		inr = *usage.CostINR
	}
	if usage.CostUSD != nil {
		usd = *usage.CostUSD
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO session_usage(session_id, cost_inr, cost_usd, tokens_json, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, inr, usd, string(tokensJSON), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Turns loads a session's messages in the core's transcript shape, ready for
// Session.Seed.
func (s *Store) Turns(ctx context.Context, sessionID string) ([]chat.Turn, error) {
	msgs, err := s.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]chat.Turn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, chat.Turn{Role: m.Role, Content: m.Content})
	}
	return out, nil
}
