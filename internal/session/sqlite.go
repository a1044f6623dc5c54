package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/storage"
)

// SQLiteStore persists sessions and their turns in SQLite so conversations survive a
// restart.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dbPath and creates the session tables.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := storage.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		next_seq INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		last_activity DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity);

	CREATE TABLE IF NOT EXISTS session_turns (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		citations TEXT,
		PRIMARY KEY (session_id, seq),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get loads a session with its turns ordered by seq.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Session, error) {
	sess := &models.Session{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT next_seq, created_at, last_activity FROM sessions WHERE id = ?`, id,
	).Scan(&sess.NextSeq, &sess.CreatedAt, &sess.LastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, role, text, created_at, token_count, citations FROM session_turns WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	defer rows.Close()
	sess.Turns = []models.Turn{}
	for rows.Next() {
		var (
			t         models.Turn
			role      string
			citations sql.NullString
		)
		if err := rows.Scan(&t.Seq, &role, &t.Text, &t.Timestamp, &t.TokenCount, &citations); err != nil {
			return nil, err
		}
		t.Role = models.Role(role)
		if citations.Valid && citations.String != "" {
			if err := json.Unmarshal([]byte(citations.String), &t.Citations); err != nil {
				return nil, fmt.Errorf("failed to decode citations: %w", err)
			}
		}
		sess.Turns = append(sess.Turns, t)
	}
	return sess, rows.Err()
}

// Put replaces the session row and all of its turns in one transaction.
func (s *SQLiteStore) Put(ctx context.Context, sess *models.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, next_seq, created_at, last_activity) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET next_seq = excluded.next_seq, created_at = excluded.created_at, last_activity = excluded.last_activity`,
		sess.ID, sess.NextSeq, sess.CreatedAt.UTC(), sess.LastActivity.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_turns WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("failed to clear turns: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_turns (session_id, seq, role, text, created_at, token_count, citations) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, t := range sess.Turns {
		var citations any
		if len(t.Citations) > 0 {
			b, err := json.Marshal(t.Citations)
			if err != nil {
				return err
			}
			citations = string(b)
		}
		if _, err := stmt.ExecContext(ctx, sess.ID, t.Seq, string(t.Role), t.Text, t.Timestamp.UTC(), t.TokenCount, citations); err != nil {
			return fmt.Errorf("failed to insert turn %d: %w", t.Seq, err)
		}
	}
	return tx.Commit()
}

// Delete removes a session and, through the foreign key, its turns.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// IdleSince lists sessions inactive since before t. Times are stored in UTC since
// SQLite compares them as text.
func (s *SQLiteStore) IdleSince(ctx context.Context, t time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE last_activity < ? ORDER BY id`, t.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Len returns the number of stored sessions.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
