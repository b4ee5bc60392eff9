// Package store provides the SQLite-backed durability layer for sessions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cascadeworks/agentcore/domain"
)

// SQLiteStore persists session snapshots and a fine-grained history log.
// It implements session.Persistence.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		quality TEXT NOT NULL,
		snapshot_json TEXT NOT NULL,
		last_seq INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		entry_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_session ON history(session_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadSession retrieves a session snapshot, or (nil, nil) when absent.
func (s *SQLiteStore) LoadSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT snapshot_json FROM sessions WHERE session_id = ?`, id)

	var snapshot string
	err := row.Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal([]byte(snapshot), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	// A reloaded session never resumes a turn from a prior process.
	if sess.Current != nil && !sess.Current.State.Terminal() {
		sess.Current = nil
	}
	return &sess, nil
}

// ListSessions returns every stored session snapshot, most recently updated
// first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot_json FROM sessions ORDER BY updated_at DESC, session_id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		var sess domain.Session
		if err := json.Unmarshal([]byte(snapshot), &sess); err != nil {
			return nil, fmt.Errorf("decode session snapshot: %w", err)
		}
		if sess.Current != nil && !sess.Current.State.Terminal() {
			sess.Current = nil
		}
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// SaveSession upserts the full session snapshot.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *domain.Session) error {
	snapshot, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}

	query := `
	INSERT INTO sessions (session_id, mode, quality, snapshot_json, last_seq, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		mode = excluded.mode,
		quality = excluded.quality,
		snapshot_json = excluded.snapshot_json,
		last_seq = excluded.last_seq,
		updated_at = excluded.updated_at`

	return s.execBusyRetry(ctx, "upsert session", query,
		sess.ID, string(sess.Mode), string(sess.Quality), string(snapshot),
		int64(sess.LastSeq), sess.CreatedAt.Unix(), sess.UpdatedAt.Unix())
}

// AppendHistory appends finalized entries to the history log.
func (s *SQLiteStore) AppendHistory(ctx context.Context, id string, entries []domain.ConversationEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO history (session_id, seq, role, entry_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare history insert: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			slog.Warn("failed to close history statement", "error", closeErr)
		}
	}()

	for _, e := range entries {
		encoded, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode history entry: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			id, int64(e.Seq), string(e.Role), string(encoded), e.Timestamp.Unix()); err != nil {
			return fmt.Errorf("insert history entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history tx: %w", err)
	}
	return nil
}

// History returns a session's durable history log in append order.
func (s *SQLiteStore) History(ctx context.Context, id string) ([]domain.ConversationEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_json FROM history WHERE session_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	var entries []domain.ConversationEntry
	for rows.Next() {
		var encoded string
		if err := rows.Scan(&encoded); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		var e domain.ConversationEntry
		if err := json.Unmarshal([]byte(encoded), &e); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// DeleteSession removes a session and its history.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.execBusyRetry(ctx, "delete session",
		`DELETE FROM sessions WHERE session_id = ?`, id); err != nil {
		return err
	}
	return s.execBusyRetry(ctx, "delete session history",
		`DELETE FROM history WHERE session_id = ?`, id)
}

// CleanupExpired removes sessions idle longer than ttl, with their history.
func (s *SQLiteStore) CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM history WHERE session_id IN
		   (SELECT session_id FROM sessions WHERE updated_at < ?)`, threshold); err != nil {
		return 0, fmt.Errorf("cleanup expired history: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// execBusyRetry runs a write with retries on SQLITE_BUSY.
func (s *SQLiteStore) execBusyRetry(ctx context.Context, op, query string, args ...any) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		_, err := s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return nil
		}
		lastErr = err
		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			if i < maxRetries-1 {
				delay := baseDelay * time.Duration(1<<i)
				slog.Debug("sqlite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
				time.Sleep(delay)
				continue
			}
		}
		break
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}
