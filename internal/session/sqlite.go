package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ashureev/tbchat-client/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	conflictRetries   = 3
	conflictBaseDelay = 50 * time.Millisecond
)

// SQLiteStore persists the token on disk so a restarted client can resume.
// Tokens are keyed by scope, which stands in for the browsing session: a new
// scope never sees another scope's token, and tokens older than the TTL are
// treated as absent.
type SQLiteStore struct {
	db    *sql.DB
	scope string
	ttl   time.Duration
	now   func() time.Time
}

// NewSQLite opens (or creates) the session database at dbPath.
func NewSQLite(dbPath, scope string, ttl time.Duration) (*SQLiteStore, error) {
	if scope == "" {
		return nil, errors.New("session scope cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, scope: scope, ttl: ttl, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS session_tokens (
		scope TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_tokens_updated ON session_tokens(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Scope returns the scope this store reads and writes.
func (s *SQLiteStore) Scope() string {
	return s.scope
}

// Get returns the token for this scope, or "" when none is stored or it expired.
func (s *SQLiteStore) Get(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, updated_at FROM session_tokens WHERE scope = ?`, s.scope)

	var token string
	var updatedAt int64
	err := row.Scan(&token, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("scan session token: %w", err)
	}

	if s.expired(updatedAt) {
		return "", nil
	}
	return token, nil
}

// Set stores token for this scope.
func (s *SQLiteStore) Set(ctx context.Context, token string) error {
	query := `
	INSERT INTO session_tokens (scope, token, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(scope) DO UPDATE SET
		token = excluded.token,
		updated_at = excluded.updated_at`

	now := s.now().Unix()
	return shared.RetryOnConflict(ctx, "set session token", conflictRetries, conflictBaseDelay, func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, query, s.scope, token, now, now); err != nil {
			return fmt.Errorf("upsert session token: %w", err)
		}
		return nil
	})
}

// Clear removes the token for this scope.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	return shared.RetryOnConflict(ctx, "clear session token", conflictRetries, conflictBaseDelay, func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE scope = ?`, s.scope); err != nil {
			return fmt.Errorf("delete session token: %w", err)
		}
		return nil
	})
}

// DeleteExpired removes tokens of every scope that outlived the TTL.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	threshold := s.now().Add(-s.ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("delete expired session tokens: %w", err)
	}
	return result.RowsAffected()
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) expired(updatedAt int64) bool {
	if s.ttl <= 0 {
		return false
	}
	return s.now().Sub(time.Unix(updatedAt, 0)) > s.ttl
}

// DefaultScope derives a scope from the parent process, so every shell that
// launches the client gets its own session and closing it invalidates resumption.
func DefaultScope() string {
	return "ppid-" + strconv.Itoa(os.Getppid())
}
