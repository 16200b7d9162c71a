package session

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	if tok, _ := s.Get(ctx); tok != "" {
		t.Fatalf("expected empty token, got %q", tok)
	}
	if err := s.Set(ctx, "abc"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if tok, _ := s.Get(ctx); tok != "abc" {
		t.Fatalf("expected abc, got %q", tok)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if tok, _ := s.Get(ctx); tok != "" {
		t.Fatalf("expected cleared token, got %q", tok)
	}
}

func newTestSQLite(t *testing.T, path, scope string, ttl time.Duration) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(path, scope, ttl)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	first, err := NewSQLite(path, "tab-1", time.Hour)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	if err := first.Set(ctx, "token-1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second := newTestSQLite(t, path, "tab-1", time.Hour)
	tok, err := second.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tok != "token-1" {
		t.Fatalf("expected token-1 after reopen, got %q", tok)
	}
}

func TestSQLiteStoreScopesAreIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")
	a := newTestSQLite(t, path, "tab-a", time.Hour)
	b := newTestSQLite(t, path, "tab-b", time.Hour)

	if err := a.Set(ctx, "token-a"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if tok, _ := b.Get(ctx); tok != "" {
		t.Fatalf("expected other scope to see no token, got %q", tok)
	}

	if err := b.Set(ctx, "token-b"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := a.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if tok, _ := b.Get(ctx); tok != "token-b" {
		t.Fatalf("clearing one scope must not touch another, got %q", tok)
	}
}

func TestSQLiteStoreExpiresTokens(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSQLite(t, filepath.Join(t.TempDir(), "session.db"), "tab", time.Minute)

	base := time.Now()
	s.now = func() time.Time { return base }
	if err := s.Set(ctx, "stale"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	if tok, _ := s.Get(ctx); tok != "" {
		t.Fatalf("expected expired token to be hidden, got %q", tok)
	}

	deleted, err := s.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 expired row, got %d", deleted)
	}
}

type countingSweeper struct {
	calls atomic.Int32
}

func (c *countingSweeper) DeleteExpired(context.Context) (int64, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestStartSweeperStopsWithContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s := &countingSweeper{}
	StartSweeper(ctx, s, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for s.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.calls.Load() < 2 {
		t.Fatalf("expected sweeper to run repeatedly, got %d calls", s.calls.Load())
	}

	cancel()
	time.Sleep(20 * time.Millisecond)
	after := s.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if s.calls.Load() != after {
		t.Fatal("sweeper kept running after context cancellation")
	}
}

func TestDefaultScopeIsStable(t *testing.T) {
	if DefaultScope() != DefaultScope() {
		t.Fatal("expected default scope to be stable within a process")
	}
}
