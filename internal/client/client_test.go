package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/tbchat-client/internal/connection"
	"github.com/ashureev/tbchat-client/internal/correlator"
	"github.com/ashureev/tbchat-client/internal/domain"
	"github.com/ashureev/tbchat-client/internal/session"
)

func newTestClient(t *testing.T, srv *chatServer, tokens session.Store) *Client {
	t.Helper()
	c := New(tokens, Options{
		Connection:     connection.Options{URL: srv.wsURL(), KeepaliveInterval: -1},
		RequestTimeout: 2 * time.Second,
	})
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLoginStoresSessionToken(t *testing.T) {
	srv := newChatServer(t)
	tokens := session.NewMemoryStore()
	c := newTestClient(t, srv, tokens)

	id, err := c.Login(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if id.ID != "1" || id.Nickname != "alice" {
		t.Fatalf("identity = %+v", id)
	}
	if token, _ := tokens.Get(context.Background()); token != "sess-1" {
		t.Fatalf("token = %q, want sess-1", token)
	}
}

func TestJoinMakesChannelActive(t *testing.T) {
	srv := newChatServer(t)
	c := newTestClient(t, srv, session.NewMemoryStore())
	ctx := context.Background()

	if _, err := c.Login(ctx, "alice"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	ch, err := c.Join(ctx, "general")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if ch.ID != "42" || ch.Name != "general" {
		t.Fatalf("channel = %+v, want 42/general", ch)
	}

	s := c.Snapshot()
	if s.ActiveChannel != "42" {
		t.Fatalf("ActiveChannel = %q, want 42", s.ActiveChannel)
	}
	msgs := s.Messages["42"]
	if len(msgs) != 1 || msgs[0].Text != "earlier" {
		t.Fatalf("records = %+v, want fetched history only", msgs)
	}
	if len(s.Rosters["42"]) != 1 || s.Rosters["42"][0].Nickname != "alice" {
		t.Fatalf("roster = %+v", s.Rosters["42"])
	}
}

func TestSendMessageIsEchoedIntoMirror(t *testing.T) {
	srv := newChatServer(t)
	c := newTestClient(t, srv, session.NewMemoryStore())
	ctx := context.Background()

	if _, err := c.Login(ctx, "alice"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := c.Join(ctx, "general"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if err := c.SendMessage(ctx, "42", "hello"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	waitFor(t, "echoed message", func() bool {
		msgs := c.Snapshot().Messages["42"]
		return len(msgs) == 2 && msgs[1].Text == "hello" && msgs[1].Nickname == "alice"
	})
	if stats := c.Stats(); stats.Messages == 0 || stats.Responses == 0 {
		t.Fatalf("Stats() = %+v", stats)
	}
}

func TestSessionResumesInNewClient(t *testing.T) {
	srv := newChatServer(t)
	tokens := session.NewMemoryStore()
	ctx := context.Background()

	first := New(tokens, Options{Connection: connection.Options{URL: srv.wsURL(), KeepaliveInterval: -1}})
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := first.Login(ctx, "alice"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := first.Join(ctx, "general"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	_ = first.Close()

	second := newTestClient(t, srv, tokens)
	waitFor(t, "resumed identity and channel", func() bool {
		s := second.Snapshot()
		return s.Identity != nil && s.Identity.Nickname == "alice" &&
			s.ActiveChannel == "42" && len(s.Messages["42"]) == 1 && len(s.Rosters["42"]) == 1
	})
	if second.Restoring() {
		t.Fatal("Restoring() = true after resumption finished")
	}
}

func TestUnknownTokenIsCleared(t *testing.T) {
	srv := newChatServer(t)
	tokens := session.NewMemoryStore()
	_ = tokens.Set(context.Background(), "bogus")

	c := newTestClient(t, srv, tokens)
	waitFor(t, "token cleared", func() bool {
		token, _ := tokens.Get(context.Background())
		return token == ""
	})
	if c.Snapshot().Identity != nil {
		t.Fatal("identity restored from an unknown token")
	}
}

func TestQuitClearsSessionAndDisconnects(t *testing.T) {
	srv := newChatServer(t)
	tokens := session.NewMemoryStore()
	c := newTestClient(t, srv, tokens)
	ctx := context.Background()

	if _, err := c.Login(ctx, "alice"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := c.Quit(ctx, nil); err != nil {
		t.Fatalf("Quit() error = %v", err)
	}

	if token, _ := tokens.Get(ctx); token != "" {
		t.Fatalf("token = %q after quit", token)
	}
	if c.State() != domain.StateDisconnected {
		t.Fatalf("State() = %v, want disconnected", c.State())
	}
}

func TestNickUpdatesIdentity(t *testing.T) {
	srv := newChatServer(t)
	c := newTestClient(t, srv, session.NewMemoryStore())
	ctx := context.Background()

	if _, err := c.Login(ctx, "alice"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := c.Nick(ctx, "alicia"); err != nil {
		t.Fatalf("Nick() error = %v", err)
	}
	if id := c.Snapshot().Identity; id == nil || id.Nickname != "alicia" {
		t.Fatalf("identity = %+v", id)
	}
}

func TestCommandErrors(t *testing.T) {
	srv := newChatServer(t)
	c := newTestClient(t, srv, session.NewMemoryStore())
	ctx := context.Background()

	if err := c.Nick(ctx, "bob"); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Nick() before login error = %v, want ErrNotLoggedIn", err)
	}

	if _, err := c.Login(ctx, "alice"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	err := c.Kick(ctx, "42", "7", "")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("Kick() error = %v, want *CommandError", err)
	}
	if cmdErr.Cmd != "kick" || cmdErr.Message != "Unknown command" {
		t.Fatalf("CommandError = %+v", cmdErr)
	}
}

func TestHeartbeat(t *testing.T) {
	srv := newChatServer(t)
	c := newTestClient(t, srv, session.NewMemoryStore())
	if err := c.Heartbeat(context.Background()); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
}

func TestCloseDuringResumptionKeepsToken(t *testing.T) {
	srv := newSilentServer(t)
	tokens := session.NewMemoryStore()
	ctx := context.Background()
	_ = tokens.Set(ctx, "sess-keep")

	c := New(tokens, Options{
		Connection:     connection.Options{URL: srv.wsURL(), KeepaliveInterval: -1},
		RequestTimeout: 10 * time.Second,
	})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "session_info in flight", func() bool { return c.Pending() == 1 })
	if !c.Restoring() {
		t.Fatal("Restoring() = false while session_info is pending")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if token, _ := tokens.Get(ctx); token != "sess-keep" {
		t.Fatalf("token after Close = %q, want sess-keep", token)
	}
}

type manualScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

type manualTimer struct{}

func (manualTimer) Stop() bool { return true }

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) connection.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	s.fns = append(s.fns, f)
	return manualTimer{}
}

func (s *manualScheduler) scheduled() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func (s *manualScheduler) fire(t *testing.T, i int) {
	t.Helper()
	s.mu.Lock()
	if i >= len(s.fns) {
		s.mu.Unlock()
		t.Fatalf("timer %d was never scheduled", i)
	}
	f := s.fns[i]
	s.mu.Unlock()
	f()
}

type transitionLog struct {
	mu     sync.Mutex
	states []domain.ConnectionState
}

func (l *transitionLog) StateChanged(t connection.Transition) {
	l.mu.Lock()
	l.states = append(l.states, t.To)
	l.mu.Unlock()
}

func (l *transitionLog) snapshot() []domain.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ConnectionState(nil), l.states...)
}

func TestPendingRequestsTimeOutAcrossAbnormalClose(t *testing.T) {
	srv := newSilentServer(t)
	sched := &manualScheduler{}
	ctx := context.Background()

	c := New(session.NewMemoryStore(), Options{
		Connection: connection.Options{
			URL:               srv.wsURL(),
			KeepaliveInterval: -1,
			Scheduler:         sched,
		},
		RequestTimeout: 300 * time.Millisecond,
	})
	t.Cleanup(func() { _ = c.Close() })

	log := &transitionLog{}
	unsubscribe := c.Connection().Subscribe(log)
	defer unsubscribe()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	errs := make(chan error, 2)
	go func() {
		_, err := c.SessionInfo(ctx)
		errs <- err
	}()
	go func() { errs <- c.Heartbeat(ctx) }()
	waitFor(t, "two pending requests", func() bool { return c.Pending() == 2 })

	srv.dropAll(true)
	waitFor(t, "first retry scheduled", func() bool { return len(sched.scheduled()) == 1 })

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, correlator.ErrRequestTimeout) {
				t.Fatalf("request %d error = %v, want ErrRequestTimeout", i, err)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("request %d never completed", i)
		}
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending() = %d after timeouts", c.Pending())
	}

	sched.fire(t, 0)
	waitFor(t, "second retry scheduled", func() bool { return len(sched.scheduled()) == 2 })

	want := []time.Duration{time.Second, 2 * time.Second}
	got := sched.scheduled()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delays = %v, want %v", got, want)
		}
	}

	waitFor(t, "transitions delivered", func() bool {
		return len(log.snapshot()) >= 6
	})
	wantStates := []domain.ConnectionState{
		domain.StateConnecting, domain.StateConnected,
		domain.StateError, domain.StateReconnecting,
		domain.StateConnecting, domain.StateError,
	}
	states := log.snapshot()
	for i, st := range wantStates {
		if states[i] != st {
			t.Fatalf("transitions = %v, want prefix %v", states, wantStates)
		}
	}
}
