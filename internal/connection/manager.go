// Package connection owns the single WebSocket to the chat server: dialing,
// the read loop, keepalive and reconnection with capped exponential backoff.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/ashureev/tbchat-client/internal/domain"
	"github.com/coder/websocket"
)

var (
	// ErrNotConnected is returned by Write when no socket is open.
	ErrNotConnected = errors.New("connection is not open")
	// ErrRetryBudgetExhausted is wrapped by LastError once automatic
	// reconnection has given up.
	ErrRetryBudgetExhausted = errors.New("reconnect attempts exhausted")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("connection manager closed")
)

// Manager is the connection lifecycle state machine.
type Manager struct {
	opts    Options
	tokens  TokenSource
	handler FrameHandler
	logger  *slog.Logger
	notify  *notifier

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu         sync.Mutex
	state      domain.ConnectionState
	lastErr    error
	conn       *websocket.Conn
	connCancel context.CancelFunc
	prober     Prober
	retry      Timer
	attempts   int
	gen        uint64
	closed     bool
	closeOnce  sync.Once
}

// New creates a Manager in the disconnected state. tokens may be nil.
func New(opts Options, tokens TokenSource, handler FrameHandler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if handler == nil {
		handler = FrameHandlerFunc(func([]byte) {})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:       opts.withDefaults(),
		tokens:     tokens,
		handler:    handler,
		logger:     logger,
		notify:     newNotifier(),
		baseCtx:    ctx,
		baseCancel: cancel,
		state:      domain.StateDisconnected,
	}
}

// SetProber installs the keepalive probe. It applies to connections opened afterwards
// and to the ticks of the current one.
func (m *Manager) SetProber(p Prober) {
	m.mu.Lock()
	m.prober = p
	m.mu.Unlock()
}

// Subscribe registers l for state changes and returns a function that removes it.
func (m *Manager) Subscribe(l StateListener) func() {
	return m.notify.subscribe(l)
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the error behind the most recent transition into error,
// or nil once a connection opened.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Attempts returns the number of consecutive automatic retries made so far.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Ready reports whether requests can be written.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == domain.StateConnected && m.conn != nil
}

// Connect opens the socket. It is a no-op while a connection is open or a
// dial is already in flight. A failed dial moves to error and schedules a retry;
// the dial error is also returned.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == domain.StateConnecting || m.state == domain.StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.stopRetryLocked()
	gen := m.beginAttemptLocked()
	m.mu.Unlock()

	return m.dial(ctx, gen)
}

// Reconnect resets the retry budget and dials immediately unless a
// connection is already open or in flight.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.attempts = 0
	m.mu.Unlock()

	m.logger.Info("Manual reconnect requested")
	return m.Connect(ctx)
}

// Disconnect closes the socket normally, cancels keepalive and any pending
// retry, and moves to disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn, cancel := m.teardownLocked()
	m.attempts = 0
	m.lastErr = nil
	m.setStateLocked(domain.StateDisconnected, nil)
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "User initiated disconnect"); err != nil {
			m.logger.Debug("Close after disconnect", "error", err)
		}
	}
	if cancel != nil {
		cancel()
	}
}

// Close disconnects and releases the manager. It is safe to call more than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.Disconnect()
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		m.baseCancel()
		m.notify.close()
	})
	return nil
}

// Write sends one text frame on the open socket.
func (m *Manager) Write(ctx context.Context, data []byte) error {
	m.mu.Lock()
	conn := m.conn
	ready := m.state == domain.StateConnected
	m.mu.Unlock()

	if conn == nil || !ready {
		return ErrNotConnected
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (m *Manager) beginAttemptLocked() uint64 {
	m.gen++
	m.lastErr = nil
	m.setStateLocked(domain.StateConnecting, nil)
	return m.gen
}

func (m *Manager) dial(ctx context.Context, gen uint64) error {
	target, err := m.target(ctx)
	if err != nil {
		m.fail(gen, err)
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	conn, resp, err := websocket.Dial(dialCtx, target, m.opts.DialOptions)
	cancel()
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("dial %s (status: %s): %w", m.opts.URL, resp.Status, err)
		} else {
			err = fmt.Errorf("dial %s: %w", m.opts.URL, err)
		}
		m.fail(gen, err)
		return err
	}
	conn.SetReadLimit(m.opts.ReadLimit)

	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		return nil
	}
	connCtx, connCancel := context.WithCancel(m.baseCtx)
	m.conn = conn
	m.connCancel = connCancel
	m.attempts = 0
	m.lastErr = nil
	m.setStateLocked(domain.StateConnected, nil)
	m.mu.Unlock()

	m.logger.Info("Connected to chat server", "url", m.opts.URL)

	go m.readLoop(connCtx, conn, gen)
	if m.opts.KeepaliveInterval > 0 {
		go m.keepalive(connCtx, gen)
	}
	return nil
}

func (m *Manager) target(ctx context.Context) (string, error) {
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", m.opts.URL, err)
	}
	if m.tokens == nil {
		return u.String(), nil
	}

	token, err := m.tokens.Get(ctx)
	if err != nil {
		m.logger.Warn("Failed to read session token, connecting without it", "error", err)
		return u.String(), nil
	}
	if token != "" {
		q := u.Query()
		q.Set("session_id", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		m.handler.HandleFrame(data)
	}
}

// handleClose handles the end of the read loop for connection gen.
func (m *Manager) handleClose(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A newer attempt or an explicit disconnect already owns the state.
	if gen != m.gen {
		return
	}
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	m.conn = nil

	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		m.logger.Info("Connection closed normally")
		m.setStateLocked(domain.StateDisconnected, nil)
		return
	}

	m.logger.Warn("Connection lost", "status", int(status), "error", err)
	m.lastErr = fmt.Errorf("connection lost: %w", err)
	m.setStateLocked(domain.StateError, m.lastErr)
	m.scheduleRetryLocked()
}

func (m *Manager) fail(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return
	}
	m.logger.Warn("Connection attempt failed", "attempt", m.attempts, "error", err)
	m.lastErr = err
	m.setStateLocked(domain.StateError, err)
	m.scheduleRetryLocked()
}

func (m *Manager) scheduleRetryLocked() {
	if m.closed {
		return
	}
	if m.attempts >= m.opts.MaxAttempts {
		m.lastErr = fmt.Errorf("%w after %d attempts: %w", ErrRetryBudgetExhausted, m.attempts, m.lastErr)
		m.logger.Error("Max reconnection attempts reached", "attempts", m.attempts)
		return
	}

	delay := m.opts.BaseDelay * time.Duration(1<<m.attempts)
	m.setStateLocked(domain.StateReconnecting, m.lastErr)
	m.logger.Info("Scheduling reconnect", "delay_ms", delay.Milliseconds(), "attempt", m.attempts+1)

	gen := m.gen
	m.retry = m.opts.Scheduler.AfterFunc(delay, func() {
		m.retryNow(gen)
	})
}

func (m *Manager) retryNow(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.gen || m.state != domain.StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	m.attempts++
	next := m.beginAttemptLocked()
	m.mu.Unlock()

	_ = m.dial(m.baseCtx, next)
}

func (m *Manager) keepalive(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(m.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		prober := m.prober
		live := gen == m.gen && m.state == domain.StateConnected
		m.mu.Unlock()
		if prober == nil || !live {
			continue
		}

		if err := prober.Probe(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("Heartbeat failed", "error", err)
		}
	}
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

// teardownLocked invalidates the current generation and detaches the socket.
// The caller closes the returned conn, then cancels its loops, after
// releasing the lock.
func (m *Manager) teardownLocked() (*websocket.Conn, context.CancelFunc) {
	m.gen++
	m.stopRetryLocked()
	conn, cancel := m.conn, m.connCancel
	m.conn = nil
	m.connCancel = nil
	return conn, cancel
}

func (m *Manager) setStateLocked(next domain.ConnectionState, err error) {
	if m.state == next {
		return
	}
	prev := m.state
	m.state = next
	m.notify.publish(Transition{From: prev, To: next, Err: err, At: time.Now()})
}
