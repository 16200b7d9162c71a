// Package client wires the connection, correlator, dispatcher and state
// mirror into one chat client with a command API.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/tbchat-client/internal/connection"
	"github.com/ashureev/tbchat-client/internal/correlator"
	"github.com/ashureev/tbchat-client/internal/dispatch"
	"github.com/ashureev/tbchat-client/internal/domain"
	"github.com/ashureev/tbchat-client/internal/protocol"
	"github.com/ashureev/tbchat-client/internal/session"
	"github.com/ashureev/tbchat-client/internal/state"
)

// ErrNotLoggedIn is returned by commands that need an identity.
var ErrNotLoggedIn = errors.New("not logged in")

// CommandError is a command the server answered with okay=false.
type CommandError struct {
	Cmd     string
	Message string
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return e.Cmd + " failed"
	}
	return fmt.Sprintf("%s failed: %s", e.Cmd, e.Message)
}

// Options configures a Client.
type Options struct {
	Connection     connection.Options
	RequestTimeout time.Duration
	SendRate       float64
	SendBurst      int
	MessageCap     int
	HistoryLimit   int
	Logger         *slog.Logger
}

// Client is an explicitly owned chat session. Create it with New, call Start
// to connect and Close to release it.
type Client struct {
	conn   *connection.Manager
	corr   *correlator.Correlator
	disp   *dispatch.Dispatcher
	state  *state.Reconciler
	logger *slog.Logger

	unsubscribe func()
}

// New assembles a client around tokens, which holds the session token.
func New(tokens session.Store, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Client{logger: opts.Logger}

	c.conn = connection.New(opts.Connection, tokens, connection.FrameHandlerFunc(func(data []byte) {
		c.disp.HandleFrame(data)
	}), opts.Logger.With("component", "connection"))

	c.corr = correlator.New(c.conn, correlator.Options{
		Timeout:   opts.RequestTimeout,
		SendRate:  opts.SendRate,
		SendBurst: opts.SendBurst,
		Logger:    opts.Logger.With("component", "correlator"),
	})

	c.state = state.New(c.corr, tokens, state.Options{
		MessageCap:   opts.MessageCap,
		HistoryLimit: opts.HistoryLimit,
		Logger:       opts.Logger.With("component", "state"),
	})

	c.disp = dispatch.New(c.corr, c.state, opts.Logger.With("component", "dispatch"))

	c.conn.SetProber(c.corr)
	c.unsubscribe = c.conn.Subscribe(c.state)
	return c
}

// Start loads the stored token and opens the connection. A failed first dial
// is returned, but the manager keeps retrying in the background.
func (c *Client) Start(ctx context.Context) error {
	if err := c.state.LoadToken(ctx); err != nil {
		return err
	}
	if err := c.conn.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Close disconnects and stops all background work. The mirror is closed
// first so an interrupted resumption keeps the stored token.
func (c *Client) Close() error {
	c.unsubscribe()
	c.state.Close()
	err := c.conn.Close()
	c.corr.Close()
	return err
}

// Connection exposes the connection manager for observers such as health checks.
func (c *Client) Connection() *connection.Manager { return c.conn }

// Reconnect resets the retry budget and dials again.
func (c *Client) Reconnect(ctx context.Context) error { return c.conn.Reconnect(ctx) }

// Disconnect closes the socket without clearing the session token.
func (c *Client) Disconnect() { c.conn.Disconnect() }

// State returns the connection state.
func (c *Client) State() domain.ConnectionState { return c.conn.State() }

// Snapshot returns a copy of the mirror.
func (c *Client) Snapshot() state.Snapshot { return c.state.Snapshot() }

// Subscribe returns mirror change notifications.
func (c *Client) Subscribe(buffer int) (<-chan state.Change, func()) {
	return c.state.Subscribe(buffer)
}

// Restoring reports whether a stored session is being resumed.
func (c *Client) Restoring() bool { return c.state.Restoring() }

// SetActive selects the current channel.
func (c *Client) SetActive(channelID string) error { return c.state.SetActive(channelID) }

// Stats returns frame routing counters.
func (c *Client) Stats() dispatch.Stats { return c.disp.Stats() }

// Pending returns the number of requests awaiting replies.
func (c *Client) Pending() int { return c.corr.Pending() }

func (c *Client) request(ctx context.Context, req protocol.Request, out any) error {
	resp, err := c.corr.Send(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", req.Command(), err)
	}
	if !resp.Okay {
		return &CommandError{Cmd: req.Command(), Message: resp.Error}
	}
	if out != nil {
		if err := resp.DecodeData(out); err != nil {
			return fmt.Errorf("%s: %w", req.Command(), err)
		}
	}
	return nil
}

func (c *Client) requireIdentity() error {
	if c.state.Identity() == nil {
		return ErrNotLoggedIn
	}
	return nil
}
