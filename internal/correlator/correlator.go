// Package correlator matches outbound requests to their asynchronous replies.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tbchat-client/internal/protocol"
	"golang.org/x/time/rate"
)

// DefaultTimeout is how long a request waits for its reply.
const DefaultTimeout = 10 * time.Second

var (
	// ErrNotConnected is returned when no connection is open to write to.
	ErrNotConnected = errors.New("websocket is not connected")
	// ErrRequestTimeout is returned when no reply arrived in time.
	ErrRequestTimeout = errors.New("request timeout")
	// ErrClosed is returned for requests still pending when the correlator closes.
	ErrClosed = errors.New("correlator closed")
)

// Transport writes encoded frames to the active connection.
type Transport interface {
	Ready() bool
	Write(ctx context.Context, data []byte) error
}

type result struct {
	resp *protocol.Response
	err  error
}

type pending struct {
	cmd   string
	done  chan result
	timer *time.Timer
}

// Options configures a Correlator.
type Options struct {
	Timeout time.Duration
	// SendRate limits outbound requests per second; zero disables limiting.
	SendRate  float64
	SendBurst int
	Logger    *slog.Logger
}

// Correlator assigns request ids, tracks pending replies and resolves each
// of them exactly once.
type Correlator struct {
	transport Transport
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]*pending
	counter uint64
	closed  bool

	now func() time.Time
}

// New creates a Correlator writing through transport.
func New(transport Transport, opts Options) *Correlator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.SendRate > 0 {
		burst := opts.SendBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.SendRate), burst)
	}

	return &Correlator{
		transport: transport,
		timeout:   opts.Timeout,
		limiter:   limiter,
		logger:    opts.Logger,
		pending:   make(map[string]*pending),
		now:       time.Now,
	}
}

// Send writes req and waits for the matching reply. The returned response
// may carry okay=false; transport failures, timeouts and cancellation of ctx
// are returned as errors.
func (c *Correlator) Send(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	if !c.transport.Ready() {
		return nil, ErrNotConnected
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", req.Command(), err)
	}

	reqID, entry, err := c.register(req.Command())
	if err != nil {
		return nil, err
	}

	frame, err := protocol.EncodeRequest(reqID, req)
	if err != nil {
		c.reject(reqID, err)
		return nil, err
	}

	// The transport may have dropped while we waited on the limiter.
	if !c.transport.Ready() {
		c.reject(reqID, ErrNotConnected)
	} else if err := c.transport.Write(ctx, frame); err != nil {
		c.reject(reqID, fmt.Errorf("write %s request: %w", req.Command(), err))
	}

	select {
	case res := <-entry.done:
		return res.resp, res.err
	case <-ctx.Done():
		c.reject(reqID, ctx.Err())
		res := <-entry.done
		return res.resp, res.err
	}
}

func (c *Correlator) register(cmd string) (string, *pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", nil, ErrClosed
	}

	c.counter++
	reqID := fmt.Sprintf("req_%d_%d", c.counter, c.now().UnixMilli())
	entry := &pending{cmd: cmd, done: make(chan result, 1)}
	entry.timer = time.AfterFunc(c.timeout, func() {
		if c.reject(reqID, ErrRequestTimeout) {
			c.logger.Warn("Request timed out", "req_id", reqID, "cmd", cmd)
		}
	})
	c.pending[reqID] = entry
	return reqID, entry, nil
}

// Resolve delivers resp to the request it answers. It returns false when no
// request with that id is pending, so the caller can treat it as unsolicited.
func (c *Correlator) Resolve(resp *protocol.Response) bool {
	if resp == nil || resp.ReqID == "" {
		return false
	}

	c.mu.Lock()
	entry, ok := c.pending[resp.ReqID]
	if ok {
		delete(c.pending, resp.ReqID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	entry.timer.Stop()
	entry.done <- result{resp: resp}
	return true
}

// reject completes a pending request with err. It reports whether the
// request was still pending.
func (c *Correlator) reject(reqID string, err error) bool {
	c.mu.Lock()
	entry, ok := c.pending[reqID]
	if ok {
		delete(c.pending, reqID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	entry.timer.Stop()
	entry.done <- result{err: err}
	return true
}

// Pending returns the number of requests awaiting a reply.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Probe sends a heartbeat request. It satisfies the connection keepalive hook.
func (c *Correlator) Probe(ctx context.Context) error {
	resp, err := c.Send(ctx, protocol.HeartbeatRequest{})
	if err != nil {
		return err
	}
	return resp.Err()
}

// Close rejects every pending request and refuses new ones.
func (c *Correlator) Close() {
	c.mu.Lock()
	c.closed = true
	entries := c.pending
	c.pending = make(map[string]*pending)
	c.mu.Unlock()

	for _, entry := range entries {
		entry.timer.Stop()
		entry.done <- result{err: ErrClosed}
	}
}
