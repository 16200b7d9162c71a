package connection

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

// Defaults applied by New when an option is left zero.
const (
	DefaultURL               = "ws://localhost:8080/ws"
	DefaultBaseDelay         = time.Second
	DefaultMaxAttempts       = 5
	DefaultKeepaliveInterval = 25 * time.Second
	DefaultDialTimeout       = 10 * time.Second
	DefaultReadLimit         = 1 << 20
)

// Options configures a Manager.
type Options struct {
	URL               string
	BaseDelay         time.Duration
	MaxAttempts       int
	KeepaliveInterval time.Duration
	DialTimeout       time.Duration
	ReadLimit         int64
	DialOptions       *websocket.DialOptions

	// Scheduler arms reconnect timers. Tests replace it to observe delays.
	Scheduler Scheduler
}

func (o Options) withDefaults() Options {
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.KeepaliveInterval == 0 {
		o.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.Scheduler == nil {
		o.Scheduler = realScheduler{}
	}
	return o
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// TokenSource supplies the session token attached to each dial.
type TokenSource interface {
	Get(ctx context.Context) (string, error)
}

// FrameHandler receives every inbound frame in arrival order.
type FrameHandler interface {
	HandleFrame(data []byte)
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(data []byte)

// HandleFrame calls f(data).
func (f FrameHandlerFunc) HandleFrame(data []byte) { f(data) }

// Prober sends the keepalive request.
type Prober interface {
	Probe(ctx context.Context) error
}
