package state

import (
	"log/slog"
	"sync"
)

// ChangeKind names the part of the mirror that changed.
type ChangeKind string

const (
	ChangeConnection   ChangeKind = "connection"
	ChangeSession      ChangeKind = "session"
	ChangeIdentity     ChangeKind = "identity"
	ChangeChannels     ChangeKind = "channels"
	ChangeAvailable    ChangeKind = "available"
	ChangeActive       ChangeKind = "active"
	ChangeMessages     ChangeKind = "messages"
	ChangeRoster       ChangeKind = "roster"
	ChangeServerEvents ChangeKind = "server_events"
	ChangeReset        ChangeKind = "reset"
)

// Change notifies a subscriber that the mirror moved to Version.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	ChannelID string     `json:"channel_id,omitempty"`
	Version   uint64     `json:"version"`
}

const defaultSubscriberBuffer = 64

// broadcaster fans changes out to subscriber channels without blocking the
// publisher. A full subscriber loses its oldest pending change.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Change
	nextID int
	closed bool
	logger *slog.Logger
}

func newBroadcaster(logger *slog.Logger) *broadcaster {
	return &broadcaster{subs: make(map[int]chan Change), logger: logger}
}

func (b *broadcaster) subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Change, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

func (b *broadcaster) publish(c Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- c:
			continue
		default:
		}

		// Full: drop the oldest pending change to make room.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- c:
		default:
			b.logger.Warn("Subscriber queue full, change dropped", "subscriber", id, "kind", c.Kind)
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
