// Package dispatch routes inbound frames to the correlator or the state mirror.
package dispatch

import (
	"log/slog"
	"sync/atomic"

	"github.com/ashureev/tbchat-client/internal/protocol"
)

// Resolver completes pending requests.
type Resolver interface {
	Resolve(resp *protocol.Response) bool
}

// Applier receives pushed frames and replies nobody was waiting for.
type Applier interface {
	ApplyMessage(msg *protocol.ChatMessage)
	ApplyEvent(ev *protocol.ChatEvent)
	ApplyUnsolicited(resp *protocol.Response)
}

// Stats counts frames by how they were routed.
type Stats struct {
	Responses uint64 `json:"responses"`
	Unmatched uint64 `json:"unmatched"`
	Messages  uint64 `json:"messages"`
	Events    uint64 `json:"events"`
	Unknown   uint64 `json:"unknown"`
	Malformed uint64 `json:"malformed"`
}

// Dispatcher classifies frames by their type discriminator.
type Dispatcher struct {
	resolver Resolver
	applier  Applier
	logger   *slog.Logger

	responses atomic.Uint64
	unmatched atomic.Uint64
	messages  atomic.Uint64
	events    atomic.Uint64
	unknown   atomic.Uint64
	malformed atomic.Uint64
}

// New creates a Dispatcher.
func New(resolver Resolver, applier Applier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{resolver: resolver, applier: applier, logger: logger}
}

// HandleFrame decodes and routes one frame. It never panics on bad input.
func (d *Dispatcher) HandleFrame(data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		d.malformed.Add(1)
		d.logger.Warn("Dropping malformed frame", "error", err, "size", len(data))
		return
	}

	switch f := frame.(type) {
	case *protocol.Response:
		d.responses.Add(1)
		if d.resolver != nil && d.resolver.Resolve(f) {
			return
		}
		d.unmatched.Add(1)
		d.applier.ApplyUnsolicited(f)
	case *protocol.ChatMessage:
		d.messages.Add(1)
		d.applier.ApplyMessage(f)
	case *protocol.ChatEvent:
		d.events.Add(1)
		d.applier.ApplyEvent(f)
	case *protocol.Unknown:
		d.unknown.Add(1)
		d.logger.Warn("Dropping frame of unknown type", "type", f.Type)
	}
}

// Stats returns a snapshot of the routing counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Responses: d.responses.Load(),
		Unmatched: d.unmatched.Load(),
		Messages:  d.messages.Load(),
		Events:    d.events.Load(),
		Unknown:   d.unknown.Load(),
		Malformed: d.malformed.Load(),
	}
}
