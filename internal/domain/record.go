package domain

import (
	"time"
)

// RecordKind classifies how a record is displayed.
type RecordKind string

const (
	// RecordMessage is an ordinary chat message.
	RecordMessage RecordKind = "message"
	// RecordAction is a passive "/me" style message.
	RecordAction RecordKind = "action"
	// RecordEvent is a display-only system event.
	RecordEvent RecordKind = "event"
)

// Record is one entry of a channel's message list.
type Record struct {
	ID        string     `json:"id"`
	ChannelID string     `json:"channel_id"`
	UserID    string     `json:"user_id"`
	Nickname  string     `json:"nickname"`
	Text      string     `json:"message"`
	Kind      RecordKind `json:"kind"`
	Event     string     `json:"event"`
	SentAt    time.Time  `json:"sent_at"`
}

// IsPassive reports whether the record renders as a passive line.
func (r Record) IsPassive() bool {
	return r.Kind != RecordMessage
}
