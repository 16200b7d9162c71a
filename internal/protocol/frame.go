package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame type discriminators.
const (
	TypeResponse = "response"
	TypeMessage  = "message"
	TypeEvent    = "event"
)

// Event kinds carried by event frames.
const (
	EventJoined       = "joined"
	EventLeft         = "left"
	EventNickChange   = "nick_change"
	EventKicked       = "kicked"
	EventTopicChange  = "topic_change"
	EventAnnouncement = "announcement"
)

var errMissingType = errors.New("frame has no type")

// Frame is an inbound frame. The set of implementations is closed:
// *Response, *ChatMessage, *ChatEvent and *Unknown.
type Frame interface {
	frameType() string
}

// Response is the reply correlated to a request by ReqID.
type Response struct {
	ReqID string          `json:"req_id"`
	Okay  bool            `json:"okay"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ChatMessage is a pushed chat message.
type ChatMessage struct {
	ChannelID ID     `json:"channel_id"`
	UserID    ID     `json:"user_id"`
	Nickname  string `json:"nickname"`
	Message   string `json:"message"`
	IsPassive bool   `json:"is_passive"`
	SentAt    string `json:"sent_at"`
}

// ChatEvent is a pushed channel or user state transition.
type ChatEvent struct {
	ChannelID   ID      `json:"channel_id,omitempty"`
	Event       string  `json:"event"`
	UserID      ID      `json:"user_id,omitempty"`
	Nickname    string  `json:"nickname,omitempty"`
	SentAt      string  `json:"sent_at"`
	Message     string  `json:"message,omitempty"`
	OldNickname string  `json:"old_nickname,omitempty"`
	NewNickname string  `json:"new_nickname,omitempty"`
	Topic       *string `json:"topic,omitempty"`
	KickedBy    string  `json:"kicked_by,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// Unknown is a well-formed frame with a discriminator this client does not handle.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (*Response) frameType() string    { return TypeResponse }
func (*ChatMessage) frameType() string { return TypeMessage }
func (*ChatEvent) frameType() string   { return TypeEvent }
func (u *Unknown) frameType() string   { return u.Type }

// TypeOf returns the discriminator of a decoded frame.
func TypeOf(f Frame) string {
	if f == nil {
		return ""
	}
	return f.frameType()
}

// Err returns the reply's error as a Go error, or nil when okay is set.
func (r *Response) Err() error {
	if r.Okay {
		return nil
	}
	if r.Error == "" {
		return errors.New("request failed")
	}
	return errors.New(r.Error)
}

// DecodeData unmarshals the reply payload into v. An absent payload leaves v untouched.
func (r *Response) DecodeData(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

type envelope struct {
	Type string `json:"type"`
}

// Decode parses one inbound frame. Malformed JSON and frames without a type
// return an error; unrecognised types decode to *Unknown.
func Decode(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch env.Type {
	case TypeResponse:
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("decode response frame: %w", err)
		}
		return &resp, nil
	case TypeMessage:
		var msg ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode message frame: %w", err)
		}
		return &msg, nil
	case TypeEvent:
		var ev ChatEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode event frame: %w", err)
		}
		return &ev, nil
	case "":
		return nil, errMissingType
	default:
		return &Unknown{Type: env.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
