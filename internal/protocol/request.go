package protocol

import (
	"encoding/json"
	"fmt"
)

// Request is an outbound command. Command returns the value of the "cmd" field.
type Request interface {
	Command() string
}

// Command names.
const (
	CmdLogin        = "login"
	CmdLogout       = "logout"
	CmdQuit         = "quit"
	CmdJoin         = "join"
	CmdLeave        = "leave"
	CmdMessage      = "message"
	CmdNick         = "nick"
	CmdKick         = "kick"
	CmdTopic        = "topic"
	CmdMe           = "me"
	CmdAnnounce     = "announce"
	CmdHeartbeat    = "heartbeat"
	CmdListChannels = "list_channels"
	CmdMyChannels   = "my_channels"
	CmdGetHistory   = "get_history"
	CmdChannelUsers = "channel_users"
	CmdSessionInfo  = "session_info"
)

// EncodeRequest serializes r as a single frame carrying cmd and req_id next
// to the command specific fields.
func EncodeRequest(reqID string, r Request) ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", r.Command(), err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s request: %w", r.Command(), err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}

	cmd, _ := json.Marshal(r.Command())
	id, _ := json.Marshal(reqID)
	fields["cmd"] = cmd
	fields["req_id"] = id

	return json.Marshal(fields)
}

// LoginRequest authenticates with a nickname.
type LoginRequest struct {
	Nickname string `json:"nickname"`
}

// LogoutRequest ends the authenticated session but keeps the socket.
type LogoutRequest struct {
	DyingMessage string `json:"dying_message,omitempty"`
}

// QuitRequest ends the session and asks the server to drop it.
type QuitRequest struct {
	DyingMessage *string `json:"dying_message,omitempty"`
}

// JoinRequest joins a channel by name or id.
type JoinRequest struct {
	ChannelName string `json:"channel_name,omitempty"`
	ChannelID   ID     `json:"channel_id,omitempty"`
}

// LeaveRequest leaves a channel by name or id.
type LeaveRequest struct {
	ChannelName string `json:"channel_name,omitempty"`
	ChannelID   ID     `json:"channel_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// MessageRequest posts a chat message.
type MessageRequest struct {
	ChannelID ID     `json:"channel_id"`
	Message   string `json:"message"`
	IsPassive bool   `json:"is_passive"`
}

// NickRequest changes the local nickname.
type NickRequest struct {
	NewNickname string `json:"new_nickname"`
}

// KickRequest removes a member from a channel.
type KickRequest struct {
	UserID    ID     `json:"user_id"`
	ChannelID ID     `json:"channel_id"`
	Reason    string `json:"reason,omitempty"`
}

// TopicRequest sets a channel topic.
type TopicRequest struct {
	ChannelID ID     `json:"channel_id"`
	Topic     string `json:"topic"`
}

// MeRequest posts an action message.
type MeRequest struct {
	ChannelID ID     `json:"channel_id"`
	Message   string `json:"message"`
}

// AnnounceRequest posts an announcement to one channel, or to the whole
// server when ChannelID is nil.
type AnnounceRequest struct {
	ChannelID *ID    `json:"channel_id,omitempty"`
	Message   string `json:"message"`
}

// HeartbeatRequest is the keepalive probe.
type HeartbeatRequest struct{}

// ListChannelsRequest lists every channel on the server.
type ListChannelsRequest struct{}

// MyChannelsRequest lists the channels the session is a member of.
type MyChannelsRequest struct{}

// HistoryRequest pages through a channel's history.
type HistoryRequest struct {
	ChannelID ID     `json:"channel_id"`
	Before    *int64 `json:"before,omitempty"`
	After     *int64 `json:"after,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// ChannelUsersRequest fetches a channel roster.
type ChannelUsersRequest struct {
	ChannelID ID `json:"channel_id"`
}

// SessionInfoRequest asks the server what it knows about the current session.
type SessionInfoRequest struct{}

func (LoginRequest) Command() string        { return CmdLogin }
func (LogoutRequest) Command() string       { return CmdLogout }
func (QuitRequest) Command() string         { return CmdQuit }
func (JoinRequest) Command() string         { return CmdJoin }
func (LeaveRequest) Command() string        { return CmdLeave }
func (MessageRequest) Command() string      { return CmdMessage }
func (NickRequest) Command() string         { return CmdNick }
func (KickRequest) Command() string         { return CmdKick }
func (TopicRequest) Command() string        { return CmdTopic }
func (MeRequest) Command() string           { return CmdMe }
func (AnnounceRequest) Command() string     { return CmdAnnounce }
func (HeartbeatRequest) Command() string    { return CmdHeartbeat }
func (ListChannelsRequest) Command() string { return CmdListChannels }
func (MyChannelsRequest) Command() string   { return CmdMyChannels }
func (HistoryRequest) Command() string      { return CmdGetHistory }
func (ChannelUsersRequest) Command() string { return CmdChannelUsers }
func (SessionInfoRequest) Command() string  { return CmdSessionInfo }
