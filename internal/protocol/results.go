package protocol

// ChannelInfo describes a channel in list and session replies.
type ChannelInfo struct {
	ID        ID     `json:"id"`
	Name      string `json:"name"`
	Topic     string `json:"topic"`
	UserCount int    `json:"user_count,omitempty"`
}

// ChannelUser is a roster entry as sent by the server.
type ChannelUser struct {
	ID       ID     `json:"id"`
	Nickname string `json:"nickname"`
	IsServ   bool   `json:"is_serv"`
	IsOp     bool   `json:"is_op"`
}

// LoginResult is the payload of a successful login reply.
type LoginResult struct {
	UserID    ID     `json:"user_id"`
	Nickname  string `json:"nickname"`
	SessionID string `json:"session_id"`
}

// JoinResult is the payload of a successful join reply.
type JoinResult struct {
	ChannelID   ID     `json:"channel_id"`
	ChannelName string `json:"channel_name"`
}

// LeaveResult is the payload of a successful leave reply.
type LeaveResult struct {
	ChannelID   ID     `json:"channel_id"`
	ChannelName string `json:"channel_name"`
}

// NickResult is the payload of a successful nick reply.
type NickResult struct {
	UserID      ID     `json:"user_id"`
	OldNickname string `json:"old_nickname"`
	NewNickname string `json:"new_nickname"`
}

// TopicResult is the payload of a successful topic reply.
type TopicResult struct {
	ChannelID ID     `json:"channel_id"`
	Topic     string `json:"topic"`
}

// ChannelsResult is the payload of list_channels and my_channels replies.
type ChannelsResult struct {
	Channels []ChannelInfo `json:"channels"`
}

// HistoryResult is the payload of a get_history reply. Each entry is itself
// a message or event frame.
type HistoryResult struct {
	Messages []RawFrame `json:"messages"`
	HasMore  bool       `json:"has_more"`
}

// ChannelUsersResult is the payload of a channel_users reply.
type ChannelUsersResult struct {
	Users []ChannelUser `json:"users"`
}

// SessionInfoResult is the payload of a session_info reply.
type SessionInfoResult struct {
	SessionID string        `json:"session_id"`
	UserID    ID            `json:"user_id"`
	Nickname  string        `json:"nickname"`
	IsServ    bool          `json:"is_serv"`
	Channels  []ChannelInfo `json:"channels"`
}

// HeartbeatResult is the payload of a heartbeat reply.
type HeartbeatResult struct {
	Timestamp int64 `json:"timestamp"`
}

// RawFrame is an undecoded frame embedded in another payload.
type RawFrame []byte

// UnmarshalJSON implements json.Unmarshaler.
func (f *RawFrame) UnmarshalJSON(data []byte) error {
	*f = append((*f)[0:0], data...)
	return nil
}

// Decode parses the embedded frame.
func (f RawFrame) Decode() (Frame, error) {
	return Decode(f)
}
