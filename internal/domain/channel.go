package domain

// Channel is a chat channel known to the client.
type Channel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Topic     string `json:"topic"`
	UserCount int    `json:"user_count,omitempty"`
}

// ServerScope is the pseudo channel id used for records that do not belong
// to any channel, such as server-wide announcements.
const ServerScope = "server"
