package domain

// ConnectionState is the lifecycle state of the chat connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
)

// String implements fmt.Stringer.
func (s ConnectionState) String() string {
	return string(s)
}

// InFlight reports whether a connection attempt is underway or scheduled.
func (s ConnectionState) InFlight() bool {
	return s == StateConnecting || s == StateReconnecting
}
