package state

import "github.com/ashureev/tbchat-client/internal/domain"

// Snapshot is a deep copy of the mirror at one version.
type Snapshot struct {
	Version       uint64                     `json:"version"`
	Connection    domain.ConnectionState     `json:"connection"`
	LastError     string                     `json:"last_error,omitempty"`
	HasSession    bool                       `json:"has_session"`
	Restoring     bool                       `json:"restoring"`
	Identity      *domain.Identity           `json:"identity"`
	ActiveChannel string                     `json:"active_channel,omitempty"`
	Channels      map[string]domain.Channel  `json:"channels"`
	Available     []domain.Channel           `json:"available"`
	Messages      map[string][]domain.Record `json:"messages"`
	Rosters       map[string][]domain.Member `json:"rosters"`
	ServerEvents  []domain.Record            `json:"server_events"`
}

// Snapshot returns a copy of the mirror that is safe to read and retain.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Version:       r.version,
		Connection:    r.conn,
		LastError:     r.lastErr,
		HasSession:    r.hasToken,
		Restoring:     r.restoringLocked(),
		ActiveChannel: r.active,
		Channels:      make(map[string]domain.Channel, len(r.channels)),
		Available:     append([]domain.Channel(nil), r.available...),
		Messages:      make(map[string][]domain.Record, len(r.windows)),
		Rosters:       make(map[string][]domain.Member, len(r.rosters)),
		ServerEvents:  r.server.records(),
	}
	if r.identity != nil {
		id := *r.identity
		s.Identity = &id
	}
	for id, ch := range r.channels {
		s.Channels[id] = ch
	}
	for id, w := range r.windows {
		s.Messages[id] = w.records()
	}
	for id, members := range r.rosters {
		s.Rosters[id] = append([]domain.Member(nil), members...)
	}
	return s
}

// Restoring reports whether a stored session is being resumed: a token is
// present, no identity is established, the connection is not in error, and
// either a connection attempt is underway or resumption has not finished.
// The error clause is deliberately narrower than "token without identity":
// once the retry budget is spent nothing is being restored until the user
// reconnects, so callers should show the error rather than a loading state.
func (r *Reconciler) Restoring() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restoringLocked()
}

func (r *Reconciler) restoringLocked() bool {
	if !r.hasToken || r.identity != nil || r.conn == domain.StateError {
		return false
	}
	return r.conn.InFlight() || !r.resumeDone
}

// Identity returns the local identity, or nil before login.
func (r *Reconciler) Identity() *domain.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identity == nil {
		return nil
	}
	id := *r.identity
	return &id
}

// ActiveChannel returns the selected channel id, if any.
func (r *Reconciler) ActiveChannel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Channel returns a known channel by id.
func (r *Reconciler) Channel(channelID string) (domain.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[channelID]
	return ch, ok
}
