package state

import (
	"context"
	"fmt"

	"github.com/ashureev/tbchat-client/internal/domain"
	"github.com/ashureev/tbchat-client/internal/protocol"
)

// ApplyLogin installs the authenticated identity and stores the session
// token the server issued. requested is used when the reply omits the nickname.
func (r *Reconciler) ApplyLogin(ctx context.Context, res protocol.LoginResult, requested string) error {
	nick := res.Nickname
	if nick == "" {
		nick = requested
	}

	r.mu.Lock()
	r.identity = &domain.Identity{ID: res.UserID.String(), Nickname: nick}
	r.resumeDone = true
	r.changedLocked(ChangeIdentity, "")
	r.mu.Unlock()

	if res.SessionID == "" {
		return nil
	}
	return r.StoreToken(ctx, res.SessionID)
}

// StoreToken persists the session token.
func (r *Reconciler) StoreToken(ctx context.Context, token string) error {
	if err := r.tokens.Set(ctx, token); err != nil {
		return fmt.Errorf("store session token: %w", err)
	}
	r.mu.Lock()
	r.hasToken = token != ""
	r.changedLocked(ChangeSession, "")
	r.mu.Unlock()
	return nil
}

// ClearToken forgets the session token so the next connection starts fresh.
func (r *Reconciler) ClearToken(ctx context.Context) error {
	r.mu.Lock()
	r.hasToken = false
	r.changedLocked(ChangeSession, "")
	r.mu.Unlock()

	if err := r.tokens.Clear(ctx); err != nil {
		return fmt.Errorf("clear session token: %w", err)
	}
	return nil
}

// ApplyLogout drops the identity and all channel state and clears the token.
func (r *Reconciler) ApplyLogout(ctx context.Context) error {
	r.mu.Lock()
	r.resetLocked()
	r.changedLocked(ChangeIdentity, "")
	r.mu.Unlock()
	return r.ClearToken(ctx)
}

// ApplyJoin adds the joined channel and makes it active. It returns the channel id.
func (r *Reconciler) ApplyJoin(res protocol.JoinResult) string {
	channelID := res.ChannelID.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.channels[channelID]
	ch.ID = channelID
	if res.ChannelName != "" {
		ch.Name = res.ChannelName
	}
	r.putChannelLocked(ch)
	r.active = channelID
	r.changedLocked(ChangeChannels, channelID)
	r.changedLocked(ChangeActive, channelID)
	return channelID
}

// ApplyLeave removes a channel the local user left.
func (r *Reconciler) ApplyLeave(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownLocked(channelID)
}

// ApplyChannels merges the member channel list into the mirror.
func (r *Reconciler) ApplyChannels(list []protocol.ChannelInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ci := range list {
		r.putChannelLocked(ChannelFromInfo(ci))
	}
	r.changedLocked(ChangeChannels, "")
}

// ApplyAvailable replaces the server channel directory. Channels nobody is
// in are left out.
func (r *Reconciler) ApplyAvailable(list []protocol.ChannelInfo) []domain.Channel {
	out := make([]domain.Channel, 0, len(list))
	for _, ci := range list {
		if ci.UserCount > 0 {
			out = append(out, ChannelFromInfo(ci))
		}
	}

	r.mu.Lock()
	r.available = out
	r.changedLocked(ChangeAvailable, "")
	r.mu.Unlock()

	return append([]domain.Channel(nil), out...)
}

// ApplyHistory replaces a known channel's records with a history page.
func (r *Reconciler) ApplyHistory(channelID string, res protocol.HistoryResult) {
	records, skipped := historyRecords(channelID, res.Messages, r.now)
	if skipped > 0 {
		r.logger.Warn("Skipped undecodable history entries", "channel_id", channelID, "count", skipped)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[channelID]; !ok {
		return
	}
	r.windowLocked(channelID).replace(records)
	r.changedLocked(ChangeMessages, channelID)
}

// ApplyRoster replaces a known channel's roster.
func (r *Reconciler) ApplyRoster(channelID string, users []protocol.ChannelUser) {
	members := MembersFromUsers(users)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[channelID]; !ok {
		return
	}
	r.rosters[channelID] = members
	r.changedLocked(ChangeRoster, channelID)
}

// ApplyNick updates the identity after a successful nick reply.
func (r *Reconciler) ApplyNick(res protocol.NickResult, requested string) {
	nick := res.NewNickname
	if nick == "" {
		nick = requested
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identity == nil || nick == "" {
		return
	}
	r.identity.Nickname = nick
	r.changedLocked(ChangeIdentity, "")
}

// ApplyTopic updates a channel topic after a successful topic reply.
func (r *Reconciler) ApplyTopic(channelID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[channelID]
	if !ok {
		return
	}
	ch.Topic = topic
	r.channels[channelID] = ch
	r.changedLocked(ChangeChannels, channelID)
}

// SetActive selects the channel shown as current.
func (r *Reconciler) SetActive(channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[channelID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}
	r.active = channelID
	r.changedLocked(ChangeActive, channelID)
	return nil
}

// ChannelByName finds a known channel by name.
func (r *Reconciler) ChannelByName(name string) (domain.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return domain.Channel{}, false
}
