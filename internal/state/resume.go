package state

import (
	"context"
	"errors"
	"sync"

	"github.com/ashureev/tbchat-client/internal/correlator"
	"github.com/ashureev/tbchat-client/internal/domain"
	"github.com/ashureev/tbchat-client/internal/protocol"
)

var errNoIdentity = errors.New("session has no identity")

// resume restores identity and channels from the stored token. epoch ties the
// run to the connection that started it; results are discarded if the mirror
// was reset meanwhile.
func (r *Reconciler) resume(ctx context.Context, epoch uint64) {
	info, err := r.sessionInfo(ctx)
	if err != nil {
		if !r.current(epoch) {
			return
		}
		if r.interrupted(err) {
			r.logger.Info("Session resumption interrupted, keeping token", "error", err)
			return
		}
		r.logger.Warn("Session resumption failed, clearing token", "error", err)
		if err := r.ClearToken(ctx); err != nil {
			r.logger.Error("Failed to clear session token", "error", err)
		}
		r.finishResume(epoch)
		return
	}

	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		return
	}
	r.identity = &domain.Identity{ID: info.UserID.String(), Nickname: info.Nickname, IsServ: info.IsServ}
	r.changedLocked(ChangeIdentity, "")
	ids := make([]string, 0, len(info.Channels))
	for _, ci := range info.Channels {
		ch := ChannelFromInfo(ci)
		r.putChannelLocked(ch)
		ids = append(ids, ch.ID)
	}
	if len(ids) > 0 {
		r.changedLocked(ChangeChannels, "")
		if r.active == "" {
			r.active = ids[0]
			r.changedLocked(ChangeActive, ids[0])
		}
	}
	r.mu.Unlock()

	r.logger.Info("Session resumed", "user_id", info.UserID, "nickname", info.Nickname, "channels", len(ids))

	if info.SessionID != "" {
		if err := r.StoreToken(ctx, info.SessionID); err != nil {
			r.logger.Warn("Failed to store resumed session token", "error", err)
		}
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(channelID string) {
			defer wg.Done()
			if err := r.LoadChannel(ctx, channelID); err != nil {
				r.logger.Warn("Failed to restore channel", "channel_id", channelID, "error", err)
			}
		}(id)
	}
	wg.Wait()

	r.finishResume(epoch)
}

func (r *Reconciler) sessionInfo(ctx context.Context) (protocol.SessionInfoResult, error) {
	var info protocol.SessionInfoResult

	resp, err := r.req.Send(ctx, protocol.SessionInfoRequest{})
	if err != nil {
		return info, err
	}
	if err := resp.Err(); err != nil {
		return info, err
	}
	if err := resp.DecodeData(&info); err != nil {
		return info, err
	}
	if info.UserID.IsZero() {
		return info, errNoIdentity
	}
	return info, nil
}

func (r *Reconciler) current(epoch uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && r.epoch == epoch
}

// interrupted reports whether err came from shutting the client down rather
// than from the server rejecting the session. Only a rejection clears the token.
func (r *Reconciler) interrupted(err error) bool {
	return r.ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, correlator.ErrClosed)
}

func (r *Reconciler) finishResume(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch != epoch {
		return
	}
	r.resumeDone = true
	r.changedLocked(ChangeSession, "")
}
