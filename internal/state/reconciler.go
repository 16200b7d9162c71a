// Package state keeps the client-side mirror of the chat server: identity,
// channels, rosters and per-channel records. The Reconciler is the only
// writer; readers take snapshots or subscribe to changes.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tbchat-client/internal/connection"
	"github.com/ashureev/tbchat-client/internal/domain"
	"github.com/ashureev/tbchat-client/internal/protocol"
	"github.com/ashureev/tbchat-client/internal/session"
)

// DefaultHistoryLimit is the page size fetched when a channel is loaded.
const DefaultHistoryLimit = 50

// ErrUnknownChannel is returned when selecting a channel the mirror does not hold.
var ErrUnknownChannel = errors.New("unknown channel")

// Requester sends a request and waits for its reply.
type Requester interface {
	Send(ctx context.Context, req protocol.Request) (*protocol.Response, error)
}

// Options configures a Reconciler.
type Options struct {
	MessageCap   int
	HistoryLimit int
	Logger       *slog.Logger
}

// Reconciler applies pushed frames and command results to the mirror.
type Reconciler struct {
	req    Requester
	tokens session.Store
	opts   Options
	logger *slog.Logger
	subs   *broadcaster
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	conn       domain.ConnectionState
	lastErr    string
	hasToken   bool
	resumeDone bool
	epoch      uint64
	identity   *domain.Identity
	active     string
	channels   map[string]domain.Channel
	available  []domain.Channel
	windows    map[string]*window
	rosters    map[string][]domain.Member
	departed   map[string]bool
	server     *window
	version    uint64
	closed     bool
}

// New creates a Reconciler. tokens is the session store shared with the
// connection manager.
func New(req Requester, tokens session.Store, opts Options) *Reconciler {
	if opts.MessageCap <= 0 {
		opts.MessageCap = DefaultMessageCap
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		req:      req,
		tokens:   tokens,
		opts:     opts,
		logger:   opts.Logger,
		subs:     newBroadcaster(opts.Logger),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		conn:     domain.StateDisconnected,
		channels: make(map[string]domain.Channel),
		windows:  make(map[string]*window),
		rosters:  make(map[string][]domain.Member),
		departed: make(map[string]bool),
		server:   newWindow(opts.MessageCap),
	}
}

// LoadToken records whether a session token is already stored.
func (r *Reconciler) LoadToken(ctx context.Context) error {
	token, err := r.tokens.Get(ctx)
	if err != nil {
		return fmt.Errorf("load session token: %w", err)
	}
	r.mu.Lock()
	r.hasToken = token != ""
	r.mu.Unlock()
	return nil
}

// Close stops background fetches and closes subscriber channels.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.epoch++
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	r.subs.close()
}

// Subscribe returns a channel of changes. A subscriber that falls behind
// loses its oldest pending changes; the latest snapshot is always complete.
func (r *Reconciler) Subscribe(buffer int) (<-chan Change, func()) {
	return r.subs.subscribe(buffer)
}

// goBackground runs fn on a tracked goroutine unless the reconciler is closed.
func (r *Reconciler) goBackground(fn func(ctx context.Context)) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		fn(r.ctx)
	}()
}

// changedLocked bumps the version and notifies subscribers.
func (r *Reconciler) changedLocked(kind ChangeKind, channelID string) {
	r.version++
	r.subs.publish(Change{Kind: kind, ChannelID: channelID, Version: r.version})
}

// StateChanged follows connection transitions. It implements connection.StateListener.
func (r *Reconciler) StateChanged(t connection.Transition) {
	r.mu.Lock()
	r.conn = t.To
	if t.Err != nil {
		r.lastErr = t.Err.Error()
	} else if t.To == domain.StateConnected || t.To == domain.StateDisconnected {
		r.lastErr = ""
	}
	r.changedLocked(ChangeConnection, "")

	var resume bool
	var epoch uint64
	switch t.To {
	case domain.StateDisconnected, domain.StateError:
		r.resetLocked()
	case domain.StateConnected:
		r.epoch++
		epoch = r.epoch
		resume = r.hasToken && r.identity == nil
		r.resumeDone = !resume
	}
	r.mu.Unlock()

	if resume {
		r.goBackground(func(ctx context.Context) { r.resume(ctx, epoch) })
	}
}

// resetLocked clears every piece of domain state. The token is kept so the
// next connection can resume.
func (r *Reconciler) resetLocked() {
	r.epoch++
	r.identity = nil
	r.active = ""
	r.channels = make(map[string]domain.Channel)
	r.available = nil
	r.windows = make(map[string]*window)
	r.rosters = make(map[string][]domain.Member)
	r.departed = make(map[string]bool)
	r.server.reset()
	r.changedLocked(ChangeReset, "")
}

// putChannelLocked stores ch and accepts pushes for it again.
func (r *Reconciler) putChannelLocked(ch domain.Channel) {
	delete(r.departed, ch.ID)
	r.channels[ch.ID] = ch
}

// pushLocked appends rec to its channel. Pushes that arrive after the local
// user left the channel are dropped so the teardown is not undone; channels
// never seen before still get a list, since messages can precede the join reply.
func (r *Reconciler) pushLocked(channelID string, rec domain.Record) {
	if r.departed[channelID] {
		r.logger.Debug("Dropping push for departed channel", "channel_id", channelID, "event", rec.Event)
		return
	}
	r.windowLocked(channelID).push(rec)
	r.changedLocked(ChangeMessages, channelID)
}

func (r *Reconciler) windowLocked(channelID string) *window {
	w, ok := r.windows[channelID]
	if !ok {
		w = newWindow(r.opts.MessageCap)
		r.windows[channelID] = w
	}
	return w
}

// ApplyMessage appends a pushed chat message to its channel.
func (r *Reconciler) ApplyMessage(msg *protocol.ChatMessage) {
	if msg.ChannelID.IsZero() {
		r.logger.Warn("Dropping message without channel", "user_id", msg.UserID)
		return
	}
	channelID := msg.ChannelID.String()
	rec := messageRecord(msg, channelID, r.now)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushLocked(channelID, rec)
}

// ApplyEvent applies a pushed channel or user event.
func (r *Reconciler) ApplyEvent(ev *protocol.ChatEvent) {
	scoped := !ev.ChannelID.IsZero()
	channelID := ev.ChannelID.String()

	switch ev.Event {
	case protocol.EventJoined:
		if scoped {
			r.RefreshRoster(channelID)
		}

	case protocol.EventLeft:
		if !scoped {
			return
		}
		r.mu.Lock()
		self := r.identity.IsSelf(ev.UserID.String())
		if self {
			r.teardownLocked(channelID)
		}
		r.mu.Unlock()
		if !self {
			r.RefreshRoster(channelID)
		}

	case protocol.EventNickChange:
		r.applyNickChange(ev, scoped, channelID)

	case protocol.EventKicked:
		if !scoped {
			return
		}
		rec := eventRecord(ev, channelID, r.now)
		r.mu.Lock()
		r.pushLocked(channelID, rec)
		r.mu.Unlock()
		r.RefreshRoster(channelID)

	case protocol.EventTopicChange:
		if !scoped || (ev.Topic == nil && ev.Message == "") {
			return
		}
		r.mu.Lock()
		ch, ok := r.channels[channelID]
		if !ok {
			ch = domain.Channel{ID: channelID}
		}
		ch.Topic = topicOf(ev)
		r.putChannelLocked(ch)
		r.changedLocked(ChangeChannels, channelID)
		r.mu.Unlock()

	case protocol.EventAnnouncement:
		r.mu.Lock()
		if scoped {
			r.pushLocked(channelID, eventRecord(ev, channelID, r.now))
		} else {
			r.server.push(eventRecord(ev, domain.ServerScope, r.now))
			r.changedLocked(ChangeServerEvents, "")
		}
		r.mu.Unlock()

	default:
		r.logger.Debug("Ignoring unknown event", "event", ev.Event, "channel_id", channelID)
	}
}

func (r *Reconciler) applyNickChange(ev *protocol.ChatEvent, scoped bool, channelID string) {
	userID := ev.UserID.String()
	newNick := nickChangeTarget(ev)

	r.mu.Lock()
	if ev.OldNickname == "" && scoped {
		for _, m := range r.rosters[channelID] {
			if m.ID == userID {
				named := *ev
				named.OldNickname = m.Nickname
				ev = &named
				break
			}
		}
	}
	if newNick != "" && r.identity.IsSelf(userID) && r.identity.Nickname != newNick {
		r.identity.Nickname = newNick
		r.changedLocked(ChangeIdentity, "")
	}
	if scoped {
		r.pushLocked(channelID, eventRecord(ev, channelID, r.now))
	}
	r.mu.Unlock()

	if scoped {
		r.RefreshRoster(channelID)
	}
}

// teardownLocked removes a channel with its records and roster in one step.
func (r *Reconciler) teardownLocked(channelID string) {
	r.departed[channelID] = true
	delete(r.channels, channelID)
	delete(r.windows, channelID)
	delete(r.rosters, channelID)
	if r.active == channelID {
		r.active = ""
		r.changedLocked(ChangeActive, "")
	}
	r.changedLocked(ChangeChannels, channelID)
}

// ApplyUnsolicited handles replies that matched no pending request, such as
// answers that arrived after their request timed out.
func (r *Reconciler) ApplyUnsolicited(resp *protocol.Response) {
	r.logger.Debug("Unmatched response", "req_id", resp.ReqID, "okay", resp.Okay, "error", resp.Error)
}

// RefreshRoster fetches a channel's roster in the background. Failures are logged.
func (r *Reconciler) RefreshRoster(channelID string) {
	r.goBackground(func(ctx context.Context) {
		if err := r.FetchRoster(ctx, channelID); err != nil && ctx.Err() == nil {
			r.logger.Warn("Failed to refresh channel users", "channel_id", channelID, "error", err)
		}
	})
}

// FetchRoster requests a channel's roster and applies it.
func (r *Reconciler) FetchRoster(ctx context.Context, channelID string) error {
	resp, err := r.req.Send(ctx, protocol.ChannelUsersRequest{ChannelID: protocol.ID(channelID)})
	if err != nil {
		return fmt.Errorf("channel_users %s: %w", channelID, err)
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("channel_users %s: %w", channelID, err)
	}
	var res protocol.ChannelUsersResult
	if err := resp.DecodeData(&res); err != nil {
		return fmt.Errorf("channel_users %s: %w", channelID, err)
	}
	r.ApplyRoster(channelID, res.Users)
	return nil
}

// FetchHistory requests the latest history page of a channel and replaces
// its records with it.
func (r *Reconciler) FetchHistory(ctx context.Context, channelID string) error {
	resp, err := r.req.Send(ctx, protocol.HistoryRequest{
		ChannelID: protocol.ID(channelID),
		Limit:     r.opts.HistoryLimit,
	})
	if err != nil {
		return fmt.Errorf("get_history %s: %w", channelID, err)
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("get_history %s: %w", channelID, err)
	}
	var res protocol.HistoryResult
	if err := resp.DecodeData(&res); err != nil {
		return fmt.Errorf("get_history %s: %w", channelID, err)
	}
	r.ApplyHistory(channelID, res)
	return nil
}

// LoadChannel fetches history and roster concurrently. One failing does not
// stop the other; both errors are returned joined.
func (r *Reconciler) LoadChannel(ctx context.Context, channelID string) error {
	var wg sync.WaitGroup
	var historyErr, rosterErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		historyErr = r.FetchHistory(ctx, channelID)
	}()
	go func() {
		defer wg.Done()
		rosterErr = r.FetchRoster(ctx, channelID)
	}()
	wg.Wait()

	return errors.Join(historyErr, rosterErr)
}
