package client

import (
	"context"
	"fmt"

	"github.com/ashureev/tbchat-client/internal/domain"
	"github.com/ashureev/tbchat-client/internal/protocol"
	"github.com/ashureev/tbchat-client/internal/state"
)

// Login authenticates with nickname, stores the issued session token and
// loads the channels the user is already in.
func (c *Client) Login(ctx context.Context, nickname string) (*domain.Identity, error) {
	var res protocol.LoginResult
	if err := c.request(ctx, protocol.LoginRequest{Nickname: nickname}, &res); err != nil {
		return nil, err
	}
	if err := c.state.ApplyLogin(ctx, res, nickname); err != nil {
		c.logger.Warn("Logged in but failed to persist session", "error", err)
	}

	if _, err := c.MyChannels(ctx); err != nil {
		c.logger.Warn("Failed to fetch channels after login", "error", err)
	}
	return c.state.Identity(), nil
}

// Logout ends the session, clears the token and closes the connection.
func (c *Client) Logout(ctx context.Context, dyingMessage string) error {
	err := c.request(ctx, protocol.LogoutRequest{DyingMessage: dyingMessage}, nil)
	if clearErr := c.state.ApplyLogout(ctx); clearErr != nil {
		c.logger.Warn("Failed to clear session on logout", "error", clearErr)
	}
	c.conn.Disconnect()
	return err
}

// Quit asks the server to drop the session, then clears the token and disconnects.
func (c *Client) Quit(ctx context.Context, dyingMessage *string) error {
	err := c.request(ctx, protocol.QuitRequest{DyingMessage: dyingMessage}, nil)
	if clearErr := c.state.ApplyLogout(ctx); clearErr != nil {
		c.logger.Warn("Failed to clear session on quit", "error", clearErr)
	}
	c.conn.Disconnect()
	return err
}

// Join joins a channel by name, makes it active and loads its history and roster.
// Failing to load either does not fail the join.
func (c *Client) Join(ctx context.Context, channelName string) (domain.Channel, error) {
	if err := c.requireIdentity(); err != nil {
		return domain.Channel{}, err
	}

	var res protocol.JoinResult
	if err := c.request(ctx, protocol.JoinRequest{ChannelName: channelName}, &res); err != nil {
		return domain.Channel{}, err
	}
	channelID := c.state.ApplyJoin(res)

	if err := c.state.LoadChannel(ctx, channelID); err != nil {
		c.logger.Warn("Failed to load channel data", "channel_id", channelID, "error", err)
	}
	ch, _ := c.state.Channel(channelID)
	return ch, nil
}

// Leave leaves a channel and drops it from the mirror.
func (c *Client) Leave(ctx context.Context, channelID, reason string) error {
	if err := c.requireIdentity(); err != nil {
		return err
	}
	if err := c.request(ctx, protocol.LeaveRequest{ChannelID: protocol.ID(channelID), Reason: reason}, nil); err != nil {
		return err
	}
	c.state.ApplyLeave(channelID)
	return nil
}

// SendMessage posts text to a channel. The message shows up in the mirror
// when the server echoes it.
func (c *Client) SendMessage(ctx context.Context, channelID, text string) error {
	if err := c.requireIdentity(); err != nil {
		return err
	}
	return c.request(ctx, protocol.MessageRequest{ChannelID: protocol.ID(channelID), Message: text}, nil)
}

// Me posts an action line.
func (c *Client) Me(ctx context.Context, channelID, text string) error {
	if err := c.requireIdentity(); err != nil {
		return err
	}
	return c.request(ctx, protocol.MeRequest{ChannelID: protocol.ID(channelID), Message: text}, nil)
}

// Nick changes the local nickname.
func (c *Client) Nick(ctx context.Context, newNickname string) error {
	if err := c.requireIdentity(); err != nil {
		return err
	}
	var res protocol.NickResult
	if err := c.request(ctx, protocol.NickRequest{NewNickname: newNickname}, &res); err != nil {
		return err
	}
	c.state.ApplyNick(res, newNickname)
	return nil
}

// Kick removes userID from a channel.
func (c *Client) Kick(ctx context.Context, channelID, userID, reason string) error {
	if err := c.requireIdentity(); err != nil {
		return err
	}
	return c.request(ctx, protocol.KickRequest{
		ChannelID: protocol.ID(channelID),
		UserID:    protocol.ID(userID),
		Reason:    reason,
	}, nil)
}

// Topic sets a channel topic.
func (c *Client) Topic(ctx context.Context, channelID, topic string) error {
	if err := c.requireIdentity(); err != nil {
		return err
	}
	if err := c.request(ctx, protocol.TopicRequest{ChannelID: protocol.ID(channelID), Topic: topic}, nil); err != nil {
		return err
	}
	c.state.ApplyTopic(channelID, topic)
	return nil
}

// Announce posts an announcement to channelID, or to the whole server when
// channelID is empty.
func (c *Client) Announce(ctx context.Context, channelID, text string) error {
	if err := c.requireIdentity(); err != nil {
		return err
	}
	req := protocol.AnnounceRequest{Message: text}
	if channelID != "" {
		id := protocol.ID(channelID)
		req.ChannelID = &id
	}
	return c.request(ctx, req, nil)
}

// ListChannels returns the server's occupied channels.
func (c *Client) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	var res protocol.ChannelsResult
	if err := c.request(ctx, protocol.ListChannelsRequest{}, &res); err != nil {
		return nil, err
	}
	return c.state.ApplyAvailable(res.Channels), nil
}

// MyChannels returns the channels the user is a member of and merges them
// into the mirror.
func (c *Client) MyChannels(ctx context.Context) ([]domain.Channel, error) {
	var res protocol.ChannelsResult
	if err := c.request(ctx, protocol.MyChannelsRequest{}, &res); err != nil {
		return nil, err
	}
	c.state.ApplyChannels(res.Channels)

	out := make([]domain.Channel, 0, len(res.Channels))
	for _, ci := range res.Channels {
		out = append(out, state.ChannelFromInfo(ci))
	}
	return out, nil
}

// HistoryQuery pages through a channel's history. Before and After are
// message ids; zero means unset.
type HistoryQuery struct {
	Before int64
	After  int64
	Limit  int
}

// History fetches one page of history without changing the mirror.
func (c *Client) History(ctx context.Context, channelID string, q HistoryQuery) ([]domain.Record, bool, error) {
	req := protocol.HistoryRequest{ChannelID: protocol.ID(channelID), Limit: q.Limit}
	if q.Before > 0 {
		req.Before = &q.Before
	}
	if q.After > 0 {
		req.After = &q.After
	}

	var res protocol.HistoryResult
	if err := c.request(ctx, req, &res); err != nil {
		return nil, false, err
	}
	return state.HistoryRecords(channelID, res), res.HasMore, nil
}

// ChannelUsers fetches and applies a channel roster.
func (c *Client) ChannelUsers(ctx context.Context, channelID string) ([]domain.Member, error) {
	var res protocol.ChannelUsersResult
	if err := c.request(ctx, protocol.ChannelUsersRequest{ChannelID: protocol.ID(channelID)}, &res); err != nil {
		return nil, err
	}
	c.state.ApplyRoster(channelID, res.Users)
	return state.MembersFromUsers(res.Users), nil
}

// SessionInfo asks the server what it knows about this session.
func (c *Client) SessionInfo(ctx context.Context) (protocol.SessionInfoResult, error) {
	var res protocol.SessionInfoResult
	err := c.request(ctx, protocol.SessionInfoRequest{}, &res)
	return res, err
}

// Heartbeat sends one keepalive probe.
func (c *Client) Heartbeat(ctx context.Context) error {
	if err := c.corr.Probe(ctx); err != nil {
		return fmt.Errorf("%s: %w", protocol.CmdHeartbeat, err)
	}
	return nil
}
