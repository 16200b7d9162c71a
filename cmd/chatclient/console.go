package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/ashureev/tbchat-client/internal/client"
	"github.com/ashureev/tbchat-client/internal/domain"
	"github.com/ashureev/tbchat-client/internal/state"
)

var errQuit = errors.New("quit")

// console prints mirror changes as a transcript and turns input lines into
// client commands.
type console struct {
	client *client.Client
	logger *slog.Logger

	mu      sync.Mutex
	out     io.Writer
	printed map[string]map[string]struct{}
}

func newConsole(c *client.Client, out io.Writer, logger *slog.Logger) *console {
	return &console{
		client:  c,
		logger:  logger,
		out:     out,
		printed: make(map[string]map[string]struct{}),
	}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *console) notice(msg string) {
	c.printf("-!- %s", msg)
}

// follow prints new records and connection changes until ctx is done.
func (c *console) follow(ctx context.Context) {
	changes, cancel := c.client.Subscribe(256)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			snap := c.client.Snapshot()
			switch ch.Kind {
			case state.ChangeConnection:
				msg := "connection " + string(snap.Connection)
				if snap.LastError != "" && snap.Connection == domain.StateError {
					msg += ": " + snap.LastError
				}
				c.notice(msg)
			case state.ChangeMessages:
				c.printNew(ch.ChannelID, snap.Channels[ch.ChannelID].Name, snap.Messages[ch.ChannelID])
			case state.ChangeServerEvents:
				c.printNew(domain.ServerScope, domain.ServerScope, snap.ServerEvents)
			case state.ChangeActive:
				if channel, ok := snap.Channels[snap.ActiveChannel]; ok {
					c.notice("now talking in #" + channel.Name)
				}
			case state.ChangeReset:
				c.mu.Lock()
				c.printed = make(map[string]map[string]struct{})
				c.mu.Unlock()
			}
		}
	}
}

// printNew prints the records of scope not printed before and remembers
// the current window.
func (c *console) printNew(scope, label string, records []domain.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := c.printed[scope]
	next := make(map[string]struct{}, len(records))
	for _, r := range records {
		next[r.ID] = struct{}{}
		if _, ok := seen[r.ID]; ok {
			continue
		}
		fmt.Fprintln(c.out, formatRecord(label, r))
	}
	c.printed[scope] = next
}

func formatRecord(label string, r domain.Record) string {
	ts := r.SentAt.Local().Format("15:04")
	switch r.Kind {
	case domain.RecordAction:
		return fmt.Sprintf("%s [#%s] * %s %s", ts, label, r.Nickname, r.Text)
	case domain.RecordEvent:
		return fmt.Sprintf("%s [#%s] -- %s", ts, label, r.Text)
	default:
		return fmt.Sprintf("%s [#%s] <%s> %s", ts, label, r.Nickname, r.Text)
	}
}

// readLoop executes input lines until EOF, /quit or ctx is done.
func (c *console) readLoop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			err := c.execute(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				c.notice(err.Error())
			}
		}
	}
}

type command struct {
	name string
	args string
}

// parseLine splits "/name args" into a command. Text without a leading
// slash, or starting with "//", is a message.
func parseLine(line string) command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") || strings.HasPrefix(line, "//") {
		return command{name: "say", args: strings.TrimPrefix(line, "/")}
	}
	name, args, _ := strings.Cut(line[1:], " ")
	return command{name: strings.ToLower(name), args: strings.TrimSpace(args)}
}

func (c *console) active() (string, error) {
	id := c.client.Snapshot().ActiveChannel
	if id == "" {
		return "", errors.New("no active channel; /join one first")
	}
	return id, nil
}

//nolint:gocyclo // One case per chat command keeps the table readable.
func (c *console) execute(ctx context.Context, line string) error {
	cmd := parseLine(line)
	switch cmd.name {
	case "say":
		if cmd.args == "" {
			return nil
		}
		id, err := c.active()
		if err != nil {
			return err
		}
		return c.client.SendMessage(ctx, id, cmd.args)
	case "me":
		id, err := c.active()
		if err != nil {
			return err
		}
		return c.client.Me(ctx, id, cmd.args)
	case "login":
		ident, err := c.client.Login(ctx, cmd.args)
		if err != nil {
			return err
		}
		if ident != nil {
			c.notice("logged in as " + ident.Nickname)
		}
		return nil
	case "join":
		ch, err := c.client.Join(ctx, strings.TrimPrefix(cmd.args, "#"))
		if err != nil {
			return err
		}
		if ch.Topic != "" {
			c.notice(fmt.Sprintf("topic for #%s: %s", ch.Name, ch.Topic))
		}
		return nil
	case "leave", "part":
		id, err := c.active()
		if err != nil {
			return err
		}
		return c.client.Leave(ctx, id, cmd.args)
	case "switch":
		return c.switchTo(cmd.args)
	case "nick":
		return c.client.Nick(ctx, cmd.args)
	case "topic":
		id, err := c.active()
		if err != nil {
			return err
		}
		return c.client.Topic(ctx, id, cmd.args)
	case "kick":
		id, err := c.active()
		if err != nil {
			return err
		}
		userID, reason, _ := strings.Cut(cmd.args, " ")
		return c.client.Kick(ctx, id, userID, strings.TrimSpace(reason))
	case "announce":
		return c.client.Announce(ctx, c.client.Snapshot().ActiveChannel, cmd.args)
	case "list":
		channels, err := c.client.ListChannels(ctx)
		if err != nil {
			return err
		}
		for _, ch := range channels {
			c.printf("  #%-20s %3d  %s", ch.Name, ch.UserCount, ch.Topic)
		}
		return nil
	case "users", "names":
		id, err := c.active()
		if err != nil {
			return err
		}
		members, err := c.client.ChannelUsers(ctx, id)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(members))
		for _, m := range members {
			prefix := ""
			if m.IsOp {
				prefix = "@"
			}
			names = append(names, prefix+m.Nickname)
		}
		c.notice("users: " + strings.Join(names, " "))
		return nil
	case "history":
		return c.history(ctx, cmd.args)
	case "reconnect":
		return c.client.Reconnect(ctx)
	case "quit":
		var msg *string
		if cmd.args != "" {
			msg = &cmd.args
		}
		if err := c.client.Quit(ctx, msg); err != nil {
			c.logger.Warn("Quit request failed", "error", err)
		}
		return errQuit
	case "help":
		c.notice("commands: /login /join /leave /switch /nick /me /topic /kick /announce /list /users /history /reconnect /quit")
		return nil
	default:
		return fmt.Errorf("unknown command /%s", cmd.name)
	}
}

func (c *console) switchTo(target string) error {
	target = strings.TrimPrefix(target, "#")
	for id, ch := range c.client.Snapshot().Channels {
		if id == target || strings.EqualFold(ch.Name, target) {
			return c.client.SetActive(id)
		}
	}
	return fmt.Errorf("not in channel %s", target)
}

func (c *console) history(ctx context.Context, args string) error {
	id, err := c.active()
	if err != nil {
		return err
	}
	q := client.HistoryQuery{Limit: 20}
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n <= 0 {
			return fmt.Errorf("usage: /history [count]")
		}
		q.Limit = n
	}

	records, hasMore, err := c.client.History(ctx, id, q)
	if err != nil {
		return err
	}
	label := c.client.Snapshot().Channels[id].Name
	for _, r := range records {
		c.printf("%s", formatRecord(label, r))
	}
	if hasMore {
		c.notice("more history available")
	}
	return nil
}
