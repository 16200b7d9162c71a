package state

import (
	"fmt"
	"time"

	"github.com/ashureev/tbchat-client/internal/domain"
	"github.com/ashureev/tbchat-client/internal/protocol"
	"github.com/google/uuid"
)

func newRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func parseSentAt(s string, now func() time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return now()
}

func messageRecord(m *protocol.ChatMessage, channelID string, now func() time.Time) domain.Record {
	kind := domain.RecordMessage
	if m.IsPassive {
		kind = domain.RecordAction
	}
	return domain.Record{
		ID:        newRecordID(),
		ChannelID: channelID,
		UserID:    m.UserID.String(),
		Nickname:  m.Nickname,
		Text:      m.Message,
		Kind:      kind,
		Event:     protocol.TypeMessage,
		SentAt:    parseSentAt(m.SentAt, now),
	}
}

func eventRecord(ev *protocol.ChatEvent, channelID string, now func() time.Time) domain.Record {
	userID := ev.UserID.String()
	if ev.UserID.IsZero() {
		userID = "system"
	}
	nick := ev.Nickname
	if nick == "" {
		nick = "System"
	}
	return domain.Record{
		ID:        newRecordID(),
		ChannelID: channelID,
		UserID:    userID,
		Nickname:  nick,
		Text:      FormatEvent(ev),
		Kind:      domain.RecordEvent,
		Event:     ev.Event,
		SentAt:    parseSentAt(ev.SentAt, now),
	}
}

// FormatEvent renders the display line for an event.
func FormatEvent(ev *protocol.ChatEvent) string {
	switch ev.Event {
	case protocol.EventJoined:
		return fmt.Sprintf("%s joined the channel", ev.Nickname)
	case protocol.EventLeft:
		return fmt.Sprintf("%s left the channel", ev.Nickname)
	case protocol.EventNickChange:
		newNick := nickChangeTarget(ev)
		if ev.OldNickname == "" {
			return fmt.Sprintf("Nickname changed to %s", newNick)
		}
		return fmt.Sprintf("%s is now known as %s", ev.OldNickname, newNick)
	case protocol.EventKicked:
		text := fmt.Sprintf("%s was kicked", ev.Nickname)
		if ev.KickedBy != "" {
			text += " by " + ev.KickedBy
		}
		if ev.Reason != "" {
			text += ": " + ev.Reason
		}
		return text
	case protocol.EventTopicChange:
		return fmt.Sprintf("Topic changed to: %s", topicOf(ev))
	case protocol.EventAnnouncement:
		if ev.Message != "" {
			return ev.Message
		}
		return "Server announcement"
	default:
		return fmt.Sprintf("Unknown event: %s", ev.Event)
	}
}

// nickChangeTarget returns the new nickname. Servers put it in nickname
// rather than new_nickname.
func nickChangeTarget(ev *protocol.ChatEvent) string {
	if ev.NewNickname != "" {
		return ev.NewNickname
	}
	return ev.Nickname
}

func topicOf(ev *protocol.ChatEvent) string {
	if ev.Topic != nil {
		return *ev.Topic
	}
	return ev.Message
}

// ChannelFromInfo converts a wire channel description.
func ChannelFromInfo(ci protocol.ChannelInfo) domain.Channel {
	return domain.Channel{
		ID:        ci.ID.String(),
		Name:      ci.Name,
		Topic:     ci.Topic,
		UserCount: ci.UserCount,
	}
}

// MembersFromUsers converts a wire roster.
func MembersFromUsers(users []protocol.ChannelUser) []domain.Member {
	out := make([]domain.Member, 0, len(users))
	for _, u := range users {
		out = append(out, domain.Member{
			ID:       u.ID.String(),
			Nickname: u.Nickname,
			IsOp:     u.IsOp,
			IsServ:   u.IsServ,
		})
	}
	return out
}

// historyRecords converts a history page into records for channelID.
// Undecodable entries are skipped.
func historyRecords(channelID string, frames []protocol.RawFrame, now func() time.Time) ([]domain.Record, int) {
	out := make([]domain.Record, 0, len(frames))
	skipped := 0
	for _, raw := range frames {
		f, err := raw.Decode()
		if err != nil {
			skipped++
			continue
		}
		switch v := f.(type) {
		case *protocol.ChatMessage:
			out = append(out, messageRecord(v, channelID, now))
		case *protocol.ChatEvent:
			out = append(out, eventRecord(v, channelID, now))
		default:
			skipped++
		}
	}
	return out, skipped
}

// HistoryRecords converts a history page into records without touching any mirror.
func HistoryRecords(channelID string, res protocol.HistoryResult) []domain.Record {
	records, _ := historyRecords(channelID, res.Messages, time.Now)
	return records
}
