package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

// chatServer is a small in-process chat server speaking the wire protocol.
type chatServer struct {
	*httptest.Server

	mu        sync.Mutex
	sessions  map[string]*fakeSession
	channels  map[string]int
	nextID    int
	nextUser  int
	failUsers map[int]bool
}

type fakeSession struct {
	token    string
	userID   int
	nickname string
	channels []int
}

func newChatServer(t *testing.T) *chatServer {
	t.Helper()
	s := &chatServer{
		sessions:  make(map[string]*fakeSession),
		channels:  make(map[string]int),
		nextID:    42,
		nextUser:  1,
		failUsers: make(map[int]bool),
	}

	r := chi.NewRouter()
	r.Get("/ws", s.handleWS)
	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

func (s *chatServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

func (s *chatServer) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.CloseNow()

	s.mu.Lock()
	sess := s.sessions[r.URL.Query().Get("session_id")]
	if sess == nil {
		sess = &fakeSession{}
	}
	s.mu.Unlock()

	ctx := context.Background()
	for {
		var req map[string]any
		if err := wsjson.Read(ctx, c, &req); err != nil {
			return
		}
		if err := s.handle(ctx, c, sess, req); err != nil {
			return
		}
	}
}

func (s *chatServer) handle(ctx context.Context, c *websocket.Conn, sess *fakeSession, req map[string]any) error {
	reqID, _ := req["req_id"].(string)
	reply := func(data any) error {
		return wsjson.Write(ctx, c, map[string]any{"type": "response", "req_id": reqID, "okay": true, "data": data})
	}
	fail := func(msg string) error {
		return wsjson.Write(ctx, c, map[string]any{"type": "response", "req_id": reqID, "okay": false, "error": msg})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch req["cmd"] {
	case "login":
		sess.userID = s.nextUser
		s.nextUser++
		sess.nickname = req["nickname"].(string)
		sess.token = fmt.Sprintf("sess-%d", sess.userID)
		s.sessions[sess.token] = sess
		return reply(map[string]any{"user_id": sess.userID, "nickname": sess.nickname, "session_id": sess.token})

	case "session_info":
		if sess.userID == 0 {
			return fail("Not logged in")
		}
		return reply(map[string]any{
			"session_id": sess.token,
			"user_id":    sess.userID,
			"nickname":   sess.nickname,
			"channels":   s.channelInfos(sess),
		})

	case "my_channels":
		return reply(map[string]any{"channels": s.channelInfos(sess)})

	case "join":
		name := req["channel_name"].(string)
		id, ok := s.channels[name]
		if !ok {
			id = s.nextID
			s.nextID++
			s.channels[name] = id
		}
		sess.channels = append(sess.channels, id)
		// History is pushed ahead of the reply.
		if err := wsjson.Write(ctx, c, map[string]any{
			"type": "message", "channel_id": id, "user_id": 99, "nickname": "old", "message": "pushed",
		}); err != nil {
			return err
		}
		return reply(map[string]any{"channel_id": id, "channel_name": name})

	case "get_history":
		id := int(req["channel_id"].(float64))
		return reply(map[string]any{
			"messages": []any{map[string]any{
				"type": "message", "channel_id": id, "user_id": 99, "nickname": "old", "message": "earlier",
			}},
			"has_more": false,
		})

	case "channel_users":
		id := int(req["channel_id"].(float64))
		if s.failUsers[id] {
			return fail("Database error")
		}
		return reply(map[string]any{"users": []any{map[string]any{"id": sess.userID, "nickname": sess.nickname}}})

	case "message":
		if err := wsjson.Write(ctx, c, map[string]any{
			"type": "message", "channel_id": req["channel_id"], "user_id": sess.userID,
			"nickname": sess.nickname, "message": req["message"], "sent_at": time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
		return reply(nil)

	case "nick":
		old := sess.nickname
		sess.nickname = req["new_nickname"].(string)
		return reply(map[string]any{"user_id": sess.userID, "old_nickname": old, "new_nickname": sess.nickname})

	case "heartbeat":
		return reply(map[string]any{"timestamp": time.Now().Unix()})

	case "logout", "quit":
		delete(s.sessions, sess.token)
		*sess = fakeSession{}
		return reply(nil)

	default:
		return fail("Unknown command")
	}
}

func (s *chatServer) channelInfos(sess *fakeSession) []any {
	out := make([]any, 0, len(sess.channels))
	for _, id := range sess.channels {
		for name, cid := range s.channels {
			if cid == id {
				out = append(out, map[string]any{"id": id, "name": name, "topic": ""})
			}
		}
	}
	return out
}

// silentServer accepts sockets and reads requests but never replies.
type silentServer struct {
	*httptest.Server

	mu     sync.Mutex
	conns  []*websocket.Conn
	reject bool
}

func newSilentServer(t *testing.T) *silentServer {
	t.Helper()
	s := &silentServer{}

	r := chi.NewRouter()
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		reject := s.reject
		s.mu.Unlock()
		if reject {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.mu.Unlock()
		defer c.CloseNow()

		for {
			if _, _, err := c.Read(context.Background()); err != nil {
				return
			}
		}
	})
	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

func (s *silentServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

// dropAll closes every socket without a close frame and refuses new ones
// when reject is set.
func (s *silentServer) dropAll(reject bool) {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.reject = reject
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.CloseNow()
	}
}
