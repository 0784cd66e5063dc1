package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Session is one connected UI websocket. It tracks which conversation
// the user has open and which message ids have already been delivered
// to it, so a message written both by direct mutation and by change
// notification arrives exactly once.
type Session struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu                 sync.Mutex
	closed             bool
	openConversationID string
	seen               map[string]struct{}
}

func newSession(hub *Hub, conn *websocket.Conn) *Session {
	return &Session{
		ID:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 64),
		seen: make(map[string]struct{}),
	}
}

// OpenConversation switches the session's focused conversation and
// resets the dedup window; a stale handler must not keep receiving the
// previous conversation's appends.
func (s *Session) OpenConversation(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openConversationID = conversationID
	s.seen = make(map[string]struct{})
}

// shouldDeliver reports whether a message belongs to the open
// conversation and has not been delivered to this session before,
// marking it seen when it does.
func (s *Session) shouldDeliver(conversationID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openConversationID == "" || s.openConversationID != conversationID {
		return false
	}
	if _, dup := s.seen[messageID]; dup {
		return false
	}
	s.seen[messageID] = struct{}{}
	return true
}

// deliver enqueues one frame. The send happens under the session lock
// so it can never race close(): a dispatcher holding a stale snapshot
// of a just-disconnected session drops the frame instead of sending on
// a closed channel.
func (s *Session) deliver(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- frame:
	default:
		log.Warn().Str("sessionID", s.ID).Msg("Slow realtime session, dropping frame")
	}
}

// close shuts the send channel exactly once, under the same lock
// deliver sends under.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// readPump consumes client commands until the connection closes, then
// unregisters the session.
func (s *Session) readPump() {
	defer func() {
		s.hub.unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("sessionID", s.ID).Msg("Websocket closed unexpectedly")
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			log.Debug().Err(err).Str("sessionID", s.ID).Msg("Ignoring malformed client command")
			continue
		}
		switch cmd.Type {
		case "open_conversation":
			s.OpenConversation(cmd.ConversationID)
		case "close_conversation":
			s.OpenConversation("")
		}
	}
}

// writePump drains the send channel into the socket and keeps the
// connection alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
