// Package realtime fans storage change notifications out to connected
// UI sessions over websockets, with per-session deduplication and
// at-least-once, order-approximate delivery.
package realtime

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI origin is enforced by the reverse proxy in deployment.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub owns the single bus subscription and the set of live sessions.
// It guarantees exactly one unsubscribe for its subscription and one
// unregister per session.
type Hub struct {
	bus *events.Bus

	mu       sync.Mutex
	sessions map[*Session]struct{}

	sub *events.Subscription
}

// NewHub registers the bus subscription immediately so events
// published before Run starts are buffered, not lost.
func NewHub(bus *events.Bus) *Hub {
	return &Hub{
		bus:      bus,
		sessions: make(map[*Session]struct{}),
		sub:      bus.Subscribe(),
	}
}

// Run dispatches bus events until Stop is called. Intended to run in
// its own goroutine.
func (h *Hub) Run() {
	for ev := range h.sub.C {
		h.Dispatch(ev)
	}
}

// Stop releases the bus subscription; Run returns once the channel
// drains. Safe to call more than once.
func (h *Hub) Stop() {
	h.sub.Unsubscribe()
}

// ServeWS upgrades one HTTP request into a realtime session.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}

	session := newSession(h, conn)
	h.mu.Lock()
	h.sessions[session] = struct{}{}
	count := len(h.sessions)
	h.mu.Unlock()
	log.Info().Str("sessionID", session.ID).Int("sessions", count).Msg("Realtime session connected")

	go session.writePump()
	go session.readPump()
}

func (h *Hub) unregister(session *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[session]; ok {
		delete(h.sessions, session)
		session.close()
		log.Info().Str("sessionID", session.ID).Int("sessions", len(h.sessions)).Msg("Realtime session disconnected")
	}
}

func (h *Hub) snapshot() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// Dispatch routes one change event to every interested session.
// Exported so tests can drive the hub without a live bus goroutine.
func (h *Hub) Dispatch(ev events.ChangeEvent) {
	switch {
	case ev.Resource == events.ResourceMessage && ev.Action == events.ActionInsert:
		h.dispatchMessageInsert(ev)
	case ev.Resource == events.ResourceMessage && ev.Action == events.ActionUpdate:
		h.dispatchMessageUpdate(ev)
	case ev.Resource == events.ResourceConversation:
		h.dispatchConversation(ev)
	case ev.Resource == events.ResourceNumber:
		h.dispatchNumber(ev)
	}
}

func (h *Hub) dispatchMessageInsert(ev events.ChangeEvent) {
	msg := ev.Message
	if msg == nil {
		return
	}

	appendFrame, err := NewMessageFrame(msg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode new_message frame")
		return
	}

	var notifyFrame []byte
	if msg.IsFromContact {
		notifyFrame, err = NotificationFrame(msg)
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode notification frame")
		}
	}

	for _, session := range h.snapshot() {
		if session.shouldDeliver(msg.ConversationID, msg.ID) {
			session.deliver(appendFrame)
		}
		// Contact-originated messages always raise a notification,
		// whichever conversation is open.
		if notifyFrame != nil {
			session.deliver(notifyFrame)
		}
	}
}

func (h *Hub) dispatchMessageUpdate(ev events.ChangeEvent) {
	msg := ev.Message
	if msg == nil {
		return
	}
	frame, err := MessageUpdatedFrame(msg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode message_updated frame")
		return
	}
	for _, session := range h.snapshot() {
		session.deliver(frame)
	}
}

func (h *Hub) dispatchConversation(ev events.ChangeEvent) {
	if ev.Conversation == nil {
		return
	}
	frame, err := ConversationUpdatedFrame(ev.Conversation)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode conversation_updated frame")
		return
	}
	for _, session := range h.snapshot() {
		session.deliver(frame)
	}
}

func (h *Hub) dispatchNumber(ev events.ChangeEvent) {
	if ev.Number == nil {
		return
	}
	frame, err := NumberUpdatedFrame(ev.Number)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode number_updated frame")
		return
	}
	for _, session := range h.snapshot() {
		session.deliver(frame)
	}
}
