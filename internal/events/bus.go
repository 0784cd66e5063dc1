package events

import (
	"sync"

	"github.com/rs/zerolog/log"

	"zapdesk/internal/models"
)

// Resource names the table a change event originated from.
type Resource string

const (
	ResourceConversation Resource = "conversations"
	ResourceMessage      Resource = "messages"
	ResourceNumber       Resource = "whatsapp_numbers"
)

// Action is the kind of storage mutation that produced an event.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
)

// ChangeEvent is the typed payload delivered to subscribers. Exactly
// one of Message, Conversation or Number is set, matching Resource.
type ChangeEvent struct {
	Resource     Resource               `json:"resource"`
	Action       Action                 `json:"action"`
	NumberID     string                 `json:"number_id,omitempty"`
	Message      *models.Message        `json:"message,omitempty"`
	Conversation *models.Conversation   `json:"conversation,omitempty"`
	Number       *models.WhatsAppNumber `json:"number,omitempty"`
}

// Subscription is one registered listener. C carries events until
// Unsubscribe is called; Unsubscribe is safe to call more than once
// but takes effect exactly once.
type Subscription struct {
	C chan ChangeEvent

	bus  *Bus
	id   uint64
	once sync.Once
}

// Unsubscribe removes the subscription from the bus and closes C.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		close(s.C)
	})
}

// Bus is an in-process publish/subscribe channel for storage change
// notifications. Delivery is at-least-once per live subscriber and
// order-approximate; a subscriber that cannot keep up has events
// dropped rather than blocking the writer.
type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a new listener with a buffered event channel.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		C:   make(chan ChangeEvent, 64),
		bus: b,
		id:  b.nextID,
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish fans an event out to every current subscriber without
// blocking the caller.
func (b *Bus) Publish(ev ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		select {
		case sub.C <- ev:
		default:
			log.Warn().
				Str("resource", string(ev.Resource)).
				Str("action", string(ev.Action)).
				Msg("Slow event subscriber, dropping change event")
		}
	}
}
