package realtime

import (
	"encoding/json"

	"zapdesk/internal/models"
)

// Frame is the typed envelope pushed to UI sessions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newFrame(frameType string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: frameType, Payload: data})
}

// NewMessageFrame announces a message appended to the session's open
// conversation.
func NewMessageFrame(msg *models.Message) ([]byte, error) {
	return newFrame("new_message", msg)
}

// MessageUpdatedFrame announces a delivery-status advance.
func MessageUpdatedFrame(msg *models.Message) ([]byte, error) {
	return newFrame("message_updated", msg)
}

// NotificationFrame announces a contact-originated message for badge
// and toast side effects, regardless of which conversation is open.
func NotificationFrame(msg *models.Message) ([]byte, error) {
	return newFrame("notification", struct {
		ConversationID string `json:"conversation_id"`
		Preview        string `json:"preview"`
	}{msg.ConversationID, msg.Content})
}

// ConversationUpdatedFrame asks the client to refresh its conversation
// list. Coarse invalidation: lists are cheap to refetch wholesale.
func ConversationUpdatedFrame(conv *models.Conversation) ([]byte, error) {
	return newFrame("conversation_updated", conv)
}

// NumberUpdatedFrame announces a connection-state change.
func NumberUpdatedFrame(number *models.WhatsAppNumber) ([]byte, error) {
	return newFrame("number_updated", number)
}

// clientCommand is what a UI session sends upstream: currently only
// selecting the open conversation.
type clientCommand struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
}
