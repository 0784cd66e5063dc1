package chatwoot

// Contact is a Chatwoot contact as returned by the contacts API.
type Contact struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Identifier  string `json:"identifier,omitempty"`
}

// contactSearchResponse wraps contact search results: {"payload": [...]}.
type contactSearchResponse struct {
	Payload []Contact `json:"payload"`
}

// ContactPayload is the body for contact creation.
type ContactPayload struct {
	InboxID     int    `json:"inbox_id"`
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phone_number"`
	Identifier  string `json:"identifier,omitempty"`
}

// Conversation is a Chatwoot conversation.
type Conversation struct {
	ID      int    `json:"id"`
	InboxID int    `json:"inbox_id"`
	Status  string `json:"status"`
}

// ConversationPayload is the body for conversation creation.
type ConversationPayload struct {
	SourceID  string `json:"source_id,omitempty"`
	InboxID   int    `json:"inbox_id"`
	ContactID int    `json:"contact_id"`
	Status    string `json:"status,omitempty"`
}

// Message is a Chatwoot message.
type Message struct {
	ID          int    `json:"id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

// MessagePayload is the body for message creation. MessageType is
// "incoming" for contact-originated content and "outgoing" for agent
// replies.
type MessagePayload struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	Private     bool   `json:"private"`
	SourceID    string `json:"source_id,omitempty"`
}

// Inbox is a Chatwoot inbox.
type Inbox struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// InboxPayload provisions an API-channel inbox.
type InboxPayload struct {
	Name    string       `json:"name"`
	Channel InboxChannel `json:"channel"`
}

type InboxChannel struct {
	Type       string `json:"type"`
	WebhookURL string `json:"webhook_url,omitempty"`
}
