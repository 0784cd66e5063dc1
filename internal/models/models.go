package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConnectionState is the last known gateway state of a WhatsAppNumber.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// DeliveryStatus tracks a message through its delivery lifecycle.
// Inbound (contact-originated) messages never pass through "sending".
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// MessageType is the declared content type of a message. Anything the
// gateway sends that is not in this set is stored as TypeUnsupported.
type MessageType string

const (
	TypeText        MessageType = "text"
	TypeImage       MessageType = "image"
	TypeVideo       MessageType = "video"
	TypeAudio       MessageType = "audio"
	TypeDocument    MessageType = "document"
	TypeLocation    MessageType = "location"
	TypeUnsupported MessageType = "unsupported"
)

// Agent is one tenant-configured bot persona, optionally backed by an
// external OpenAI Assistant.
type Agent struct {
	ID          string `gorm:"primaryKey"`
	UserID      string `gorm:"index"`
	Name        string
	Prompt      string `gorm:"type:text"`
	Knowledge   string `gorm:"type:text"`
	LLMAPIKey   string
	Active      bool   `gorm:"default:true"`
	AssistantID string `gorm:"comment:Bound external OpenAI Assistant id"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WhatsAppNumber is one gateway instance bound to an Agent.
// IsConnected and EvolutionStatus are the source of truth for whether
// outbound sends are permitted; QRCode is non-null only while the
// instance is in the connecting state.
type WhatsAppNumber struct {
	ID                 string `gorm:"primaryKey"`
	AgentID            string `gorm:"index"`
	InstanceName       string `gorm:"uniqueIndex;comment:Gateway instance identifier, the only stable key"`
	Number             string
	IsConnected        bool
	EvolutionStatus    ConnectionState `gorm:"default:disconnected"`
	QRCode             *string         `gorm:"type:text"`
	ConnectionAttempts int
	LastConnectedAt    *time.Time
	SessionData        string `gorm:"type:text;comment:Gateway instance descriptor persisted verbatim"`
	ChatwootAccountID  string
	ChatwootAgentToken string
	ChatwootInboxID    string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Conversation is one distinct remote contact under a WhatsAppNumber.
// At most one row exists per (WhatsAppNumberID, RemoteJID); historical
// rows may carry only ContactNumber, so lookups match on either field.
type Conversation struct {
	ID               string `gorm:"primaryKey"`
	WhatsAppNumberID string `gorm:"uniqueIndex:idx_conversation_number_jid"`
	RemoteJID        string `gorm:"column:remote_jid;uniqueIndex:idx_conversation_number_jid;comment:Canonical external address, e.g. number@s.whatsapp.net"`
	ContactNumber    string `gorm:"index;comment:Plain-number projection of RemoteJID"`
	ContactName      string
	LastMessageAt    time.Time `gorm:"index;comment:Monotonically advanced, never regressed"`
	Metadata         string    `gorm:"type:text"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Message is one unit of conversation content. ExternalID is the
// deduplication key: no two rows share (ConversationID, ExternalID).
type Message struct {
	ID             string `gorm:"primaryKey"`
	ConversationID string `gorm:"uniqueIndex:idx_message_conversation_external"`
	ExternalID     string `gorm:"uniqueIndex:idx_message_conversation_external"`
	Content        string `gorm:"type:text"`
	IsFromContact  bool
	Type           MessageType    `gorm:"default:text"`
	Status         DeliveryStatus `gorm:"index"`
	Timestamp      time.Time      `gorm:"index"`
	Metadata       string         `gorm:"type:text"`
	CreatedAt      time.Time
}

// KnowledgeFile is one uploaded knowledge document attached to an Agent.
type KnowledgeFile struct {
	ID          string `gorm:"primaryKey"`
	AgentID     string `gorm:"index"`
	FileName    string
	ObjectKey   string `gorm:"uniqueIndex"`
	Size        int64
	ContentType string
	CreatedAt   time.Time
}

// BeforeCreate assigns uuid primary keys so callers never have to.
func (a *Agent) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

func (n *WhatsAppNumber) BeforeCreate(*gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

func (c *Conversation) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

func (k *KnowledgeFile) BeforeCreate(*gorm.DB) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	return nil
}
