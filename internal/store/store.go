// Package store is the read/write contract against the persistent
// store. All three writers (pull-sync, webhook ingest, outbound
// compose) go through it, so the uniqueness and monotonicity
// invariants live here and nowhere else.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"zapdesk/internal/events"
	"zapdesk/internal/models"
	"zapdesk/internal/normalize"
)

// ErrNotFound is returned when a referenced record does not exist.
// It aborts the specific operation and never cascades.
var ErrNotFound = errors.New("record not found")

// Store wraps the database handle and publishes change events after
// successful writes.
type Store struct {
	db  *gorm.DB
	bus *events.Bus
}

func New(db *gorm.DB, bus *events.Bus) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle cannot be nil")
	}
	if bus == nil {
		return nil, fmt.Errorf("event bus cannot be nil")
	}
	return &Store{db: db, bus: bus}, nil
}

// DB exposes the underlying handle for test fixtures.
func (s *Store) DB() *gorm.DB { return s.db }

// --- Agents ---

func (s *Store) CreateAgent(agent *models.Agent) error {
	return s.db.Create(agent).Error
}

func (s *Store) GetAgent(id string) (*models.Agent, error) {
	var agent models.Agent
	if err := s.db.First(&agent, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &agent, nil
}

func (s *Store) ListAgents(userID string) ([]models.Agent, error) {
	var agents []models.Agent
	q := s.db.Order("created_at desc")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	return agents, q.Find(&agents).Error
}

func (s *Store) UpdateAgent(agent *models.Agent) error {
	return s.db.Save(agent).Error
}

// DeleteAgent removes an agent together with its bound numbers,
// conversations, messages and knowledge files.
func (s *Store) DeleteAgent(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var numbers []models.WhatsAppNumber
		if err := tx.Where("agent_id = ?", id).Find(&numbers).Error; err != nil {
			return err
		}
		for _, n := range numbers {
			var convIDs []string
			if err := tx.Model(&models.Conversation{}).
				Where("whats_app_number_id = ?", n.ID).
				Pluck("id", &convIDs).Error; err != nil {
				return err
			}
			if len(convIDs) > 0 {
				if err := tx.Where("conversation_id IN ?", convIDs).Delete(&models.Message{}).Error; err != nil {
					return err
				}
				if err := tx.Where("id IN ?", convIDs).Delete(&models.Conversation{}).Error; err != nil {
					return err
				}
			}
		}
		if err := tx.Where("agent_id = ?", id).Delete(&models.WhatsAppNumber{}).Error; err != nil {
			return err
		}
		if err := tx.Where("agent_id = ?", id).Delete(&models.KnowledgeFile{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Agent{}, "id = ?", id).Error
	})
}

// --- WhatsApp numbers ---

func (s *Store) CreateNumber(number *models.WhatsAppNumber) error {
	return s.db.Create(number).Error
}

func (s *Store) GetNumber(id string) (*models.WhatsAppNumber, error) {
	var number models.WhatsAppNumber
	if err := s.db.First(&number, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &number, nil
}

// GetNumberByInstance resolves a number by its gateway instance name,
// the only stable key once multiple numbers can share a display name.
func (s *Store) GetNumberByInstance(instance string) (*models.WhatsAppNumber, error) {
	var number models.WhatsAppNumber
	if err := s.db.First(&number, "instance_name = ?", instance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &number, nil
}

func (s *Store) ListNumbers(agentID string) ([]models.WhatsAppNumber, error) {
	var numbers []models.WhatsAppNumber
	q := s.db.Order("created_at desc")
	if agentID != "" {
		q = q.Where("agent_id = ?", agentID)
	}
	return numbers, q.Find(&numbers).Error
}

// SaveNumber persists a number's full row and publishes an update
// event so connected sessions see connection-state changes.
func (s *Store) SaveNumber(number *models.WhatsAppNumber) error {
	if err := s.db.Save(number).Error; err != nil {
		return err
	}
	s.bus.Publish(events.ChangeEvent{
		Resource: events.ResourceNumber,
		Action:   events.ActionUpdate,
		NumberID: number.ID,
		Number:   number,
	})
	return nil
}

// --- Conversations ---

// FindConversation resolves the conversation for a remote identity
// under a number. Historical rows may carry only the plain contact
// number, so the predicate matches either field.
func (s *Store) FindConversation(numberID, remoteJID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.
		Where("whats_app_number_id = ?", numberID).
		Where("remote_jid = ? OR contact_number = ?", remoteJID, normalize.ContactNumber(remoteJID)).
		First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// UpsertConversation resolves or creates the single conversation for
// (numberID, remoteJID). The insert is conditional on the uniqueness
// key, so two writers racing to create the same conversation both end
// up with the same row; the loser's insert is a benign no-op.
// Returns the conversation and whether this call created it.
func (s *Store) UpsertConversation(numberID, remoteJID, contactName, metadata string) (*models.Conversation, bool, error) {
	if conv, err := s.FindConversation(numberID, remoteJID); err == nil {
		return conv, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	conv := models.Conversation{
		WhatsAppNumberID: numberID,
		RemoteJID:        remoteJID,
		ContactNumber:    normalize.ContactNumber(remoteJID),
		ContactName:      contactName,
		Metadata:         metadata,
	}
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "whats_app_number_id"}, {Name: "remote_jid"}},
		DoNothing: true,
	}).Create(&conv)
	if res.Error != nil {
		return nil, false, res.Error
	}

	if res.RowsAffected == 0 {
		// Lost the race; the winner's row is authoritative.
		existing, err := s.FindConversation(numberID, remoteJID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	s.bus.Publish(events.ChangeEvent{
		Resource:     events.ResourceConversation,
		Action:       events.ActionInsert,
		NumberID:     numberID,
		Conversation: &conv,
	})
	return &conv, true, nil
}

// TouchConversation advances a conversation's bookkeeping after a new
// message: the last-message timestamp only ever moves forward, and the
// display name is enriched when one is known. An update event is
// published only when a row actually changed; stale timestamps from
// duplicate-leaning batches stay silent.
func (s *Store) TouchConversation(convID string, lastMessageAt time.Time, contactName string) error {
	res := s.db.Model(&models.Conversation{}).
		Where("id = ? AND last_message_at < ?", convID, lastMessageAt).
		Update("last_message_at", lastMessageAt)
	if res.Error != nil {
		return res.Error
	}
	changed := res.RowsAffected > 0

	if contactName != "" {
		res := s.db.Model(&models.Conversation{}).
			Where("id = ? AND (contact_name = '' OR contact_name IS NULL)", convID).
			Update("contact_name", contactName)
		if res.Error != nil {
			return res.Error
		}
		changed = changed || res.RowsAffected > 0
	}

	if !changed {
		return nil
	}

	var conv models.Conversation
	if err := s.db.First(&conv, "id = ?", convID).Error; err != nil {
		return err
	}
	s.bus.Publish(events.ChangeEvent{
		Resource:     events.ResourceConversation,
		Action:       events.ActionUpdate,
		NumberID:     conv.WhatsAppNumberID,
		Conversation: &conv,
	})
	return nil
}

// UpdateConversationName sets the display name of an existing
// conversation; it never creates one. Used by the contact sync, which
// only enriches names.
func (s *Store) UpdateConversationName(numberID, remoteJID, name string) (bool, error) {
	conv, err := s.FindConversation(numberID, remoteJID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.db.Model(conv).Update("contact_name", name).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetConversation(id string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.First(&conv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

func (s *Store) ListConversations(numberID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.db.
		Where("whats_app_number_id = ?", numberID).
		Order("last_message_at desc").
		Find(&convs).Error
	return convs, err
}

// --- Messages ---

// InsertMessage persists a message if its external id is not already
// present under the conversation. A duplicate is a no-op success, not
// an error: this is the idempotency guarantee against duplicate
// webhook delivery and overlapping pull-syncs. On a real insert the
// conversation bookkeeping is advanced and change events published.
func (s *Store) InsertMessage(msg *models.Message, contactName string) (bool, error) {
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "external_id"}},
		DoNothing: true,
	}).Create(msg)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		log.Debug().
			Str("conversationID", msg.ConversationID).
			Str("externalID", msg.ExternalID).
			Msg("Duplicate message, skipping insert")
		return false, nil
	}

	var conv models.Conversation
	numberID := ""
	if err := s.db.First(&conv, "id = ?", msg.ConversationID).Error; err == nil {
		numberID = conv.WhatsAppNumberID
	}

	s.bus.Publish(events.ChangeEvent{
		Resource: events.ResourceMessage,
		Action:   events.ActionInsert,
		NumberID: numberID,
		Message:  msg,
	})

	if err := s.TouchConversation(msg.ConversationID, msg.Timestamp, contactName); err != nil {
		log.Error().Err(err).Str("conversationID", msg.ConversationID).Msg("Failed to touch conversation after insert")
	}
	return true, nil
}

// UpdateMessageStatus advances a message's delivery status.
func (s *Store) UpdateMessageStatus(messageID string, status models.DeliveryStatus) error {
	res := s.db.Model(&models.Message{}).Where("id = ?", messageID).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	var msg models.Message
	if err := s.db.First(&msg, "id = ?", messageID).Error; err == nil {
		s.bus.Publish(events.ChangeEvent{
			Resource: events.ResourceMessage,
			Action:   events.ActionUpdate,
			Message:  &msg,
		})
	}
	return nil
}

// MarkMessageSent records a successful gateway send: the message
// advances to sent and adopts the gateway-assigned external id so a
// later webhook echo of the same message deduplicates against it. If
// the echo arrived first the id is already taken; the status update
// still applies and the duplicate row is left to the unique index.
func (s *Store) MarkMessageSent(messageID, externalID string) error {
	if externalID != "" {
		err := s.db.Model(&models.Message{}).
			Where("id = ?", messageID).
			Update("external_id", externalID).Error
		if err != nil {
			log.Warn().Err(err).
				Str("messageID", messageID).
				Str("externalID", externalID).
				Msg("Could not adopt gateway message id, keeping local id")
		}
	}
	return s.UpdateMessageStatus(messageID, models.StatusSent)
}

func (s *Store) ListMessages(conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.
		Where("conversation_id = ?", conversationID).
		Order("timestamp asc").
		Find(&msgs).Error
	return msgs, err
}

func (s *Store) CountMessages(conversationID string) (int64, error) {
	var count int64
	err := s.db.Model(&models.Message{}).Where("conversation_id = ?", conversationID).Count(&count).Error
	return count, err
}

// --- Knowledge files ---

func (s *Store) CreateKnowledgeFile(file *models.KnowledgeFile) error {
	return s.db.Create(file).Error
}

func (s *Store) ListKnowledgeFiles(agentID string) ([]models.KnowledgeFile, error) {
	var files []models.KnowledgeFile
	return files, s.db.Where("agent_id = ?", agentID).Order("created_at desc").Find(&files).Error
}
