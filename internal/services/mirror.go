package services

import (
	"context"
	"strconv"

	"github.com/rs/zerolog/log"

	"zapdesk/internal/adapters/chatwoot"
	"zapdesk/internal/models"
	"zapdesk/internal/store"
)

// chatwootConversationKey is the metadata key under which a
// conversation remembers its mirrored Chatwoot conversation id.
const chatwootConversationKey = "chatwoot_conversation_id"

// MirrorService reflects messages into the bound Chatwoot inbox.
// Mirroring is strictly best-effort: a failure is logged and never
// surfaces to the message pipeline.
type MirrorService struct {
	chatwoot *chatwoot.Client
	store    *store.Store
}

// NewMirrorService accepts a nil Chatwoot client, in which case every
// mirror call is a no-op. This keeps the wiring unconditional.
func NewMirrorService(cw *chatwoot.Client, st *store.Store) *MirrorService {
	return &MirrorService{chatwoot: cw, store: st}
}

// MirrorMessage reflects one message into Chatwoot, resolving or
// creating the mirrored contact and conversation on first use.
func (m *MirrorService) MirrorMessage(ctx context.Context, number *models.WhatsAppNumber, conv *models.Conversation, msg *models.Message) {
	if m.chatwoot == nil || number.ChatwootAccountID == "" || number.ChatwootInboxID == "" {
		return
	}

	convID, err := m.resolveConversation(ctx, number, conv)
	if err != nil {
		log.Error().Err(err).Str("conversationID", conv.ID).Msg("Failed to resolve mirrored Chatwoot conversation")
		return
	}

	messageType := "outgoing"
	if msg.IsFromContact {
		messageType = "incoming"
	}
	_, err = m.chatwoot.CreateMessage(ctx, number.ChatwootAccountID, convID, chatwoot.MessagePayload{
		Content:     msg.Content,
		MessageType: messageType,
		SourceID:    msg.ExternalID,
	})
	if err != nil {
		log.Error().Err(err).Str("messageID", msg.ID).Msg("Failed to mirror message to Chatwoot")
		return
	}
	log.Debug().Str("messageID", msg.ID).Int("chatwootConversationID", convID).Msg("Message mirrored to Chatwoot")
}

func (m *MirrorService) resolveConversation(ctx context.Context, number *models.WhatsAppNumber, conv *models.Conversation) (int, error) {
	if cached := store.MetaValue(conv, chatwootConversationKey); cached != "" {
		if id, err := strconv.Atoi(cached); err == nil {
			return id, nil
		}
	}

	inboxID, err := strconv.Atoi(number.ChatwootInboxID)
	if err != nil {
		return 0, err
	}

	contact, err := m.chatwoot.FindContactByPhone(ctx, number.ChatwootAccountID, conv.ContactNumber)
	if err != nil {
		return 0, err
	}
	if contact == nil {
		contact, err = m.chatwoot.CreateContact(ctx, number.ChatwootAccountID, chatwoot.ContactPayload{
			InboxID:     inboxID,
			Name:        conv.ContactName,
			PhoneNumber: conv.ContactNumber,
			Identifier:  conv.RemoteJID,
		})
		if err != nil {
			return 0, err
		}
	}

	mirrored, err := m.chatwoot.CreateConversation(ctx, number.ChatwootAccountID, chatwoot.ConversationPayload{
		SourceID:  conv.RemoteJID,
		InboxID:   inboxID,
		ContactID: contact.ID,
		Status:    "open",
	})
	if err != nil {
		return 0, err
	}

	if err := m.store.SetMetaValue(conv.ID, chatwootConversationKey, strconv.Itoa(mirrored.ID)); err != nil {
		log.Warn().Err(err).Str("conversationID", conv.ID).Msg("Could not cache mirrored conversation id")
	}
	return mirrored.ID, nil
}
