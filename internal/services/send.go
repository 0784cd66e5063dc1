package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/adapters/evolution"
	"zapdesk/internal/models"
	"zapdesk/internal/store"
)

// SendService is the outbound compose path: persist the message as
// sending, hand it to the gateway, then advance it to sent or failed.
// The UI only offers the action on connected numbers; this path does
// not re-check connectivity, the gateway's answer is authoritative.
type SendService struct {
	gateway *evolution.Client
	store   *store.Store
	mirror  *MirrorService
}

func NewSendService(gateway *evolution.Client, st *store.Store, mirror *MirrorService) (*SendService, error) {
	if gateway == nil {
		return nil, fmt.Errorf("gateway client cannot be nil for SendService")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil for SendService")
	}
	if mirror == nil {
		return nil, fmt.Errorf("mirror service cannot be nil for SendService")
	}
	return &SendService{gateway: gateway, store: st, mirror: mirror}, nil
}

// SendText composes one outbound text message on a conversation. The
// returned message reflects the final status; a gateway failure is
// also returned as an error so the UI can report it.
func (s *SendService) SendText(ctx context.Context, conversationID, text string) (*models.Message, error) {
	conv, err := s.store.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}
	number, err := s.store.GetNumber(conv.WhatsAppNumberID)
	if err != nil {
		return nil, err
	}

	// The local id doubles as a provisional external id until the
	// gateway assigns the real one.
	msg := &models.Message{
		ConversationID: conv.ID,
		ExternalID:     "local-" + uuid.NewString(),
		Content:        text,
		IsFromContact:  false,
		Type:           models.TypeText,
		Status:         models.StatusSending,
		Timestamp:      time.Now().UTC(),
	}
	if _, err := s.store.InsertMessage(msg, ""); err != nil {
		return nil, err
	}

	resp, err := s.gateway.SendText(ctx, number.InstanceName, conv.ContactNumber, text)
	if err != nil {
		if statusErr := s.store.UpdateMessageStatus(msg.ID, models.StatusFailed); statusErr != nil {
			log.Error().Err(statusErr).Str("messageID", msg.ID).Msg("Failed to mark message as failed")
		}
		msg.Status = models.StatusFailed
		return msg, err
	}

	if err := s.store.MarkMessageSent(msg.ID, resp.Key.ID); err != nil {
		log.Error().Err(err).Str("messageID", msg.ID).Msg("Failed to mark message as sent")
	}
	msg.Status = models.StatusSent
	if resp.Key.ID != "" {
		msg.ExternalID = resp.Key.ID
	}

	s.mirror.MirrorMessage(ctx, number, conv, msg)

	log.Info().
		Str("messageID", msg.ID).
		Str("externalID", msg.ExternalID).
		Str("instance", number.InstanceName).
		Msg("Outbound message sent")
	return msg, nil
}
