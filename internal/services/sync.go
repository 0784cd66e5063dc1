package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"zapdesk/internal/adapters/evolution"
	"zapdesk/internal/models"
	"zapdesk/internal/normalize"
	"zapdesk/internal/store"
)

// SyncResult aggregates what one reconciliation pass accomplished.
// Counts reflect successes only; per-item failures are logged and
// skipped.
type SyncResult struct {
	ChatsObserved        int `json:"chats_observed"`
	ConversationsCreated int `json:"conversations_created"`
	ContactsUpdated      int `json:"contacts_updated"`
	MessagesObserved     int `json:"messages_observed"`
	MessagesCreated      int `json:"messages_created"`
}

// Add sums two results; SyncAll is the sum of its three sub-syncs.
func (r SyncResult) Add(other SyncResult) SyncResult {
	r.ChatsObserved += other.ChatsObserved
	r.ConversationsCreated += other.ConversationsCreated
	r.ContactsUpdated += other.ContactsUpdated
	r.MessagesObserved += other.MessagesObserved
	r.MessagesCreated += other.MessagesCreated
	return r
}

// SyncEngine reconciles the full remote state of one gateway instance
// into local storage. Every operation is idempotent and safe to run
// concurrently with webhook ingest for the same instance: both sides
// share the store's conditional-insert discipline.
type SyncEngine struct {
	gateway *evolution.Client
	store   *store.Store
}

func NewSyncEngine(gateway *evolution.Client, st *store.Store) (*SyncEngine, error) {
	if gateway == nil {
		return nil, fmt.Errorf("gateway client cannot be nil for SyncEngine")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil for SyncEngine")
	}
	return &SyncEngine{gateway: gateway, store: st}, nil
}

// SyncChats pulls the remote chat list and resolves or creates a
// conversation per non-group entry. A remote-fetch failure aborts the
// whole sub-sync; a single failed upsert does not.
func (e *SyncEngine) SyncChats(ctx context.Context, number *models.WhatsAppNumber) (SyncResult, error) {
	chats, err := e.gateway.FindChats(ctx, number.InstanceName)
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync chats: %w", err)
	}

	var result SyncResult
	for _, chat := range chats {
		jid := chat.JID()
		if jid == "" || normalize.IsGroup(jid) {
			continue
		}
		result.ChatsObserved++

		metadata := chatMetadata(chat)
		name := chat.Name
		if name == "" {
			name = chat.PushName
		}

		conv, created, err := e.store.UpsertConversation(number.ID, jid, name, metadata)
		if err != nil {
			log.Error().Err(err).Str("remoteJID", jid).Str("instance", number.InstanceName).Msg("Failed to upsert conversation during chat sync")
			continue
		}
		if created {
			result.ConversationsCreated++
		} else if ts := chat.UpdatedAt.Time(); !ts.IsZero() {
			if err := e.store.TouchConversation(conv.ID, ts, name); err != nil {
				log.Error().Err(err).Str("conversationID", conv.ID).Msg("Failed to touch conversation during chat sync")
			}
		}
	}

	log.Info().
		Str("instance", number.InstanceName).
		Int("observed", result.ChatsObserved).
		Int("created", result.ConversationsCreated).
		Msg("Chat sync completed")
	return result, nil
}

// SyncContacts pulls the remote contact directory and enriches the
// display name of matching existing conversations. It never creates
// conversations; contacts with no resolvable name are skipped.
func (e *SyncEngine) SyncContacts(ctx context.Context, number *models.WhatsAppNumber) (SyncResult, error) {
	contacts, err := e.gateway.FindContacts(ctx, number.InstanceName)
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync contacts: %w", err)
	}

	var result SyncResult
	for _, contact := range contacts {
		jid := contact.JID()
		name := contact.DisplayName()
		if jid == "" || name == "" || normalize.IsGroup(jid) {
			continue
		}

		updated, err := e.store.UpdateConversationName(number.ID, jid, name)
		if err != nil {
			log.Error().Err(err).Str("remoteJID", jid).Msg("Failed to update conversation name during contact sync")
			continue
		}
		if updated {
			result.ContactsUpdated++
		}
	}

	log.Info().
		Str("instance", number.InstanceName).
		Int("updated", result.ContactsUpdated).
		Msg("Contact sync completed")
	return result, nil
}

// SyncMessages pulls the remote message history, optionally scoped to
// one remote JID, normalizes each record and inserts it under the
// conditional-insert discipline. An already-known external id is a
// no-op, not an error.
func (e *SyncEngine) SyncMessages(ctx context.Context, number *models.WhatsAppNumber, remoteJID string) (SyncResult, error) {
	records, err := e.gateway.FindMessages(ctx, number.InstanceName, remoteJID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync messages: %w", err)
	}

	var result SyncResult
	for _, rec := range records {
		draft, ok := normalize.Message(rec, time.Now().UTC())
		if !ok {
			continue
		}
		result.MessagesObserved++

		created, err := e.ingestDraft(number, draft, rec)
		if err != nil {
			log.Error().Err(err).
				Str("externalID", draft.ExternalID).
				Str("remoteJID", draft.RemoteJID).
				Msg("Failed to ingest message during sync")
			continue
		}
		if created {
			result.MessagesCreated++
		}
	}

	log.Info().
		Str("instance", number.InstanceName).
		Int("observed", result.MessagesObserved).
		Int("created", result.MessagesCreated).
		Msg("Message sync completed")
	return result, nil
}

// SyncAll is the sequential composition chats, contacts, messages.
// There is no partial rollback: sub-syncs that succeeded stay synced
// even when a later one fails.
func (e *SyncEngine) SyncAll(ctx context.Context, number *models.WhatsAppNumber) (SyncResult, error) {
	result, err := e.SyncChats(ctx, number)
	if err != nil {
		return result, err
	}

	contacts, err := e.SyncContacts(ctx, number)
	result = result.Add(contacts)
	if err != nil {
		return result, err
	}

	messages, err := e.SyncMessages(ctx, number, "")
	result = result.Add(messages)
	if err != nil {
		return result, err
	}
	return result, nil
}

// IngestRecord applies the sync discipline to a single pushed record.
// Shared with the webhook handler so whichever writer observes an
// event first wins and the other is a safe no-op.
func (e *SyncEngine) IngestRecord(number *models.WhatsAppNumber, rec evolution.MessageRecord) (bool, error) {
	draft, ok := normalize.Message(rec, time.Now().UTC())
	if !ok {
		return false, nil
	}
	return e.ingestDraft(number, draft, rec)
}

func (e *SyncEngine) ingestDraft(number *models.WhatsAppNumber, draft normalize.Draft, rec evolution.MessageRecord) (bool, error) {
	conv, _, err := e.store.UpsertConversation(number.ID, draft.RemoteJID, draft.PushName, "")
	if err != nil {
		return false, err
	}

	msg := models.Message{
		ConversationID: conv.ID,
		ExternalID:     draft.ExternalID,
		Content:        draft.Content,
		IsFromContact:  draft.IsFromContact,
		Type:           draft.Type,
		Status:         normalize.DeliveryStatus(rec.Status, draft.IsFromContact),
		Timestamp:      draft.Timestamp,
		Metadata:       messageMetadata(rec),
	}
	return e.store.InsertMessage(&msg, draft.PushName)
}

func chatMetadata(chat evolution.ChatRecord) string {
	meta := map[string]string{}
	if chat.PushName != "" {
		meta["push_name"] = chat.PushName
	}
	if chat.ProfilePicURL != "" {
		meta["profile_pic_url"] = chat.ProfilePicURL
	}
	if chat.WindowStart != "" {
		meta["window_start"] = chat.WindowStart
	}
	if chat.WindowExpires != "" {
		meta["window_expires"] = chat.WindowExpires
	}
	if len(meta) == 0 {
		return ""
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return string(data)
}

func messageMetadata(rec evolution.MessageRecord) string {
	meta := map[string]any{
		"remote_jid": rec.Key.RemoteJID,
		"from_me":    rec.Key.FromMe,
	}
	if rec.PushName != "" {
		meta["push_name"] = rec.PushName
	}
	if len(rec.ContextInfo) > 0 {
		meta["context"] = json.RawMessage(rec.ContextInfo)
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return string(data)
}
