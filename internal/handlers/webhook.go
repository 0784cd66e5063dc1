package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/adapters/evolution"
	"zapdesk/internal/models"
	"zapdesk/internal/services"
	"zapdesk/internal/store"
)

// WebhookHandler ingests gateway push events. It shares the sync
// engine's idempotent-upsert discipline, so webhook and pull-sync can
// observe the same event in either order and the second writer is a
// safe no-op. The gateway is always answered 2xx to prevent retry
// storms; per-record failures are logged only.
type WebhookHandler struct {
	store       *store.Store
	sync        *services.SyncEngine
	conn        *services.ConnectionService
	numberCache *cache.Cache
}

func NewWebhookHandler(st *store.Store, sync *services.SyncEngine, conn *services.ConnectionService) *WebhookHandler {
	if st == nil || sync == nil || conn == nil {
		log.Fatal().Msg("WebhookHandler dependencies cannot be nil")
	}
	return &WebhookHandler{
		store:       st,
		sync:        sync,
		conn:        conn,
		numberCache: cache.New(5*time.Minute, 10*time.Minute),
	}
}

// Handle processes one pushed event envelope.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var envelope evolution.WebhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		// Still acknowledged: a non-2xx would only make the gateway
		// retry a body that will never decode.
		log.Error().Err(err).Msg("Failed to decode webhook envelope")
		w.WriteHeader(http.StatusOK)
		return
	}

	event := normalizeEvent(envelope.Event)
	log.Info().Str("event", event).Str("instance", envelope.Instance).Msg("Received gateway event")

	if envelope.Instance == "" {
		// Without an instance there is no tenant context; the record
		// cannot be recovered.
		log.Warn().Str("event", event).Msg("Webhook event without instance, dropping")
		w.WriteHeader(http.StatusOK)
		return
	}

	switch event {
	case "messages.upsert":
		h.handleMessages(envelope)
	case "connection.update":
		h.handleConnectionUpdate(envelope)
	case "qrcode.updated":
		h.handleQRUpdate(envelope)
	default:
		// Status-only updates, presence and the rest are acknowledged
		// without mutation.
		log.Debug().Str("event", event).Msg("Unhandled gateway event class")
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleMessages(envelope evolution.WebhookEnvelope) {
	number := h.resolveNumber(envelope.Instance)
	if number == nil {
		return
	}

	records, err := envelope.MessageRecords()
	if err != nil {
		log.Error().Err(err).Str("instance", envelope.Instance).Msg("Failed to decode message records")
		return
	}

	for _, rec := range records {
		created, err := h.sync.IngestRecord(number, rec)
		if err != nil {
			log.Error().Err(err).
				Str("instance", envelope.Instance).
				Str("externalID", rec.Key.ID).
				Msg("Failed to ingest webhook message")
			continue
		}
		if created {
			log.Debug().Str("externalID", rec.Key.ID).Msg("Webhook message ingested")
		}
	}
}

func (h *WebhookHandler) handleConnectionUpdate(envelope evolution.WebhookEnvelope) {
	data, err := envelope.ConnectionUpdate()
	if err != nil {
		log.Error().Err(err).Str("instance", envelope.Instance).Msg("Failed to decode connection update")
		return
	}

	// Connection state must come from a fresh row, not the cache.
	number, err := h.store.GetNumberByInstance(envelope.Instance)
	if err != nil {
		log.Warn().Err(err).Str("instance", envelope.Instance).Msg("Connection update for unknown instance")
		return
	}

	if err := h.conn.ApplyRemoteState(number, data.EffectiveState()); err != nil {
		log.Error().Err(err).Str("instance", envelope.Instance).Msg("Failed to apply connection state")
		return
	}
	h.numberCache.Delete(envelope.Instance)
}

func (h *WebhookHandler) handleQRUpdate(envelope evolution.WebhookEnvelope) {
	data, err := envelope.QRCodeUpdate()
	if err != nil {
		log.Error().Err(err).Str("instance", envelope.Instance).Msg("Failed to decode QR update")
		return
	}

	number, err := h.store.GetNumberByInstance(envelope.Instance)
	if err != nil {
		log.Warn().Err(err).Str("instance", envelope.Instance).Msg("QR update for unknown instance")
		return
	}

	payload := data.QRCode.Base64
	if payload == "" {
		payload = data.QRCode.Code
	}
	if err := h.conn.StoreQR(number, payload); err != nil {
		log.Error().Err(err).Str("instance", envelope.Instance).Msg("Failed to store pushed QR code")
	}
}

// resolveNumber looks up the owning number by instance name through a
// short-lived cache; webhook bursts for the same instance skip the
// store round-trip.
func (h *WebhookHandler) resolveNumber(instance string) *models.WhatsAppNumber {
	if cached, found := h.numberCache.Get(instance); found {
		return cached.(*models.WhatsAppNumber)
	}

	number, err := h.store.GetNumberByInstance(instance)
	if err != nil {
		log.Warn().Err(err).Str("instance", instance).Msg("Webhook for unknown instance, dropping records")
		return nil
	}
	h.numberCache.Set(instance, number, cache.DefaultExpiration)
	return number
}

func normalizeEvent(event string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(event), "_", "."))
}
