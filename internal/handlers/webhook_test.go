package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"zapdesk/internal/adapters/evolution"
	"zapdesk/internal/db"
	"zapdesk/internal/events"
	"zapdesk/internal/handlers"
	"zapdesk/internal/models"
	"zapdesk/internal/services"
	"zapdesk/internal/store"
)

func newWebhookFixture(t *testing.T) (*handlers.WebhookHandler, *store.Store) {
	t.Helper()
	gdb, err := db.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	st, err := store.New(gdb, events.NewBus())
	if err != nil {
		t.Fatal(err)
	}

	// Webhook ingest never calls out to the gateway, so any base URL
	// will do for the shared engine.
	gateway, err := evolution.NewClient("http://gateway.invalid", "test-key")
	if err != nil {
		t.Fatal(err)
	}
	sync, err := services.NewSyncEngine(gateway, st)
	if err != nil {
		t.Fatal(err)
	}
	conn, err := services.NewConnectionService(gateway, st, "")
	if err != nil {
		t.Fatal(err)
	}
	return handlers.NewWebhookHandler(st, sync, conn), st
}

func seedWebhookNumber(t *testing.T, st *store.Store, instance string) *models.WhatsAppNumber {
	t.Helper()
	agent := &models.Agent{Name: "Support Bot"}
	if err := st.CreateAgent(agent); err != nil {
		t.Fatal(err)
	}
	number := &models.WhatsAppNumber{AgentID: agent.ID, InstanceName: instance, Number: "5511999990000"}
	if err := st.CreateNumber(number); err != nil {
		t.Fatal(err)
	}
	return number
}

func postWebhook(t *testing.T, h *handlers.WebhookHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/evolution", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestWebhookMessagesUpsertIsIdempotent(t *testing.T) {
	h, st := newWebhookFixture(t)
	number := seedWebhookNumber(t, st, "inst1")

	body := `{"event":"messages.upsert","instance":"inst1","data":{
		"key":{"remoteJid":"5511999999999@s.whatsapp.net","fromMe":false,"id":"MSG1"},
		"pushName":"Alice",
		"message":{"conversation":"oi"},
		"messageTimestamp":1756728000
	}}`

	for i := 0; i < 2; i++ {
		if rec := postWebhook(t, h, body); rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d", i+1, rec.Code)
		}
	}

	convs, err := st.ListConversations(number.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("conversation rows = %d", len(convs))
	}
	count, err := st.CountMessages(convs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("message rows = %d, duplicate delivery must be a no-op", count)
	}
}

func TestWebhookAcceptsArrayPayloadAndUppercaseEvent(t *testing.T) {
	h, st := newWebhookFixture(t)
	number := seedWebhookNumber(t, st, "inst1")

	body := `{"event":"MESSAGES_UPSERT","instance":"inst1","data":[
		{"key":{"remoteJid":"5511999999999@s.whatsapp.net","fromMe":false,"id":"MSG1"},"message":{"conversation":"a"}},
		{"key":{"remoteJid":"5511999999999@s.whatsapp.net","fromMe":true,"id":"MSG2"},"message":{"conversation":"b"}}
	]}`
	if rec := postWebhook(t, h, body); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	convs, _ := st.ListConversations(number.ID)
	if len(convs) != 1 {
		t.Fatalf("conversation rows = %d", len(convs))
	}
	count, _ := st.CountMessages(convs[0].ID)
	if count != 2 {
		t.Fatalf("message rows = %d", count)
	}
}

func TestWebhookUnknownInstanceIsAcknowledged(t *testing.T) {
	h, _ := newWebhookFixture(t)

	body := `{"event":"messages.upsert","instance":"ghost","data":{
		"key":{"remoteJid":"5511999999999@s.whatsapp.net","id":"MSG1"},
		"message":{"conversation":"oi"}
	}}`
	if rec := postWebhook(t, h, body); rec.Code != http.StatusOK {
		t.Fatalf("unknown instance must still be acknowledged, status = %d", rec.Code)
	}
}

func TestWebhookMissingInstanceIsAcknowledged(t *testing.T) {
	h, _ := newWebhookFixture(t)
	if rec := postWebhook(t, h, `{"event":"messages.upsert","data":[]}`); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookUnhandledEventIsAcknowledged(t *testing.T) {
	h, st := newWebhookFixture(t)
	seedWebhookNumber(t, st, "inst1")
	if rec := postWebhook(t, h, `{"event":"presence.update","instance":"inst1","data":{}}`); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookConnectionUpdateAppliesState(t *testing.T) {
	h, st := newWebhookFixture(t)
	number := seedWebhookNumber(t, st, "inst1")
	qr := "pending-qr"
	number.QRCode = &qr
	number.EvolutionStatus = models.StateConnecting
	number.ConnectionAttempts = 2
	if err := st.SaveNumber(number); err != nil {
		t.Fatal(err)
	}

	body := `{"event":"connection.update","instance":"inst1","data":{"state":"open"}}`
	if rec := postWebhook(t, h, body); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	got, err := st.GetNumber(number.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsConnected || got.EvolutionStatus != models.StateConnected {
		t.Errorf("state = connected=%v status=%q", got.IsConnected, got.EvolutionStatus)
	}
	if got.QRCode != nil || got.ConnectionAttempts != 0 {
		t.Error("connect must clear QR and attempts")
	}
}

func TestWebhookQRCodeUpdatedStoresPayload(t *testing.T) {
	h, st := newWebhookFixture(t)
	number := seedWebhookNumber(t, st, "inst1")

	body := `{"event":"qrcode.updated","instance":"inst1","data":{"qrcode":{"base64":"data:image/png;base64,BBBB","code":"fallback"}}}`
	if rec := postWebhook(t, h, body); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	got, err := st.GetNumber(number.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.QRCode == nil || *got.QRCode != "data:image/png;base64,BBBB" {
		t.Error("pushed QR payload not stored")
	}
	if got.EvolutionStatus != models.StateConnecting {
		t.Errorf("status = %q", got.EvolutionStatus)
	}
}

func TestWebhookMalformedBodyIsAcknowledged(t *testing.T) {
	h, _ := newWebhookFixture(t)
	if rec := postWebhook(t, h, `{not json`); rec.Code != http.StatusOK {
		t.Fatalf("an undecodable body must not trigger gateway retries, status = %d", rec.Code)
	}
}
