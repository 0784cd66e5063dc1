package store_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"zapdesk/internal/db"
	"zapdesk/internal/events"
	"zapdesk/internal/models"
	"zapdesk/internal/store"
)

func newTestStore(t *testing.T) (*store.Store, *events.Bus) {
	t.Helper()
	gdb, err := db.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	bus := events.NewBus()
	st, err := store.New(gdb, bus)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return st, bus
}

func newTestNumber(t *testing.T, st *store.Store) *models.WhatsAppNumber {
	t.Helper()
	agent := &models.Agent{Name: "Support Bot", UserID: "user-1"}
	if err := st.CreateAgent(agent); err != nil {
		t.Fatalf("creating agent: %v", err)
	}
	number := &models.WhatsAppNumber{
		AgentID:      agent.ID,
		InstanceName: "test-" + uuid.NewString()[:8],
		Number:       "5511999990000",
	}
	if err := st.CreateNumber(number); err != nil {
		t.Fatalf("creating number: %v", err)
	}
	return number
}

func TestUpsertConversationIsIdempotent(t *testing.T) {
	st, _ := newTestStore(t)
	number := newTestNumber(t, st)

	conv, created, err := st.UpsertConversation(number.ID, "5511999999999@s.whatsapp.net", "Alice", "")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("first upsert must create")
	}
	if conv.ContactNumber != "5511999999999" {
		t.Errorf("contact number projection = %q", conv.ContactNumber)
	}

	again, created, err := st.UpsertConversation(number.ID, "5511999999999@s.whatsapp.net", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("second upsert must resolve, not create")
	}
	if again.ID != conv.ID {
		t.Errorf("resolved a different conversation: %s vs %s", again.ID, conv.ID)
	}
}

func TestFindConversationMatchesLegacyContactNumberRows(t *testing.T) {
	st, _ := newTestStore(t)
	number := newTestNumber(t, st)

	// Rows imported from older installs carry the plain number in both
	// address fields.
	legacy := models.Conversation{
		WhatsAppNumberID: number.ID,
		RemoteJID:        "5511888888888",
		ContactNumber:    "5511888888888",
		ContactName:      "Bob",
	}
	if err := st.DB().Create(&legacy).Error; err != nil {
		t.Fatal(err)
	}

	conv, created, err := st.UpsertConversation(number.ID, "5511888888888@s.whatsapp.net", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("upsert must resolve the legacy row, not create a duplicate")
	}
	if conv.ID != legacy.ID {
		t.Errorf("resolved %s, want legacy row %s", conv.ID, legacy.ID)
	}
}

func TestInsertMessageDeduplicatesByExternalID(t *testing.T) {
	st, _ := newTestStore(t)
	number := newTestNumber(t, st)
	conv, _, err := st.UpsertConversation(number.ID, "5511999999999@s.whatsapp.net", "", "")
	if err != nil {
		t.Fatal(err)
	}

	msg := models.Message{
		ConversationID: conv.ID,
		ExternalID:     "GATEWAY-MSG-1",
		Content:        "first delivery",
		IsFromContact:  true,
		Type:           models.TypeText,
		Status:         models.StatusDelivered,
		Timestamp:      time.Now().UTC(),
	}
	created, err := st.InsertMessage(&msg, "Alice")
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}

	duplicate := models.Message{
		ConversationID: conv.ID,
		ExternalID:     "GATEWAY-MSG-1",
		Content:        "second delivery of the same event",
		IsFromContact:  true,
		Type:           models.TypeText,
		Status:         models.StatusDelivered,
		Timestamp:      time.Now().UTC(),
	}
	created, err = st.InsertMessage(&duplicate, "")
	if err != nil {
		t.Fatalf("duplicate insert must be a no-op success, got %v", err)
	}
	if created {
		t.Fatal("duplicate insert reported as created")
	}

	count, err := st.CountMessages(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("message count = %d, want 1", count)
	}
}

func TestTouchConversationIsMonotonic(t *testing.T) {
	st, _ := newTestStore(t)
	number := newTestNumber(t, st)
	conv, _, err := st.UpsertConversation(number.ID, "5511999999999@s.whatsapp.net", "", "")
	if err != nil {
		t.Fatal(err)
	}

	newer := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if err := st.TouchConversation(conv.ID, newer, "Alice"); err != nil {
		t.Fatal(err)
	}

	older := newer.Add(-time.Hour)
	if err := st.TouchConversation(conv.ID, older, ""); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetConversation(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastMessageAt.Equal(newer) {
		t.Errorf("last_message_at regressed to %v", got.LastMessageAt)
	}
	if got.ContactName != "Alice" {
		t.Errorf("contact name = %q", got.ContactName)
	}

	// An already-set name is not overwritten by later touches.
	if err := st.TouchConversation(conv.ID, newer.Add(time.Hour), "Someone Else"); err != nil {
		t.Fatal(err)
	}
	got, _ = st.GetConversation(conv.ID)
	if got.ContactName != "Alice" {
		t.Errorf("contact name overwritten to %q", got.ContactName)
	}
}

func TestTouchConversationSilentWhenNothingChanged(t *testing.T) {
	st, bus := newTestStore(t)
	number := newTestNumber(t, st)
	conv, _, err := st.UpsertConversation(number.ID, "5511999999999@s.whatsapp.net", "", "")
	if err != nil {
		t.Fatal(err)
	}

	newer := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if err := st.TouchConversation(conv.ID, newer, "Alice"); err != nil {
		t.Fatal(err)
	}

	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	// Stale timestamp, name already set: no row changes, no event.
	if err := st.TouchConversation(conv.ID, newer.Add(-time.Hour), "Alice"); err != nil {
		t.Fatal(err)
	}
	if len(sub.C) != 0 {
		ev := <-sub.C
		t.Fatalf("spurious %s %s event for an unchanged conversation", ev.Resource, ev.Action)
	}

	// A real advance publishes again.
	if err := st.TouchConversation(conv.ID, newer.Add(time.Hour), ""); err != nil {
		t.Fatal(err)
	}
	if len(sub.C) != 1 {
		t.Fatalf("events after a real advance = %d, want 1", len(sub.C))
	}
}

func TestMessageEventsReachSubscribers(t *testing.T) {
	st, bus := newTestStore(t)
	number := newTestNumber(t, st)
	conv, _, err := st.UpsertConversation(number.ID, "5511999999999@s.whatsapp.net", "", "")
	if err != nil {
		t.Fatal(err)
	}

	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	msg := models.Message{
		ConversationID: conv.ID,
		ExternalID:     "GATEWAY-MSG-2",
		Content:        "ping",
		IsFromContact:  true,
		Status:         models.StatusDelivered,
		Timestamp:      time.Now().UTC(),
	}
	if _, err := st.InsertMessage(&msg, ""); err != nil {
		t.Fatal(err)
	}

	var sawInsert bool
	for len(sub.C) > 0 {
		ev := <-sub.C
		if ev.Resource == events.ResourceMessage && ev.Action == events.ActionInsert {
			sawInsert = true
			if ev.NumberID != number.ID {
				t.Errorf("event number id = %q, want %q", ev.NumberID, number.ID)
			}
		}
	}
	if !sawInsert {
		t.Fatal("no message insert event published")
	}
}

func TestMarkMessageSentAdoptsGatewayID(t *testing.T) {
	st, _ := newTestStore(t)
	number := newTestNumber(t, st)
	conv, _, err := st.UpsertConversation(number.ID, "5511999999999@s.whatsapp.net", "", "")
	if err != nil {
		t.Fatal(err)
	}

	msg := models.Message{
		ConversationID: conv.ID,
		ExternalID:     "local-provisional",
		Content:        "outbound",
		Status:         models.StatusSending,
		Timestamp:      time.Now().UTC(),
	}
	if _, err := st.InsertMessage(&msg, ""); err != nil {
		t.Fatal(err)
	}

	if err := st.MarkMessageSent(msg.ID, "GATEWAY-ASSIGNED"); err != nil {
		t.Fatal(err)
	}

	msgs, err := st.ListMessages(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("message count = %d", len(msgs))
	}
	if msgs[0].ExternalID != "GATEWAY-ASSIGNED" {
		t.Errorf("external id = %q", msgs[0].ExternalID)
	}
	if msgs[0].Status != models.StatusSent {
		t.Errorf("status = %q", msgs[0].Status)
	}
}

func TestUpdateMessageStatusUnknownID(t *testing.T) {
	st, _ := newTestStore(t)
	err := st.UpdateMessageStatus("no-such-message", models.StatusRead)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteAgentCascades(t *testing.T) {
	st, _ := newTestStore(t)
	number := newTestNumber(t, st)
	conv, _, err := st.UpsertConversation(number.ID, "5511999999999@s.whatsapp.net", "", "")
	if err != nil {
		t.Fatal(err)
	}
	msg := models.Message{
		ConversationID: conv.ID,
		ExternalID:     "GATEWAY-MSG-3",
		Content:        "to be removed",
		Status:         models.StatusDelivered,
		Timestamp:      time.Now().UTC(),
	}
	if _, err := st.InsertMessage(&msg, ""); err != nil {
		t.Fatal(err)
	}

	if err := st.DeleteAgent(number.AgentID); err != nil {
		t.Fatal(err)
	}

	if _, err := st.GetAgent(number.AgentID); !errors.Is(err, store.ErrNotFound) {
		t.Error("agent survived deletion")
	}
	if _, err := st.GetNumber(number.ID); !errors.Is(err, store.ErrNotFound) {
		t.Error("number survived agent deletion")
	}
	if _, err := st.GetConversation(conv.ID); !errors.Is(err, store.ErrNotFound) {
		t.Error("conversation survived agent deletion")
	}
	count, err := st.CountMessages(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("messages survived agent deletion: %d", count)
	}
}

func TestMetaValueRoundTrip(t *testing.T) {
	st, _ := newTestStore(t)
	number := newTestNumber(t, st)
	conv, _, err := st.UpsertConversation(number.ID, "5511999999999@s.whatsapp.net", "", `{"push_name":"Alice"}`)
	if err != nil {
		t.Fatal(err)
	}

	if err := st.SetMetaValue(conv.ID, "chatwoot_conversation_id", "42"); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetConversation(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if v := store.MetaValue(got, "chatwoot_conversation_id"); v != "42" {
		t.Errorf("meta value = %q", v)
	}
	if v := store.MetaValue(got, "push_name"); v != "Alice" {
		t.Errorf("pre-existing meta value lost: %q", v)
	}
	if v := store.MetaValue(got, "missing"); v != "" {
		t.Errorf("missing key = %q", v)
	}
}
