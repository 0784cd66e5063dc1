package services_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"zapdesk/internal/adapters/evolution"
	"zapdesk/internal/db"
	"zapdesk/internal/events"
	"zapdesk/internal/models"
	"zapdesk/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	gdb, err := db.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	st, err := store.New(gdb, events.NewBus())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return st
}

// newFakeGateway serves the given mux as the Evolution API and returns
// a client bound to it.
func newFakeGateway(t *testing.T, mux *http.ServeMux) *evolution.Client {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := evolution.NewClient(server.URL, "test-key")
	if err != nil {
		t.Fatalf("creating gateway client: %v", err)
	}
	return client
}

func seedNumber(t *testing.T, st *store.Store, instance string) *models.WhatsAppNumber {
	t.Helper()
	agent := &models.Agent{Name: "Support Bot", UserID: "user-1"}
	if err := st.CreateAgent(agent); err != nil {
		t.Fatalf("creating agent: %v", err)
	}
	number := &models.WhatsAppNumber{
		AgentID:      agent.ID,
		InstanceName: instance,
		Number:       "5511999990000",
	}
	if err := st.CreateNumber(number); err != nil {
		t.Fatalf("creating number: %v", err)
	}
	return number
}
