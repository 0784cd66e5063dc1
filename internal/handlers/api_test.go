package handlers_test

import (
	"encoding/json"
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
	"zapdesk/internal/realtime"
	"zapdesk/internal/services"
	"zapdesk/internal/store"
)

// newAPIFixture wires the whole HTTP surface against a fake gateway.
func newAPIFixture(t *testing.T, gatewayMux *http.ServeMux, adminToken string) (*httptest.Server, *store.Store) {
	t.Helper()
	gdb, err := db.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	bus := events.NewBus()
	st, err := store.New(gdb, bus)
	if err != nil {
		t.Fatal(err)
	}

	gatewayServer := httptest.NewServer(gatewayMux)
	t.Cleanup(gatewayServer.Close)
	gateway, err := evolution.NewClient(gatewayServer.URL, "test-key")
	if err != nil {
		t.Fatal(err)
	}

	sync, err := services.NewSyncEngine(gateway, st)
	if err != nil {
		t.Fatal(err)
	}
	conn, err := services.NewConnectionService(gateway, st, "https://example.test/webhooks/evolution")
	if err != nil {
		t.Fatal(err)
	}
	send, err := services.NewSendService(gateway, st, services.NewMirrorService(nil, st))
	if err != nil {
		t.Fatal(err)
	}
	agents, err := services.NewAgentService(st, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	hub := realtime.NewHub(bus)
	t.Cleanup(hub.Stop)

	api := handlers.NewAPI(st, agents, conn, sync, send)
	webhook := handlers.NewWebhookHandler(st, sync, conn)
	router := handlers.NewRouter(api, webhook, hub, adminToken)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, st
}

func request(t *testing.T, method, url, token, body string, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newAPIFixture(t, http.NewServeMux(), "")
	var body map[string]string
	if code := request(t, http.MethodGet, server.URL+"/health", "", "", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestAdminTokenEnforcement(t *testing.T) {
	server, _ := newAPIFixture(t, http.NewServeMux(), "secret-token")

	if code := request(t, http.MethodGet, server.URL+"/api/agents", "", "", nil); code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d", code)
	}
	if code := request(t, http.MethodGet, server.URL+"/api/agents", "wrong", "", nil); code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d", code)
	}
	if code := request(t, http.MethodGet, server.URL+"/api/agents", "secret-token", "", nil); code != http.StatusOK {
		t.Errorf("valid token: status = %d", code)
	}
}

func TestAgentLifecycleOverHTTP(t *testing.T) {
	server, _ := newAPIFixture(t, http.NewServeMux(), "")

	var created models.Agent
	code := request(t, http.MethodPost, server.URL+"/api/agents", "",
		`{"name":"Support Bot","prompt":"Be helpful."}`, &created)
	if code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if created.ID == "" || created.Name != "Support Bot" || !created.Active {
		t.Fatalf("created agent = %+v", created)
	}

	var updated models.Agent
	code = request(t, http.MethodPut, server.URL+"/api/agents/"+created.ID, "",
		`{"prompt":"Be concise.","active":false}`, &updated)
	if code != http.StatusOK {
		t.Fatalf("update status = %d", code)
	}
	if updated.Prompt != "Be concise." || updated.Active {
		t.Fatalf("updated agent = %+v", updated)
	}

	var agents []models.Agent
	if code := request(t, http.MethodGet, server.URL+"/api/agents", "", "", &agents); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if len(agents) != 1 {
		t.Fatalf("agents = %d", len(agents))
	}

	if code := request(t, http.MethodDelete, server.URL+"/api/agents/"+created.ID, "", "", nil); code != http.StatusOK {
		t.Fatalf("delete status = %d", code)
	}
	if code := request(t, http.MethodGet, server.URL+"/api/agents/"+created.ID, "", "", nil); code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", code)
	}
}

func TestCreateNumberProvisionsInstance(t *testing.T) {
	gatewayMux := http.NewServeMux()
	var gotCreate evolution.CreateInstanceRequest
	gatewayMux.HandleFunc("/instance/create", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotCreate); err != nil {
			t.Errorf("decoding create body: %v", err)
		}
		w.Write([]byte(`{"instance":{"instanceName":"` + gotCreate.InstanceName + `","status":"created"}}`))
	})

	server, st := newAPIFixture(t, gatewayMux, "")

	agent := &models.Agent{Name: "Support Bot"}
	if err := st.CreateAgent(agent); err != nil {
		t.Fatal(err)
	}

	var number models.WhatsAppNumber
	code := request(t, http.MethodPost, server.URL+"/api/numbers", "",
		`{"agent_id":"`+agent.ID+`","number":"5511999990000"}`, &number)
	if code != http.StatusCreated {
		t.Fatalf("status = %d", code)
	}
	if number.EvolutionStatus != models.StateDisconnected || number.IsConnected {
		t.Errorf("fresh number state = %+v", number)
	}
	if gotCreate.Webhook.URL != "https://example.test/webhooks/evolution" {
		t.Errorf("webhook url = %q", gotCreate.Webhook.URL)
	}
	if len(gotCreate.Webhook.Events) == 0 {
		t.Error("no webhook events subscribed")
	}
	if number.SessionData == "" {
		t.Error("gateway descriptor not persisted")
	}
}

func TestSendMessageEndpointReportsFailure(t *testing.T) {
	gatewayMux := http.NewServeMux()
	gatewayMux.HandleFunc("/message/sendText/inst1", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not connected"}`, http.StatusBadRequest)
	})

	server, st := newAPIFixture(t, gatewayMux, "")
	agent := &models.Agent{Name: "Support Bot"}
	if err := st.CreateAgent(agent); err != nil {
		t.Fatal(err)
	}
	number := &models.WhatsAppNumber{AgentID: agent.ID, InstanceName: "inst1"}
	if err := st.CreateNumber(number); err != nil {
		t.Fatal(err)
	}
	conv, _, err := st.UpsertConversation(number.ID, "5511999999999@s.whatsapp.net", "", "")
	if err != nil {
		t.Fatal(err)
	}

	var body struct {
		Error   string         `json:"error"`
		Message models.Message `json:"message"`
	}
	code := request(t, http.MethodPost, server.URL+"/api/conversations/"+conv.ID+"/messages", "",
		`{"text":"hello"}`, &body)
	if code != http.StatusBadGateway {
		t.Fatalf("status = %d", code)
	}
	if body.Error == "" {
		t.Error("error missing from response")
	}
	if body.Message.Status != models.StatusFailed {
		t.Errorf("message status = %q", body.Message.Status)
	}
}

func TestListMessagesUnknownConversation(t *testing.T) {
	server, _ := newAPIFixture(t, http.NewServeMux(), "")
	if code := request(t, http.MethodGet, server.URL+"/api/conversations/ghost/messages", "", "", nil); code != http.StatusNotFound {
		t.Fatalf("status = %d", code)
	}
}
