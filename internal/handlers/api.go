package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
	"github.com/vincent-petithory/dataurl"

	"zapdesk/internal/services"
	"zapdesk/internal/store"
)

// API serves the UI-facing REST surface.
type API struct {
	store  *store.Store
	agents *services.AgentService
	conn   *services.ConnectionService
	sync   *services.SyncEngine
	send   *services.SendService
}

func NewAPI(st *store.Store, agents *services.AgentService, conn *services.ConnectionService, sync *services.SyncEngine, send *services.SendService) *API {
	if st == nil || agents == nil || conn == nil || sync == nil || send == nil {
		log.Fatal().Msg("API dependencies cannot be nil")
	}
	return &API{store: st, agents: agents, conn: conn, sync: sync, send: send}
}

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func respondWithError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondWithJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	respondWithJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
}

// --- Agents ---

func (a *API) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var input services.AgentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	agent, err := a.agents.Create(r.Context(), r.Header.Get("X-User-ID"), input)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, agent)
}

func (a *API) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := a.store.ListAgents(r.Header.Get("X-User-ID"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, agents)
}

func (a *API) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := a.store.GetAgent(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, agent)
}

func (a *API) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	var input services.AgentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	agent, err := a.agents.Update(r.Context(), mux.Vars(r)["id"], input)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, agent)
}

func (a *API) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := a.agents.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) UploadKnowledge(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 20<<20))
	if err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	fileName := r.Header.Get("X-File-Name")
	if fileName == "" {
		fileName = "knowledge.txt"
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	file, err := a.agents.UploadKnowledge(r.Context(), mux.Vars(r)["id"], fileName, contentType, data)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, file)
}

// --- WhatsApp numbers ---

func (a *API) CreateNumber(w http.ResponseWriter, r *http.Request) {
	var input struct {
		AgentID string `json:"agent_id"`
		Number  string `json:"number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	number, err := a.conn.CreateNumber(r.Context(), input.AgentID, input.Number)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, number)
}

func (a *API) ListNumbers(w http.ResponseWriter, r *http.Request) {
	numbers, err := a.store.ListNumbers(r.URL.Query().Get("agent_id"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, numbers)
}

func (a *API) RequestQR(w http.ResponseWriter, r *http.Request) {
	number, qr, err := a.conn.RequestQR(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"number": number,
		"qr":     qr,
	})
}

// QRImage serves the current QR payload as a PNG. Gateways deliver
// either a ready-made base64 data URL or a bare pairing string; the
// latter is rendered locally.
func (a *API) QRImage(w http.ResponseWriter, r *http.Request) {
	number, err := a.store.GetNumber(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	if number.QRCode == nil || *number.QRCode == "" {
		respondWithJSON(w, http.StatusNotFound, map[string]string{"error": "no QR code available"})
		return
	}

	payload := *number.QRCode
	if strings.HasPrefix(payload, "data:") {
		decoded, err := dataurl.DecodeString(payload)
		if err != nil {
			respondWithJSON(w, http.StatusInternalServerError, map[string]string{"error": "invalid QR payload"})
			return
		}
		w.Header().Set("Content-Type", decoded.ContentType())
		w.WriteHeader(http.StatusOK)
		w.Write(decoded.Data)
		return
	}

	png, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		respondWithJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to render QR code"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (a *API) PollStatus(w http.ResponseWriter, r *http.Request) {
	number, err := a.conn.PollStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, number)
}

func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	number, err := a.conn.Logout(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, number)
}

// SyncNow runs an on-demand reconciliation. scope narrows the run to
// one sub-sync; default is everything.
func (a *API) SyncNow(w http.ResponseWriter, r *http.Request) {
	number, err := a.store.GetNumber(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}

	var result services.SyncResult
	switch r.URL.Query().Get("scope") {
	case "chats":
		result, err = a.sync.SyncChats(r.Context(), number)
	case "contacts":
		result, err = a.sync.SyncContacts(r.Context(), number)
	case "messages":
		result, err = a.sync.SyncMessages(r.Context(), number, r.URL.Query().Get("remote_jid"))
	default:
		result, err = a.sync.SyncAll(r.Context(), number)
	}
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// --- Conversations & messages ---

func (a *API) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := a.store.ListConversations(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, convs)
}

func (a *API) ListMessages(w http.ResponseWriter, r *http.Request) {
	if _, err := a.store.GetConversation(mux.Vars(r)["id"]); err != nil {
		respondWithError(w, err)
		return
	}
	msgs, err := a.store.ListMessages(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, msgs)
}

func (a *API) SendMessage(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.Text == "" {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	msg, err := a.send.SendText(r.Context(), mux.Vars(r)["id"], input.Text)
	if err != nil {
		if msg != nil {
			// The message row exists in failed state; report both.
			respondWithJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":   err.Error(),
				"message": msg,
			})
			return
		}
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, msg)
}
