package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/realtime"
)

// NewRouter wires the full HTTP surface: the authenticated UI API, the
// unauthenticated gateway webhook, and the realtime websocket.
func NewRouter(api *API, webhook *WebhookHandler, hub *realtime.Hub, adminToken string) *mux.Router {
	router := mux.NewRouter()

	chain := alice.New(requestLogger, authMiddleware(adminToken))

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Handle("/agents", chain.ThenFunc(api.CreateAgent)).Methods(http.MethodPost)
	apiRouter.Handle("/agents", chain.ThenFunc(api.ListAgents)).Methods(http.MethodGet)
	apiRouter.Handle("/agents/{id}", chain.ThenFunc(api.GetAgent)).Methods(http.MethodGet)
	apiRouter.Handle("/agents/{id}", chain.ThenFunc(api.UpdateAgent)).Methods(http.MethodPut)
	apiRouter.Handle("/agents/{id}", chain.ThenFunc(api.DeleteAgent)).Methods(http.MethodDelete)
	apiRouter.Handle("/agents/{id}/knowledge", chain.ThenFunc(api.UploadKnowledge)).Methods(http.MethodPost)

	apiRouter.Handle("/numbers", chain.ThenFunc(api.CreateNumber)).Methods(http.MethodPost)
	apiRouter.Handle("/numbers", chain.ThenFunc(api.ListNumbers)).Methods(http.MethodGet)
	apiRouter.Handle("/numbers/{id}/qr", chain.ThenFunc(api.RequestQR)).Methods(http.MethodGet)
	apiRouter.Handle("/numbers/{id}/qr.png", chain.ThenFunc(api.QRImage)).Methods(http.MethodGet)
	apiRouter.Handle("/numbers/{id}/status", chain.ThenFunc(api.PollStatus)).Methods(http.MethodPost)
	apiRouter.Handle("/numbers/{id}/session", chain.ThenFunc(api.Logout)).Methods(http.MethodDelete)
	apiRouter.Handle("/numbers/{id}/sync", chain.ThenFunc(api.SyncNow)).Methods(http.MethodPost)
	apiRouter.Handle("/numbers/{id}/conversations", chain.ThenFunc(api.ListConversations)).Methods(http.MethodGet)

	apiRouter.Handle("/conversations/{id}/messages", chain.ThenFunc(api.ListMessages)).Methods(http.MethodGet)
	apiRouter.Handle("/conversations/{id}/messages", chain.ThenFunc(api.SendMessage)).Methods(http.MethodPost)

	// The gateway authenticates by knowing the path; it must always be
	// answered promptly, so no middleware chain here.
	router.HandleFunc("/webhooks/evolution", webhook.Handle).Methods(http.MethodPost)

	router.HandleFunc("/ws", hub.ServeWS)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return router
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// authMiddleware enforces the admin bearer token. Session management
// itself is delegated to the fronting auth service; this is the last
// line of defense for direct API access.
func authMiddleware(adminToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminToken == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token != adminToken {
				respondWithJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
