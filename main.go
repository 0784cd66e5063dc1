package main

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"zapdesk/config"
	"zapdesk/internal/adapters/chatwoot"
	"zapdesk/internal/adapters/evolution"
	"zapdesk/internal/adapters/openai"
	"zapdesk/internal/db"
	"zapdesk/internal/events"
	"zapdesk/internal/handlers"
	"zapdesk/internal/realtime"
	"zapdesk/internal/services"
	"zapdesk/internal/storage"
	"zapdesk/internal/store"
	"zapdesk/pkg/logger"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	gdb, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	bus := events.NewBus()

	st, err := store.New(gdb, bus)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}

	gateway, err := evolution.NewClient(cfg.EvolutionBaseURL, cfg.EvolutionAPIKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Evolution client")
	}

	var assistant *openai.Client
	if cfg.OpenAIAPIKey != "" {
		if assistant, err = openai.NewClient(cfg.OpenAIAPIKey); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize OpenAI client")
		}
	} else {
		log.Info().Msg("OPENAI_API_KEY is not set. Assistant provisioning disabled.")
	}

	var inboxMirror *chatwoot.Client
	if cfg.ChatwootBaseURL != "" && cfg.ChatwootAccessToken != "" {
		if inboxMirror, err = chatwoot.NewClient(cfg.ChatwootBaseURL, cfg.ChatwootAccessToken); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Chatwoot client")
		}
	} else {
		log.Info().Msg("Chatwoot is not configured. Inbox mirroring disabled.")
	}

	knowledge, err := storage.NewKnowledgeStore(storage.KnowledgeConfig{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize knowledge store")
	}

	syncEngine, err := services.NewSyncEngine(gateway, st)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize SyncEngine")
	}
	connService, err := services.NewConnectionService(gateway, st, cfg.WebhookPublicURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ConnectionService")
	}
	mirror := services.NewMirrorService(inboxMirror, st)
	sendService, err := services.NewSendService(gateway, st, mirror)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize SendService")
	}
	agentService, err := services.NewAgentService(st, assistant, knowledge)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize AgentService")
	}

	hub := realtime.NewHub(bus)
	go hub.Run()
	defer hub.Stop()

	rabbit := events.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue)
	go rabbit.Run(bus.Subscribe())
	defer rabbit.Close()

	api := handlers.NewAPI(st, agentService, connService, syncEngine, sendService)
	webhook := handlers.NewWebhookHandler(st, syncEngine, connService)
	router := handlers.NewRouter(api, webhook, hub, cfg.AdminToken)

	log.Info().Str("port", cfg.Port).Msg("Server starting")
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}
