package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration for the application, loaded from the
// environment (with an optional .env file for local development).
type Config struct {
	Port        string
	AdminToken  string
	DatabaseDSN string

	EvolutionBaseURL string
	EvolutionAPIKey  string
	WebhookPublicURL string

	OpenAIAPIKey string

	ChatwootBaseURL     string
	ChatwootAccessToken string

	RabbitMQURL   string
	RabbitMQQueue string

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
}

// Load reads configuration from environment variables. A missing .env
// file is not an error; set variables always take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded, relying on environment variables")
	}

	cfg := &Config{
		Port:        os.Getenv("PORT"),
		AdminToken:  os.Getenv("ADMIN_TOKEN"),
		DatabaseDSN: os.Getenv("DATABASE_DSN"),

		EvolutionBaseURL: os.Getenv("EVOLUTION_BASE_URL"),
		EvolutionAPIKey:  os.Getenv("EVOLUTION_API_KEY"),
		WebhookPublicURL: os.Getenv("WEBHOOK_PUBLIC_URL"),

		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),

		ChatwootBaseURL:     os.Getenv("CHATWOOT_BASE_URL"),
		ChatwootAccessToken: os.Getenv("CHATWOOT_ACCESS_TOKEN"),

		RabbitMQURL:   os.Getenv("RABBITMQ_URL"),
		RabbitMQQueue: os.Getenv("RABBITMQ_QUEUE"),

		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Region:    os.Getenv("S3_REGION"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = "zapdesk.db"
	}
	if cfg.RabbitMQQueue == "" {
		cfg.RabbitMQQueue = "zapdesk_events"
	}
	if cfg.EvolutionBaseURL == "" {
		return nil, fmt.Errorf("EVOLUTION_BASE_URL is required")
	}
	if cfg.EvolutionAPIKey == "" {
		return nil, fmt.Errorf("EVOLUTION_API_KEY is required")
	}

	return cfg, nil
}
