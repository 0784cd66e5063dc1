package config

import "testing"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("EVOLUTION_BASE_URL", "https://gateway.example.test")
	t.Setenv("EVOLUTION_API_KEY", "test-key")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("RABBITMQ_QUEUE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %q", cfg.Port)
	}
	if cfg.DatabaseDSN != "zapdesk.db" {
		t.Errorf("dsn = %q", cfg.DatabaseDSN)
	}
	if cfg.RabbitMQQueue != "zapdesk_events" {
		t.Errorf("queue = %q", cfg.RabbitMQQueue)
	}
}

func TestLoadRequiresGatewayBinding(t *testing.T) {
	t.Setenv("EVOLUTION_BASE_URL", "")
	t.Setenv("EVOLUTION_API_KEY", "test-key")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without EVOLUTION_BASE_URL")
	}

	t.Setenv("EVOLUTION_BASE_URL", "https://gateway.example.test")
	t.Setenv("EVOLUTION_API_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without EVOLUTION_API_KEY")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ADMIN_TOKEN", "secret")
	t.Setenv("WEBHOOK_PUBLIC_URL", "https://zapdesk.example.test/webhooks/evolution")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "9090" || cfg.AdminToken != "secret" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.WebhookPublicURL != "https://zapdesk.example.test/webhooks/evolution" {
		t.Errorf("webhook url = %q", cfg.WebhookPublicURL)
	}
}
