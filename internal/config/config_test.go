package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("AI_GATING_MODE", "")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("USE_MEMORY_QUEUE", "")
	t.Setenv("DISPATCH_TIMEOUT", "")
	t.Setenv("URGENT_ALERT_RECIPIENTS", "")
	t.Setenv("URGENT_ALERT_PHONES", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.GatingMode != "legacy" {
		t.Fatalf("expected legacy gating mode by default, got %s", cfg.GatingMode)
	}
	if cfg.LLMProvider != "none" {
		t.Fatalf("expected no llm provider by default, got %s", cfg.LLMProvider)
	}
	if !cfg.UseMemoryQueue {
		t.Fatalf("expected memory queue by default")
	}
	if cfg.DispatchTimeout != 10*time.Second {
		t.Fatalf("expected 10s dispatch timeout, got %s", cfg.DispatchTimeout)
	}
	if cfg.UrgentAlertRecipients != nil {
		t.Fatalf("expected no alert recipients, got %v", cfg.UrgentAlertRecipients)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("AI_GATING_MODE", " AS_NAMED ")
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("USE_MEMORY_QUEUE", "false")
	t.Setenv("AI_CONFIG_CACHE_TTL", "1m")
	t.Setenv("URGENT_ALERT_RECIPIENTS", "recepcion@clinica.es, , doctora@clinica.es")
	t.Setenv("URGENT_ALERT_PHONES", "600111222")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://panel.clinica.es")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected env override, got %s", cfg.Env)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected database url override, got %s", cfg.DatabaseURL)
	}
	if cfg.GatingMode != "as_named" {
		t.Fatalf("expected normalized gating mode, got %q", cfg.GatingMode)
	}
	if cfg.LLMProvider != "gemini" {
		t.Fatalf("expected lowercased provider, got %q", cfg.LLMProvider)
	}
	if cfg.WorkerCount != 8 {
		t.Fatalf("expected worker count 8, got %d", cfg.WorkerCount)
	}
	if cfg.UseMemoryQueue {
		t.Fatalf("expected memory queue disabled")
	}
	if cfg.AIConfigCacheTTL != time.Minute {
		t.Fatalf("expected 1m cache ttl, got %s", cfg.AIConfigCacheTTL)
	}
	if len(cfg.UrgentAlertRecipients) != 2 || cfg.UrgentAlertRecipients[1] != "doctora@clinica.es" {
		t.Fatalf("unexpected recipients: %v", cfg.UrgentAlertRecipients)
	}
	if len(cfg.UrgentAlertPhones) != 1 || cfg.UrgentAlertPhones[0] != "600111222" {
		t.Fatalf("unexpected alert phones: %v", cfg.UrgentAlertPhones)
	}
	if len(cfg.CORSAllowedOrigins) != 1 {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSAllowedOrigins)
	}
}

func TestInvalidNumbersFallBackToDefaults(t *testing.T) {
	t.Setenv("WORKER_COUNT", "many")
	t.Setenv("DISPATCH_TIMEOUT", "soon")
	cfg := Load()
	if cfg.WorkerCount != 4 {
		t.Fatalf("expected default worker count, got %d", cfg.WorkerCount)
	}
	if cfg.DispatchTimeout != 10*time.Second {
		t.Fatalf("expected default dispatch timeout, got %s", cfg.DispatchTimeout)
	}
}
