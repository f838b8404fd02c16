package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadUsesDefaultsAndYAMLOverrides(t *testing.T) {
	clearConfigEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	yaml := `
backend:
  base_url: https://api.example.test
checkout:
  payment_window: 45m
  poll_interval: 2s
  poll_max_attempts: 50
  purchase_list_ttl: 5m
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Backend.BaseURL != "https://api.example.test" {
		t.Fatalf("unexpected backend base url: %s", cfg.Backend.BaseURL)
	}
	if cfg.Checkout.PaymentWindow != 45*time.Minute {
		t.Fatalf("unexpected payment window: %s", cfg.Checkout.PaymentWindow)
	}
	if cfg.Checkout.PollInterval != 2*time.Second {
		t.Fatalf("unexpected poll interval: %s", cfg.Checkout.PollInterval)
	}
	if cfg.Checkout.PollMaxAttempts != 50 {
		t.Fatalf("unexpected poll max attempts: %d", cfg.Checkout.PollMaxAttempts)
	}
	if cfg.Checkout.PurchaseListTTL != 5*time.Minute {
		t.Fatalf("unexpected purchase list ttl: %s", cfg.Checkout.PurchaseListTTL)
	}

	// Untouched defaults survive a partial YAML.
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("unexpected http addr default: %s", cfg.HTTP.Addr)
	}
	if cfg.Checkout.PreviewDebounce != 300*time.Millisecond {
		t.Fatalf("unexpected preview debounce default: %s", cfg.Checkout.PreviewDebounce)
	}
}

func TestEnvOverridesBeatYAML(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("BACKEND_BASE_URL", "https://env.example.test")
	t.Setenv("CHECKOUT_PAYMENT_WINDOW", "10m")
	t.Setenv("CHECKOUT_POLL_MAX_ATTEMPTS", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Backend.BaseURL != "https://env.example.test" {
		t.Fatalf("unexpected backend base url: %s", cfg.Backend.BaseURL)
	}
	if cfg.Checkout.PaymentWindow != 10*time.Minute {
		t.Fatalf("unexpected payment window: %s", cfg.Checkout.PaymentWindow)
	}
	if cfg.Checkout.PollMaxAttempts != 7 {
		t.Fatalf("unexpected poll max attempts: %d", cfg.Checkout.PollMaxAttempts)
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("CHECKOUT_POLL_INTERVAL", "not-a-duration")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for invalid duration override")
	}
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "HTTP_ADDR", "LOG_LEVEL", "POSTGRES_DSN", "REDIS_ADDR",
		"BACKEND_BASE_URL", "BACKEND_TIMEOUT",
		"CHECKOUT_PAYMENT_WINDOW", "CHECKOUT_POLL_INTERVAL",
		"CHECKOUT_POLL_MAX_ATTEMPTS", "CHECKOUT_PREVIEW_DEBOUNCE",
		"CHECKOUT_PURCHASE_LIST_TTL", "CHECKOUT_RECONCILE_INTERVAL",
		"NOTIFY_TELEGRAM_TOKEN", "NOTIFY_TELEGRAM_CHAT_ID",
	} {
		t.Setenv(key, "")
	}
}
