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
store:
  currency: eur
  allowed_downloads: 3
  pending_ttl: 48h
paypal:
  receiver_email: shop@example.com
kafka:
  brokers: ["kafka-1:9092"]
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Store.Currency != "EUR" {
		t.Fatalf("unexpected currency: %s", cfg.Store.Currency)
	}
	if cfg.Store.AllowedDownloads != 3 {
		t.Fatalf("unexpected allowed downloads: %d", cfg.Store.AllowedDownloads)
	}
	if cfg.Store.PendingTTL != 48*time.Hour {
		t.Fatalf("unexpected pending ttl: %s", cfg.Store.PendingTTL)
	}
	if cfg.PayPal.ReceiverEmail != "shop@example.com" {
		t.Fatalf("unexpected receiver email: %s", cfg.PayPal.ReceiverEmail)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "kafka-1:9092" {
		t.Fatalf("unexpected kafka brokers: %v", cfg.Kafka.Brokers)
	}

	if cfg.Store.ReviewCopyDownloads != 1 {
		t.Fatalf("review copy downloads default should stay 1")
	}
	if cfg.PayPal.VerifyTimeout != 5*time.Second {
		t.Fatalf("verify timeout default should stay 5s")
	}
	if len(cfg.PayPal.TxnTypes) != 3 {
		t.Fatalf("txn types default should stay intact: %v", cfg.PayPal.TxnTypes)
	}
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Store.Currency != "USD" {
		t.Fatalf("unexpected default currency: %s", cfg.Store.Currency)
	}
	if cfg.Store.PendingTTL != 24*time.Hour {
		t.Fatalf("unexpected default pending ttl: %s", cfg.Store.PendingTTL)
	}
	if cfg.PayPal.VerifyURL != PayPalSandboxURL {
		t.Fatalf("unexpected default verify url: %s", cfg.PayPal.VerifyURL)
	}
}

func TestLoadSelectsLiveVerifyURL(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PAYPAL_SANDBOX", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PayPal.VerifyURL != PayPalLiveURL {
		t.Fatalf("unexpected verify url: %s", cfg.PayPal.VerifyURL)
	}
}

func TestLoadExplicitVerifyURLWins(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PAYPAL_VERIFY_URL", "http://127.0.0.1:9999/verify")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PayPal.VerifyURL != "http://127.0.0.1:9999/verify" {
		t.Fatalf("unexpected verify url: %s", cfg.PayPal.VerifyURL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("STORE_ALLOWED_DOWNLOADS", "7")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("PAYPAL_VERIFY_TIMEOUT", "2s")
	t.Setenv("JWT_ISSUER", "accounts.bookstore")
	t.Setenv("JWT_LEEWAY", "1m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Store.AllowedDownloads != 7 {
		t.Fatalf("unexpected allowed downloads: %d", cfg.Store.AllowedDownloads)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.PayPal.VerifyTimeout != 2*time.Second {
		t.Fatalf("unexpected verify timeout: %s", cfg.PayPal.VerifyTimeout)
	}
	if cfg.Auth.Issuer != "accounts.bookstore" || cfg.Auth.Leeway != time.Minute {
		t.Fatalf("unexpected auth config: %+v", cfg.Auth)
	}
}

func TestLoadRejectsInvalidEnvValue(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("STORE_PENDING_TTL", "soon")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadRejectsDefaultSecretInProduction(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("APP_ENV", "prod")
	t.Setenv("PAYPAL_SANDBOX", "false")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation error for default jwt secret")
	}

	t.Setenv("JWT_SECRET", "a-real-secret")
	if _, err := Load(""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRejectsSandboxInProduction(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("APP_ENV", "prod")
	t.Setenv("JWT_SECRET", "a-real-secret")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation error for sandbox in production")
	}
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV",
		"HTTP_ADDR",
		"HTTP_READ_TIMEOUT",
		"HTTP_WRITE_TIMEOUT",
		"HTTP_IDLE_TIMEOUT",
		"LOG_LEVEL",
		"POSTGRES_DSN",
		"POSTGRES_MIGRATE",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"REDIS_GROUP_TTL",
		"S3_ENDPOINT",
		"S3_ACCESS_KEY",
		"S3_SECRET_KEY",
		"S3_BUCKET",
		"S3_USE_SSL",
		"JWT_SECRET",
		"JWT_ISSUER",
		"JWT_LEEWAY",
		"PAYPAL_SANDBOX",
		"PAYPAL_VERIFY_URL",
		"PAYPAL_VERIFY_TIMEOUT",
		"PAYPAL_RECEIVER_EMAIL",
		"STORE_CURRENCY",
		"STORE_ALLOWED_DOWNLOADS",
		"STORE_PENDING_TTL",
		"STORE_PUBLIC_BASE_URL",
		"STORE_DOWNLOAD_RATE_PER_MINUTE",
		"KAFKA_BROKERS",
		"KAFKA_TOPIC",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}
