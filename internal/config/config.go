package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig aggregates runtime configuration. Everything is injected through environment
// variables; cmd/* load a .env file first.
type AppConfig struct {
	HTTPAddr    string
	DatabaseURL string
	RedisURL    string

	// Empty brokers disables event publishing
	KafkaBrokers []string
	KafkaTopic   string

	// Public routing used to build gateway callback urls
	BasePath     string
	PublicScheme string

	ZarinpalLiveURL    string
	ZarinpalSandboxURL string
	GatewayTimeout     time.Duration

	LedgerBaseURL string
	LedgerTimeout time.Duration
	Currency      string

	LockTTL          time.Duration
	BusinessCacheTTL time.Duration
	WorkerInterval   time.Duration
}

// Load reads and validates configuration, falling back to defaults where a key is unset.
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		KafkaBrokers:       splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "purchase-events"),
		BasePath:           strings.Trim(getEnv("BASE_PATH", "api/v1"), "/"),
		PublicScheme:       getEnv("PUBLIC_SCHEME", "https"),
		ZarinpalLiveURL:    strings.TrimRight(getEnv("ZARINPAL_LIVE_URL", "https://www.zarinpal.com"), "/"),
		ZarinpalSandboxURL: strings.TrimRight(getEnv("ZARINPAL_SANDBOX_URL", "https://sandbox.zarinpal.com"), "/"),
		LedgerBaseURL:      strings.TrimRight(getEnv("LEDGER_BASE_URL", ""), "/"),
		Currency:           getEnv("PLATFORM_CURRENCY", "IRR"),
	}

	durations := []struct {
		key      string
		fallback int
		unit     time.Duration
		dst      *time.Duration
	}{
		{"GATEWAY_TIMEOUT_SEC", 10, time.Second, &cfg.GatewayTimeout},
		{"LEDGER_TIMEOUT_SEC", 10, time.Second, &cfg.LedgerTimeout},
		{"LOCK_TTL_SEC", 30, time.Second, &cfg.LockTTL},
		{"BUSINESS_CACHE_TTL_SEC", 300, time.Second, &cfg.BusinessCacheTTL},
		{"WORKER_INTERVAL_SEC", 300, time.Second, &cfg.WorkerInterval},
	}
	for _, d := range durations {
		v, err := getEnvInt(d.key, d.fallback)
		if err != nil {
			return AppConfig{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if v <= 0 {
			return AppConfig{}, fmt.Errorf("%s must be > 0", d.key)
		}
		*d.dst = time.Duration(v) * d.unit
	}

	if cfg.PublicScheme != "http" && cfg.PublicScheme != "https" {
		return AppConfig{}, fmt.Errorf("PUBLIC_SCHEME must be http or https")
	}
	for key, raw := range map[string]string{
		"ZARINPAL_LIVE_URL":    cfg.ZarinpalLiveURL,
		"ZARINPAL_SANDBOX_URL": cfg.ZarinpalSandboxURL,
	} {
		if err := requireAbsoluteURL(raw); err != nil {
			return AppConfig{}, fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	if cfg.LedgerBaseURL != "" {
		if err := requireAbsoluteURL(cfg.LedgerBaseURL); err != nil {
			return AppConfig{}, fmt.Errorf("invalid LEDGER_BASE_URL: %w", err)
		}
	}
	if cfg.Currency == "" {
		return AppConfig{}, fmt.Errorf("PLATFORM_CURRENCY must not be empty")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

func requireAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not absolute", raw)
	}
	return nil
}

// getEnv reads a string variable, returning fallback when it is empty.
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt reads an integer variable, returning fallback when it is empty.
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// splitCSV parses a comma separated list, dropping blanks.
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
