// Package config reads service settings from the environment. A .env file in
// the working directory is loaded first when present.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port        string
	Store       string
	PostgresURL string

	KafkaBrokers []string
	EventsTopic  string
	RedisURL     string

	PaystackSecretKey string
	PaystackBaseURL   string
	FrontendURL       string
	Currency          string
	GatewayTimeout    time.Duration

	EmailServiceURL string
	RepairInterval  time.Duration
	HTTPTimeout     time.Duration

	OTLPEndpoint string
}

// Load reads the configuration. Only malformed values are errors; callers
// decide which settings they require.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:              getenv("PORT", "8080"),
		Store:             strings.ToLower(getenv("STORE", StorePostgres)),
		PostgresURL:       os.Getenv("POSTGRES_URL"),
		KafkaBrokers:      splitCSV(os.Getenv("KAFKA_BROKERS")),
		EventsTopic:       getenv("EVENTS_TOPIC", "order.events"),
		RedisURL:          os.Getenv("REDIS_URL"),
		PaystackSecretKey: os.Getenv("PAYSTACK_SECRET_KEY"),
		PaystackBaseURL:   os.Getenv("PAYSTACK_BASE_URL"),
		FrontendURL:       getenv("FRONTEND_URL", "http://localhost:3000"),
		Currency:          strings.ToUpper(getenv("CURRENCY", "GHS")),
		EmailServiceURL:   os.Getenv("EMAIL_SERVICE_URL"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var err error
	if cfg.GatewayTimeout, err = duration("GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RepairInterval, err = duration("REPAIR_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.HTTPTimeout, err = duration("HTTP_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}

	switch cfg.Store {
	case StorePostgres, StoreMemory:
	default:
		return Config{}, fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store)
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return d, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
