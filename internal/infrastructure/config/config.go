package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`

	Webhook        WebhookConfig        `koanf:"webhook"`
	Provider       ProviderConfig       `koanf:"provider"`
	Reconciliation ReconciliationConfig `koanf:"reconciliation"`
	Telemetry      TelemetryConfig      `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// URL is optional; when empty the service runs on the in-memory store.
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	// URL is optional; when empty the per-call lock stays in-process and
	// webhook rate limiting falls back to a local token bucket.
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type WebhookConfig struct {
	// Secret enables HMAC signature verification when non-empty. Absence is
	// a deliberately permissive fallback logged once at startup.
	Secret            string `koanf:"secret"`
	RequestsPerSecond int    `koanf:"requests_per_second"`
	Burst             int    `koanf:"burst"`
}

type ProviderConfig struct {
	Name       string        `koanf:"name"`
	BaseURL    string        `koanf:"base_url"`
	APIKey     string        `koanf:"api_key"`
	FromNumber string        `koanf:"from_number"`
	Timeout    time.Duration `koanf:"timeout"`
}

type ReconciliationConfig struct {
	// RequireExistingRecords makes update-only events against unknown
	// correlation ids fail with not-found instead of creating skeletons.
	RequireExistingRecords bool          `koanf:"require_existing_records"`
	LockTTL                time.Duration `koanf:"lock_ttl"`
}

type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Webhook: WebhookConfig{
			RequestsPerSecond: 100,
			Burst:             200,
		},
		Provider: ProviderConfig{
			Name:    "vapi",
			Timeout: 10 * time.Second,
		},
		Reconciliation: ReconciliationConfig{
			RequireExistingRecords: true,
			LockTTL:                10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			SamplingRate: 1.0,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional.
	if path == "" {
		path = "configs/config.yaml"
	}
	_ = k.Load(file.Provider(path), yaml.Parser())

	// Environment variables override everything else. A double underscore
	// separates nesting levels so keys like log_level stay intact:
	// CALLFLOW_WEBHOOK__SECRET -> webhook.secret.
	if err := k.Load(env.Provider("CALLFLOW_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "CALLFLOW_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
