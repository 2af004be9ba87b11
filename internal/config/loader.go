package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "scholaris.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SCHOLARIS_PORT")
	setString(&cfg.Server.CORSOrigin, "SCHOLARIS_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SCHOLARIS_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SCHOLARIS_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SCHOLARIS_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SCHOLARIS_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SCHOLARIS_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Model.URL, "SCHOLARIS_MODEL_URL")
	setString(&cfg.Model.APIKey, "SCHOLARIS_MODEL_API_KEY")
	setString(&cfg.Model.Default, "SCHOLARIS_MODEL_DEFAULT")
	setInt(&cfg.Model.MaxTokens, "SCHOLARIS_MODEL_MAX_TOKENS")
	setDuration(&cfg.Model.Timeout, "SCHOLARIS_MODEL_TIMEOUT")
	setString(&cfg.Logging.Level, "SCHOLARIS_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SCHOLARIS_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SCHOLARIS_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "SCHOLARIS_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SCHOLARIS_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "SCHOLARIS_RATE_RPS")
	setInt(&cfg.Rate.Burst, "SCHOLARIS_RATE_BURST")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "SCHOLARIS_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1TTL, "SCHOLARIS_CACHE_L1_TTL")
	setString(&cfg.Cache.L2Bucket, "SCHOLARIS_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "SCHOLARIS_CACHE_L2_TTL")

	// Quota
	setDuration(&cfg.Quota.CheckTTL, "SCHOLARIS_QUOTA_CHECK_TTL")
	setDuration(&cfg.Quota.SuggestWindow, "SCHOLARIS_QUOTA_SUGGEST_WINDOW")
	setFloat64(&cfg.Quota.SuggestMinUsage, "SCHOLARIS_QUOTA_SUGGEST_MIN_USAGE")

	// Voice
	setString(&cfg.Voice.Transport, "SCHOLARIS_VOICE_TRANSPORT")
	setString(&cfg.Voice.Endpoint, "SCHOLARIS_VOICE_ENDPOINT")
	setString(&cfg.Voice.TokenURL, "SCHOLARIS_VOICE_TOKEN_URL")
	setDuration(&cfg.Voice.ChunkInterval, "SCHOLARIS_VOICE_CHUNK_INTERVAL")
	setDuration(&cfg.Voice.StopTimeout, "SCHOLARIS_VOICE_STOP_TIMEOUT")
	setDuration(&cfg.Voice.DoneGrace, "SCHOLARIS_VOICE_DONE_GRACE")
	setDuration(&cfg.Voice.Retention, "SCHOLARIS_VOICE_RETENTION")

	// Assistant
	setInt(&cfg.Assistant.MaxWindowTurns, "SCHOLARIS_ASSIST_WINDOW_TURNS")
	setInt(&cfg.Assistant.MaxToolRounds, "SCHOLARIS_ASSIST_TOOL_ROUNDS")
	setInt(&cfg.Assistant.MaxConcurrent, "SCHOLARIS_ASSIST_MAX_CONCURRENT")

	// MCP
	setBool(&cfg.MCP.Enabled, "SCHOLARIS_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "SCHOLARIS_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "SCHOLARIS_MCP_API_KEY")

	// Telemetry
	setBool(&cfg.Telemetry.Enabled, "SCHOLARIS_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "SCHOLARIS_OTEL_ENDPOINT")

	// Auth
	setBool(&cfg.Auth.Enabled, "SCHOLARIS_AUTH_ENABLED")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Voice.ChunkInterval <= 0 {
		return errors.New("voice.chunk_interval must be positive")
	}
	if cfg.Assistant.MaxWindowTurns < 1 {
		return errors.New("assistant.max_window_turns must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
