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
const DefaultConfigFile = "respondmesh.yaml"

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

	if cfg.Logging.Service == "" {
		cfg.Logging.Service = cfg.Agent.Name
	}

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
	setString(&cfg.Agent.Name, "AGENT_NAME")
	setString(&cfg.Server.Port, "RESPONDMESH_PORT")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "RESPONDMESH_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "RESPONDMESH_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "RESPONDMESH_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "RESPONDMESH_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "RESPONDMESH_PG_HEALTH_CHECK")

	setString(&cfg.Registry.Addr, "CONSUL_HTTP_ADDR")
	setDuration(&cfg.Registry.Timeout, "RESPONDMESH_REGISTRY_TIMEOUT")
	setBool(&cfg.Registry.RegisterOnStart, "RESPONDMESH_REGISTRY_REGISTER")

	setString(&cfg.NATS.URL, "NATS_URL")

	setInt(&cfg.Breaker.MaxFailures, "RESPONDMESH_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.ResetTimeout, "RESPONDMESH_BREAKER_RESET_TIMEOUT")
	setInt(&cfg.Breaker.HalfOpenMax, "RESPONDMESH_BREAKER_HALF_OPEN_MAX")

	setInt(&cfg.Rate.RequestsPerMinute, "RESPONDMESH_RATE_RPM")
	setString(&cfg.Rate.StateDir, "RESPONDMESH_RATE_STATE_DIR")
	setDuration(&cfg.Rate.LockStaleAfter, "RESPONDMESH_RATE_LOCK_STALE_AFTER")

	setInt(&cfg.Mesh.Retries, "RESPONDMESH_MESH_RETRIES")
	setDuration(&cfg.Mesh.SendTimeout, "RESPONDMESH_MESH_SEND_TIMEOUT")

	setDuration(&cfg.Handshake.PollInterval, "RESPONDMESH_HANDSHAKE_POLL_INTERVAL")
	setDuration(&cfg.Handshake.Timeout, "RESPONDMESH_HANDSHAKE_TIMEOUT")

	setDuration(&cfg.Delegation.Timeout, "RESPONDMESH_DELEGATION_TIMEOUT")
	setDuration(&cfg.Delegation.DedupWindow, "RESPONDMESH_DELEGATION_DEDUP_WINDOW")
	setDuration(&cfg.Delegation.Retention, "RESPONDMESH_DELEGATION_RETENTION")

	setString(&cfg.Auth.Secret, "JWT_SECRET")
	setDuration(&cfg.Auth.TokenTTL, "RESPONDMESH_AUTH_TOKEN_TTL")
	setBool(&cfg.Auth.Disabled, "DISABLE_AUTH")

	setString(&cfg.Pushover.APIKey, "PUSHOVER_API_KEY")
	setString(&cfg.Pushover.UserKey, "PUSHOVER_USER_KEY")
	setString(&cfg.Discord.WebhookURL, "DISCORD_WEBHOOK_URL")

	setBool(&cfg.Telemetry.Enabled, "RESPONDMESH_OTEL_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTLP_ENDPOINT")

	setString(&cfg.Logging.Level, "RESPONDMESH_LOG_LEVEL")
	setString(&cfg.Logging.Service, "RESPONDMESH_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "RESPONDMESH_LOG_ASYNC")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Agent.Name == "" {
		return errors.New("agent.name is required")
	}
	if cfg.Breaker.MaxFailures <= 0 {
		return errors.New("breaker.max_failures must be positive")
	}
	if cfg.Rate.RequestsPerMinute <= 0 {
		return errors.New("rate.requests_per_minute must be positive")
	}
	if cfg.Mesh.Retries < 0 {
		return errors.New("mesh.retries must not be negative")
	}
	if cfg.Handshake.PollInterval <= 0 {
		return errors.New("handshake.poll_interval must be positive")
	}
	if !cfg.Auth.Disabled && cfg.Auth.Secret == "" {
		return errors.New("auth.secret is required unless auth is disabled")
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
