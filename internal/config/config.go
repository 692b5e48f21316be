// Package config provides hierarchical configuration loading for RespondMesh.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for a RespondMesh agent process.
type Config struct {
	Agent      Agent      `yaml:"agent"`
	Server     Server     `yaml:"server"`
	Postgres   Postgres   `yaml:"postgres"`
	Registry   Registry   `yaml:"registry"`
	NATS       NATS       `yaml:"nats"`
	Breaker    Breaker    `yaml:"breaker"`
	Rate       Rate       `yaml:"rate"`
	Mesh       Mesh       `yaml:"mesh"`
	Handshake  Handshake  `yaml:"handshake"`
	Delegation Delegation `yaml:"delegation"`
	Auth       Auth       `yaml:"auth"`
	Pushover   Pushover   `yaml:"pushover"`
	Discord    Discord    `yaml:"discord"`
	Telemetry  Telemetry  `yaml:"telemetry"`
	Logging    Logging    `yaml:"logging"`
}

// Agent identifies this process within the mesh.
type Agent struct {
	Name string `yaml:"name"` // e.g. "fire-chief-agent"
}

// Server holds inbound HTTP server configuration.
// An empty Port means "use the agent directory's static port for this agent".
type Server struct {
	Port string `yaml:"port"`
}

// Postgres holds connection configuration for the shared coordination store.
// An empty DSN disables durable handshakes and the delegation ledger; the
// process degrades to in-process-only handshake resolution.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// Registry holds service registry (Consul) configuration.
type Registry struct {
	Addr             string        `yaml:"addr"` // host:port of the Consul HTTP API
	Timeout          time.Duration `yaml:"timeout"`
	HealthInterval   time.Duration `yaml:"health_interval"`
	HealthTimeout    time.Duration `yaml:"health_timeout"`
	DeregisterAfter  time.Duration `yaml:"deregister_after"`
	CacheMaxSizeKB   int64         `yaml:"cache_max_size_kb"`
	RegisterOnStart  bool          `yaml:"register_on_start"`
}

// NATS holds the optional delegation event feed configuration.
// An empty URL disables the feed.
type NATS struct {
	URL string `yaml:"url"`
}

// Breaker holds circuit breaker configuration.
type Breaker struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// Rate holds cross-process rate admission configuration. The bucket state and
// lock files live under StateDir and are shared by every agent process on the
// host.
type Rate struct {
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	StateDir          string        `yaml:"state_dir"`
	LockStaleAfter    time.Duration `yaml:"lock_stale_after"`
	LockTimeout       time.Duration `yaml:"lock_timeout"`
}

// Mesh holds outbound messaging client configuration.
type Mesh struct {
	Retries     int           `yaml:"retries"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`
}

// Handshake holds request/response coordination configuration.
type Handshake struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Delegation holds delegation ledger configuration.
type Delegation struct {
	Timeout       time.Duration `yaml:"timeout"`
	DedupWindow   time.Duration `yaml:"dedup_window"`
	Retention     time.Duration `yaml:"retention"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

// Auth holds inter-agent credential configuration.
type Auth struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
	Disabled bool          `yaml:"disabled"`
}

// Pushover holds push notification credentials. Empty keys disable the notifier.
type Pushover struct {
	APIKey  string `yaml:"api_key"`
	UserKey string `yaml:"user_key"`
}

// Discord holds the fallback webhook notifier configuration. Used when
// Pushover is not configured; an empty URL disables it.
type Discord struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Telemetry holds OpenTelemetry export configuration.
type Telemetry struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Logging holds structured logging configuration. An empty Service defaults to
// the agent name at load time.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Agent: Agent{
			Name: "dispatch-agent",
		},
		Server: Server{
			Port: "",
		},
		Postgres: Postgres{
			DSN:             "",
			MaxConns:        5,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		Registry: Registry{
			Addr:            "localhost:8500",
			Timeout:         2 * time.Second,
			HealthInterval:  10 * time.Second,
			HealthTimeout:   5 * time.Second,
			DeregisterAfter: time.Minute,
			CacheMaxSizeKB:  256,
			RegisterOnStart: true,
		},
		NATS: NATS{
			URL: "",
		},
		Breaker: Breaker{
			MaxFailures:  3,
			ResetTimeout: 60 * time.Second,
			HalfOpenMax:  1,
		},
		Rate: Rate{
			RequestsPerMinute: 8,
			StateDir:          "data",
			LockStaleAfter:    5 * time.Second,
			LockTimeout:       10 * time.Second,
		},
		Mesh: Mesh{
			Retries:     3,
			SendTimeout: 30 * time.Second,
			BackoffCap:  32 * time.Second,
		},
		Handshake: Handshake{
			PollInterval: time.Second,
			Timeout:      30 * time.Second,
		},
		Delegation: Delegation{
			Timeout:       60 * time.Second,
			DedupWindow:   300 * time.Second,
			Retention:     7 * 24 * time.Hour,
			PurgeInterval: time.Hour,
		},
		Auth: Auth{
			Secret:   "dev-shared-secret",
			TokenTTL: 5 * time.Minute,
		},
		Telemetry: Telemetry{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
		},
		Logging: Logging{
			Level:   "info",
			Service: "",
		},
	}
}
