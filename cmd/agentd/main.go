// Command agentd runs one agent process of the emergency-response mesh. The
// agent's identity (name, port, routes) comes from config; nine agentd
// processes with different AGENT_NAME values form the full mesh.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	_ "github.com/respondmesh/respondmesh/internal/adapter/discord" // register notifier factory
	rmhttp "github.com/respondmesh/respondmesh/internal/adapter/http"
	rmnats "github.com/respondmesh/respondmesh/internal/adapter/nats"
	rmotel "github.com/respondmesh/respondmesh/internal/adapter/otel"
	"github.com/respondmesh/respondmesh/internal/adapter/postgres"
	_ "github.com/respondmesh/respondmesh/internal/adapter/pushover" // register notifier factory
	"github.com/respondmesh/respondmesh/internal/adapter/ristretto"
	"github.com/respondmesh/respondmesh/internal/agent"
	"github.com/respondmesh/respondmesh/internal/config"
	"github.com/respondmesh/respondmesh/internal/logger"
	"github.com/respondmesh/respondmesh/internal/mesh"
	"github.com/respondmesh/respondmesh/internal/middleware"
	"github.com/respondmesh/respondmesh/internal/port/events"
	"github.com/respondmesh/respondmesh/internal/port/notifier"
	"github.com/respondmesh/respondmesh/internal/port/store"
	"github.com/respondmesh/respondmesh/internal/ratelimit"
	"github.com/respondmesh/respondmesh/internal/registry"
	"github.com/respondmesh/respondmesh/internal/resilience"
	"github.com/respondmesh/respondmesh/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var agentName string
	flag.StringVar(&agentName, "agent", "", "agent identity (overrides AGENT_NAME)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if agentName != "" {
		cfg.Agent.Name = agentName
		cfg.Logging.Service = ""
	}

	self := agent.Normalize(cfg.Agent.Name)
	if !agent.Known(self) {
		return fmt.Errorf("unknown agent %q", cfg.Agent.Name)
	}
	if cfg.Logging.Service == "" {
		cfg.Logging.Service = self
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"agent", self,
		"log_level", cfg.Logging.Level,
		"durable_store", cfg.Postgres.DSN != "",
		"registry", cfg.Registry.Addr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	otelShutdown, err := rmotel.Setup(ctx, cfg.Telemetry.Enabled, cfg.Telemetry.OTLPEndpoint, self, log)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	metrics, err := rmotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Shared coordination store (optional) ---

	var hsStore store.HandshakeStore
	var delStore store.DelegationStore
	if cfg.Postgres.DSN != "" {
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		hsStore = postgres.NewHandshakeStore(pool)
		delStore = postgres.NewDelegationStore(pool)
		log.Info("postgres connected")
	} else {
		log.Warn("no DATABASE_URL; durable handshakes and delegation ledger disabled")
	}

	// --- Service resolution ---

	cache, err := ristretto.New(cfg.Registry.CacheMaxSizeKB * 1024)
	if err != nil {
		return fmt.Errorf("resolver cache: %w", err)
	}
	defer cache.Close()

	registryURL := ""
	if cfg.Registry.Addr != "" {
		registryURL = "http://" + cfg.Registry.Addr
	}
	resolver := registry.NewResolver(registryURL, cfg.Registry.Timeout, cache, log)

	port := agent.Port(self)
	if cfg.Server.Port != "" {
		if port, err = strconv.Atoi(cfg.Server.Port); err != nil {
			return fmt.Errorf("invalid server port %q: %w", cfg.Server.Port, err)
		}
	}

	if registryURL != "" && cfg.Registry.RegisterOnStart {
		resolver.Register(ctx, self, port, registry.RegistrationOptions{
			HealthInterval:  cfg.Registry.HealthInterval,
			HealthTimeout:   cfg.Registry.HealthTimeout,
			DeregisterAfter: cfg.Registry.DeregisterAfter,
		})
		defer func() {
			deregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			resolver.Deregister(deregCtx, self)
		}()
	}

	// --- Resilience and admission ---

	breakers := resilience.NewGroup(cfg.Breaker.MaxFailures, cfg.Breaker.ResetTimeout, cfg.Breaker.HalfOpenMax)

	limiter, err := ratelimit.New(cfg.Rate.StateDir, cfg.Rate.RequestsPerMinute,
		cfg.Rate.LockStaleAfter, cfg.Rate.LockTimeout, log)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	// --- Messaging ---

	tokens := service.NewTokenService(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	var issuer mesh.TokenIssuer
	if !cfg.Auth.Disabled {
		issuer = tokens
	}

	client := mesh.NewClient(resolver, breakers, limiter, issuer,
		cfg.Mesh.Retries, cfg.Mesh.SendTimeout, cfg.Mesh.BackoffCap, log)
	coordinator := mesh.NewCoordinator(client, breakers, hsStore, cfg.Handshake.PollInterval, log)

	// --- Services ---

	decider := agent.NewScriptedDecider(self, log)
	inbox := service.NewInbox(self, coordinator, decider, limiter, log)

	var notify notifier.Notifier
	switch {
	case cfg.Pushover.APIKey != "" && cfg.Pushover.UserKey != "":
		notify, err = notifier.New("pushover", map[string]string{
			"token": cfg.Pushover.APIKey,
			"user":  cfg.Pushover.UserKey,
		})
	case cfg.Discord.WebhookURL != "":
		notify, err = notifier.New("discord", map[string]string{
			"webhook_url": cfg.Discord.WebhookURL,
		})
	default:
		log.Info("no notification channel configured", "available", notifier.Available())
	}
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}

	var feed events.Publisher
	if cfg.NATS.URL != "" {
		pub, err := rmnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = pub.Close() }()
		feed = pub
	}

	delegations := service.NewDelegationService(self, delStore, coordinator, feed, notify, metrics,
		cfg.Delegation.DedupWindow, cfg.Delegation.Timeout, log)
	go delegations.PurgeLoop(ctx, cfg.Delegation.PurgeInterval, cfg.Delegation.Retention)

	// --- HTTP ---

	handlers := &rmhttp.Handlers{
		Self:        self,
		Inbox:       inbox,
		Delegations: delegations,
		Circuits:    client,
		Log:         log,
	}

	r := chi.NewRouter()
	r.Use(middleware.CorrelationID)
	r.Use(rmhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.Telemetry.Enabled {
		r.Use(rmotel.HTTPMiddleware(self))
	}
	r.Use(middleware.Auth(tokens, self, !cfg.Auth.Disabled))

	rmhttp.MountRoutes(r, handlers)

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info("agent listening", "agent", self, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down", "agent", self)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
