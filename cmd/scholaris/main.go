package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	schhttp "github.com/scholaris/scholaris/internal/adapter/http"
	"github.com/scholaris/scholaris/internal/adapter/mcp"
	"github.com/scholaris/scholaris/internal/adapter/modelproxy"
	scholnats "github.com/scholaris/scholaris/internal/adapter/nats"
	"github.com/scholaris/scholaris/internal/adapter/natskv"
	"github.com/scholaris/scholaris/internal/adapter/otel"
	"github.com/scholaris/scholaris/internal/adapter/postgres"
	"github.com/scholaris/scholaris/internal/adapter/ristretto"
	"github.com/scholaris/scholaris/internal/adapter/tiered"
	"github.com/scholaris/scholaris/internal/adapter/voicetoken"
	"github.com/scholaris/scholaris/internal/adapter/ws"
	"github.com/scholaris/scholaris/internal/config"
	"github.com/scholaris/scholaris/internal/domain/tool"
	"github.com/scholaris/scholaris/internal/logger"
	"github.com/scholaris/scholaris/internal/middleware"
	"github.com/scholaris/scholaris/internal/port/agentcard"
	"github.com/scholaris/scholaris/internal/port/voicetransport"
	"github.com/scholaris/scholaris/internal/resilience"
	"github.com/scholaris/scholaris/internal/service"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logClose := logger.New(cfg.Logging)
	defer logClose.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"voice_transport", cfg.Voice.Transport,
		"auth_enabled", cfg.Auth.Enabled,
	)

	ctx := context.Background()

	// --- Telemetry ---

	var metrics *otel.Metrics
	if cfg.Telemetry.Enabled {
		otelShutdown, err := otel.Init(ctx, cfg.Logging.Service, cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				slog.Error("telemetry shutdown", "error", err)
			}
		}()

		metrics, err = otel.NewMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		slog.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := scholnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Drain() }()
	slog.Info("nats connected")

	// Tiered quota read-view cache: in-process ristretto in front of a
	// NATS JetStream KV bucket shared across instances.
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return fmt.Errorf("l2 cache bucket: %w", err)
	}
	quotaCache := tiered.New(l1, natskv.New(kv), cfg.Cache.L1TTL)

	// --- Services ---

	hub := ws.NewHub(wsOriginPattern(cfg.Server.CORSOrigin), log)
	store := postgres.NewStore(pool)

	quotaSvc := service.NewQuotaService(store, queue, quotaCache, hub, cfg.Quota)

	registry := tool.NewRegistry(cfg.Assistant.MaxConcurrent)
	if err := service.RegisterBuiltinTools(registry, store, quotaSvc); err != nil {
		return fmt.Errorf("builtin tools: %w", err)
	}

	model := modelproxy.NewClient(cfg.Model.URL, cfg.Model.APIKey, cfg.Model.Timeout)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	model.SetBreaker(breaker)

	assistantSvc := service.NewAssistantService(model, registry, quotaSvc, hub, queue, metrics, cfg.Model, cfg.Assistant)

	var issuer voicetransport.CredentialIssuer
	if cfg.Voice.TokenURL != "" {
		issuer = voicetoken.NewIssuer(cfg.Voice.TokenURL, cfg.Model.APIKey, 10*time.Second)
	}
	voiceSvc := service.NewVoiceService(quotaSvc, hub, issuer, metrics, cfg.Voice)

	authSvc := service.NewAuthService(store, &cfg.Auth)

	// --- MCP ---

	if cfg.MCP.Enabled {
		mcpSrv := mcp.NewServer(mcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    cfg.Logging.Service,
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, mcp.ServerDeps{
			Registry:     registry,
			QuotaChecker: quotaSvc,
		})
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mcpSrv.Stop(stopCtx); err != nil {
				slog.Error("mcp shutdown", "error", err)
			}
		}()
	}

	// --- HTTP ---

	handlers := &schhttp.Handlers{
		Quota:     quotaSvc,
		Assistant: assistantSvc,
		Voice:     voiceSvc,
		Auth:      authSvc,
		Registry:  registry,
		Hub:       hub,
		Queue:     queue,
		DB:        pool,
		Breaker:   breaker,
	}

	rl := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := rl.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(schhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(schhttp.SecurityHeaders)
	r.Use(schhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(90 * time.Second))
	if cfg.Telemetry.Enabled {
		r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	}
	r.Use(rl.Handler)
	r.Use(middleware.Auth(authSvc, cfg.Auth.Enabled))
	r.Use(middleware.OrgScope)

	agentcard.NewHandler("http://localhost:" + cfg.Server.Port).MountRoutes(r)
	schhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// wsOriginPattern converts a CORS origin URL into the host pattern the
// WebSocket accept check expects.
func wsOriginPattern(corsOrigin string) string {
	if u, err := url.Parse(corsOrigin); err == nil && u.Host != "" {
		return u.Host
	}
	return corsOrigin
}
