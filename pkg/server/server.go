// Package server wires the AdminPilot control plane together.
//
// It lives in pkg/ so other binaries can embed the same server and wrap its
// handler with their own middleware:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/adminpilot/control-plane/internal/api"
	"github.com/adminpilot/control-plane/internal/api/handlers"
	"github.com/adminpilot/control-plane/internal/api/middleware"
	"github.com/adminpilot/control-plane/internal/audit"
	"github.com/adminpilot/control-plane/internal/auth"
	"github.com/adminpilot/control-plane/internal/config"
	"github.com/adminpilot/control-plane/internal/dedupe"
	"github.com/adminpilot/control-plane/internal/executor"
	"github.com/adminpilot/control-plane/internal/gatherer"
	"github.com/adminpilot/control-plane/internal/integrations"
	"github.com/adminpilot/control-plane/internal/llm"
	"github.com/adminpilot/control-plane/internal/orchestrator"
	"github.com/adminpilot/control-plane/internal/retention"
	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/internal/telemetry"
	"github.com/adminpilot/control-plane/internal/tools"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized control plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the business data store, also holding the audit trail and
	// pending confirmations.
	Store store.Store

	// Registry is the tool catalog the agent can call.
	Registry *tools.Registry

	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	closers []func(context.Context) error
}

// New initializes the control plane from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes every component from cfg.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	srv := &Server{Config: cfg, Port: cfg.Port, closers: []func(context.Context) error{shutdownTelemetry}}

	dataStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		srv.Shutdown(ctx)
		return nil, err
	}
	srv.Store = dataStore
	srv.closers = append(srv.closers, func(context.Context) error { return dataStore.Close() })

	env, err := newToolEnv(dataStore, cfg.Integrations)
	if err != nil {
		srv.Shutdown(ctx)
		return nil, err
	}

	registry := tools.NewRegistry()
	srv.Registry = registry
	log.Info().Int("tools", registry.Len()).Msg("🧰 Tool registry loaded")

	auditLog := audit.NewLogger(dataStore)
	exec := executor.New(registry, env, auditLog, cfg.Agent.ToolTimeout)
	gath := gatherer.New(dataStore, gatherer.Options{
		Timeout:     cfg.Agent.ContextTimeout,
		RecentLimit: cfg.Agent.ContextRecent,
	})

	model := llm.NewOpenAIClient(cfg.LLM)
	if !model.Configured() {
		log.Warn().Msg("LLM_API_KEY is not set; chat requests will fail until it is")
	}

	prompts, err := orchestrator.LoadPrompts(cfg.Agent.PromptsFile)
	if err != nil {
		srv.Shutdown(ctx)
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	agent, err := orchestrator.New(orchestrator.Deps{
		Executor: exec,
		Gatherer: gath,
		Model:    model,
		Pending:  dataStore,
		Policy:   orchestrator.NewPolicy(registry, cfg.Agent.DestructiveMode),
		Prompts:  prompts,
	}, orchestrator.Options{
		AdminRole:        cfg.Auth.AdminRole,
		HistoryWindow:    cfg.Agent.HistoryWindow,
		MaxParallelTools: cfg.Agent.MaxParallelTools,
		MaxMessageLength: cfg.Agent.MaxMessageLength,
		PendingTTL:       cfg.Agent.PendingTTL,
	})
	if err != nil {
		srv.Shutdown(ctx)
		return nil, err
	}
	log.Info().
		Str("model", cfg.LLM.Model).
		Str("destructive_mode", cfg.Agent.DestructiveMode).
		Msg("🤖 Agent orchestrator initialized")

	janitorCtx, stopJanitor := context.WithCancel(context.WithoutCancel(ctx))
	go retention.NewJanitor(dataStore, cfg.Agent.PendingSweep).Start(janitorCtx)
	srv.closers = append(srv.closers, func(context.Context) error { stopJanitor(); return nil })

	window := dedupe.NewWindow(cfg.Agent.DedupeWindow, 0)
	srv.closers = append(srv.closers, func(context.Context) error { window.Close(); return nil })

	chain := auth.NewFromConfig(cfg.Auth)
	if cfg.Auth.APIKeys == "" && cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("No auth provider configured; every API request will be rejected")
	}

	h := handlers.New(agent, registry, auditLog, window)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	srv.Handler = api.NewRouter(cfg, h, chain, limiter)

	return srv, nil
}

// Shutdown releases resources in reverse order of acquisition.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// openStore picks PostgreSQL when a database URL is configured and the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	if cfg.URL == "" {
		s := store.NewMemoryStore(cfg.DataDir)
		if cfg.DataDir != "" {
			log.Info().Str("data_dir", cfg.DataDir).Msg("✅ In-memory store initialized with file persistence")
		} else {
			log.Info().Msg("✅ In-memory store initialized")
		}
		return s, nil
	}

	s, err := store.NewPostgresStore(ctx, cfg.URL, cfg.MaxConnections)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	log.Info().Msg("✅ PostgreSQL store initialized")
	return s, nil
}

func newToolEnv(s store.Store, cfg config.IntegrationsConfig) (*tools.Env, error) {
	exporter, err := integrations.NewExportClient(integrations.ExportConfig{
		Endpoint:  cfg.ExportEndpoint,
		AccessKey: cfg.ExportAccessKey,
		SecretKey: cfg.ExportSecretKey,
		Bucket:    cfg.ExportBucket,
		Region:    cfg.ExportRegion,
		UseSSL:    cfg.ExportUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &tools.Env{
		Store:     s,
		Mailer:    integrations.NewEmailClient(cfg.EmailAPIKey, cfg.EmailAPIURL, cfg.EmailFrom, cfg.Timeout),
		Messenger: integrations.NewWhatsAppClient(cfg.WhatsAppToken, cfg.WhatsAppPhoneNumberID, cfg.WhatsAppAPIURL, cfg.Timeout),
		Webhooks:  integrations.NewWebhookClient(cfg.WebhookSigningSecret, cfg.Timeout),
		Exporter:  exporter,
	}, nil
}
