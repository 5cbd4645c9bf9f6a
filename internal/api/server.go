// Package api exposes the outbreak-response service over HTTP.
package api

import (
    "context"
    "fmt"

    "github.com/go-logr/logr"

    "healthnav/internal/advisor"
    "healthnav/internal/alloc"
    "healthnav/internal/auth"
    "healthnav/internal/config"
    "healthnav/internal/ingest"
    "healthnav/internal/integrations"
    "healthnav/internal/integrations/csvreports"
    "healthnav/internal/roadgraph"
    "healthnav/internal/route"
    "healthnav/internal/store"
    "healthnav/internal/webhooks"
)

type Server struct {
    Store   store.Store
    Engine  *alloc.Engine
    Planner *route.Planner
    Graphs  *roadgraph.Provider
    Ingest  *ingest.Service
    Advisor advisor.Advisor
    Pub     *webhooks.Publisher
    Auth    *auth.Verifier
    Broker  EventBroker
    // Decoders parse non-JSON report uploads by content type.
    Decoders integrations.Registry
    Config  config.Config
    Log     logr.Logger
}

// NewServer wires the core services around st. graphs and adv are built by
// the caller because they depend on deployment files and credentials.
func NewServer(cfg config.Config, st store.Store, graphs *roadgraph.Provider, adv advisor.Advisor, broker EventBroker, log logr.Logger) *Server {
    if broker == nil {
        broker = NewBroker()
    }
    if adv == nil {
        adv = advisor.DefaultRules()
    }
    return &Server{
        Store:   st,
        Engine:  alloc.NewEngine(st, alloc.WithTimeout(cfg.StoreTimeout), alloc.WithLogger(log.WithName("alloc"))),
        Planner: route.NewPlanner(cfg.OracleTimeout, log.WithName("route")),
        Graphs:  graphs,
        Ingest:  ingest.NewService(st, cfg.StoreTimeout, log.WithName("ingest")),
        Advisor: adv,
        Pub:     webhooks.NewPublisher(st, log.WithName("webhooks")),
        Auth:    auth.NewVerifier(cfg.AuthMode, cfg.AuthHMACSecret, cfg.AuthJWKSURL, cfg.AuthRoleClaim),
        Broker:  broker,
        Decoders: integrations.NewRegistry(csvreports.Adapter{DefaultReporter: "upload"}),
        Config:  cfg,
        Log:     log,
    }
}

// NewStore picks Postgres when DATABASE_URL is set and memory otherwise.
func NewStore(ctx context.Context, cfg config.Config) (store.Store, error) {
    if cfg.DatabaseURL == "" {
        return store.NewMemory(), nil
    }
    sp, err := store.NewPostgres(cfg.DatabaseURL)
    if err != nil {
        return nil, err
    }
    if cfg.DBMigrate {
        if err := sp.Migrate(ctx); err != nil {
            _ = sp.Close()
            return nil, fmt.Errorf("migrate: %w", err)
        }
    }
    return sp, nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store, s.Config.WebhookMaxAttempts, s.Log.WithName("webhook-worker"))
}

// publish fans an event out to live streams and webhook subscribers.
func (s *Server) publish(ctx context.Context, eventType string, data map[string]any) {
    s.Broker.Publish(eventType, SSEEvent{Type: eventType, Data: data})
    s.Pub.Emit(ctx, eventType, data)
}
