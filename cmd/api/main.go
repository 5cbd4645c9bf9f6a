package main

import (
    "context"
    "errors"
    "log"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/go-logr/logr"
    "github.com/go-logr/stdr"

    "healthnav/internal/advisor"
    "healthnav/internal/api"
    "healthnav/internal/config"
    "healthnav/internal/roadgraph"
)

func main() {
    cfg, err := config.Load()
    if err != nil {
        log.Fatalf("config: %v", err)
    }
    stdr.SetVerbosity(cfg.LogV)
    logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)).WithName("healthnav")

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    st, err := api.NewStore(ctx, cfg)
    if err != nil {
        logger.Error(err, "failed to init store")
        os.Exit(1)
    }

    graphs := roadgraph.NewProvider(roadgraph.FileSource{Path: cfg.RoadGraphFile}, cfg.RoadGraphMaxSnap, logger.WithName("roadgraph"))

    adv := advisor.Fallback{Secondary: advisor.DefaultRules(), Log: logger.WithName("advisor")}
    if h := advisor.NewHTTPAdvisor(cfg.AdvisorURL, cfg.AdvisorAPIKey, cfg.AdvisorTimeout); h != nil {
        adv.Primary = h
    }

    var broker api.EventBroker = api.NewBroker()
    if cfg.RedisURL != "" {
        if rb, err := api.NewRedisBroker(ctx, cfg.RedisURL, logger.WithName("broker")); err == nil {
            broker = rb
            defer func() { _ = rb.Close() }()
        } else {
            logger.Error(err, "redis unavailable, using in-process broker")
        }
    }

    srvDeps := api.NewServer(cfg, st, graphs, adv, broker, logger)

    srv := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           srvDeps.Routes(),
        ReadHeaderTimeout: 5 * time.Second,
    }

    worker := srvDeps.NewWebhookWorker()
    worker.Start()

    go func() {
        <-ctx.Done()
        logger.Info("shutting down")
        close(worker.Stop)
        sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
        defer cancel()
        _ = srv.Shutdown(sctx)
    }()

    logger.Info("API listening", "addr", srv.Addr, "store", storeKind(cfg), "roads", cfg.RoadGraphFile, "advisor", adv.Primary != nil)
    if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
        logger.Error(err, "server error")
        os.Exit(1)
    }
    closeStore(logger, st)
}

func storeKind(cfg config.Config) string {
    if cfg.DatabaseURL == "" {
        return "memory"
    }
    return "postgres"
}

func closeStore(logger logr.Logger, st any) {
    if c, ok := st.(interface{ Close() error }); ok {
        if err := c.Close(); err != nil {
            logger.Error(err, "closing store")
        }
    }
}
