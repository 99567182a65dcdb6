package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callcenter-platform/internal/audit"
	"callcenter-platform/internal/auth"
	"callcenter-platform/internal/calls"
	"callcenter-platform/internal/callstore"
	"callcenter-platform/internal/changefeed"
	"callcenter-platform/internal/config"
	"callcenter-platform/internal/engine"
	"callcenter-platform/internal/reaper"
	"callcenter-platform/internal/reporting"
	"callcenter-platform/internal/telephony"
	"callcenter-platform/pkg/logger"
	"callcenter-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	feed := changefeed.NewRedisFeed(rdb, logger.Component(log, "changefeed"))
	store := callstore.NewPostgresStore(db, feed, logger.Component(log, "callstore"))

	var provider telephony.Provider
	var client telephony.Client
	if cfg.Provider.BaseURL != "" {
		gw, err := telephony.NewGatewayProvider(telephony.GatewayConfig{
			BaseURL: cfg.Provider.BaseURL,
			Token:   cfg.Provider.Token,
			Timeout: cfg.Provider.Timeout,
		})
		if err != nil {
			log.Error("provider init failed", "err", err)
			os.Exit(1)
		}
		if err := gw.HealthCheck(rootCtx); err != nil {
			// Degraded start is fine; side effects retry per call.
			log.Warn("provider health check failed", "err", err)
		}
		provider = gw
		// The gateway also hosts this agent's media leg.
		client = gw
	} else {
		log.Warn("no provider configured; dial and side effects disabled")
	}

	notifier := engine.NewChannelNotifier(64)
	eng, err := engine.New(engine.Config{
		AgentID:           cfg.App.AgentID,
		ReconcileInterval: cfg.Engine.ReconcileInterval,
		Lookback:          cfg.Engine.Lookback,
	}, store, feed, provider, client, notifier, logger.Component(log, "engine"))
	if err != nil {
		log.Error("engine init failed", "err", err)
		os.Exit(1)
	}
	// The workstation client posts its raw signals to /v1/device/signals; the
	// adapter normalizes them into the engine's funnel.
	adapter := telephony.NewEventAdapter(eng, logger.Component(log, "device"))
	go drainNotifications(rootCtx, notifier, log)
	go func() {
		if err := eng.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("engine stopped", "err", err)
			stop()
		}
	}()

	auditService := audit.NewService(audit.NewPostgresRepo(db))
	sweeper := reaper.New(reaper.Config{
		Interval:   cfg.Engine.ReconcileInterval,
		RingingTTL: cfg.Engine.RingingTTL,
		ActiveTTL:  cfg.Engine.ActiveTTL,
	}, store, logger.Component(log, "reaper"))
	sweeper.OnReaped = func(ctx context.Context, c calls.Call, age time.Duration) {
		if err := auditService.LogReap(ctx, c.ID, string(c.Status), age); err != nil {
			log.Warn("reap audit failed", "call_id", c.ID, "err", err)
		}
	}
	go func() {
		if err := sweeper.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("reaper stopped", "err", err)
		}
	}()

	reports := reporting.NewService(reporting.NewPostgresRepo(db))

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		Auth:    authManager,
		Engine:  eng,
		Store:   store,
		Reports: reports,
		Audit:   auditService,
		Device:  adapter,
		DB:      db,
		Redis:   rdb,
		Log:     log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("agentd listening", "addr", srv.Addr, "env", cfg.App.Env, "agent_id", cfg.App.AgentID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

// drainNotifications keeps the notifier channels moving in a headless
// deployment. A desktop shell would consume these instead.
func drainNotifications(ctx context.Context, n *engine.ChannelNotifier, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-n.Incoming():
			log.Info("notify: incoming call", "call_id", c.ID, "customer", c.CustomerNumber)
		case c := <-n.Restored():
			log.Info("notify: call restored", "call_id", c.ID)
		case msg := <-n.Notices():
			log.Warn("notify: notice", "kind", string(msg.Kind), "call_id", msg.CallID, "message", msg.Message)
		}
	}
}
