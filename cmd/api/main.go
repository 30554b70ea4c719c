package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"reading-platform/internal/audit"
	"reading-platform/internal/auth"
	"reading-platform/internal/billing"
	"reading-platform/internal/calls"
	"reading-platform/internal/config"
	"reading-platform/internal/httpapi"
	"reading-platform/internal/rates"
	"reading-platform/internal/reporting"
	sessionpkg "reading-platform/internal/session"
	"reading-platform/internal/signal"
	"reading-platform/internal/wallet"
	"reading-platform/pkg/logger"
	"reading-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
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

	// Services, wired bottom-up.
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	sessionStore := sessionpkg.NewPostgresStore(db)
	rateSvc := rates.NewService(rates.NewPostgresRepo(db))
	sessionSvc := sessionpkg.NewService(
		sessionStore,
		rates.SessionRateSource{Svc: rateSvc},
		sessionStore,
		log,
	)
	sessionSvc.SetAuditor(sessionpkg.AuditAdapter{Audit: auditSvc, Log: log})

	walletSvc := wallet.NewService(db)

	signals := signal.NewRedisChannel(rdb, log)

	// The supervisor wires itself in as the billing Ender so a funds-forced
	// end also closes the peer and notifies the room.
	supervisor := calls.NewSupervisor(sessionSvc, billing.Deps{
		Sessions: sessionStore,
		Wallet:   walletSvc,
		Locker:   billing.NewRedisLocker(rdb, 0),
		Auditor:  auditSvc,
		Log:      log,
		Interval: cfg.Billing.TickInterval,
	}, signals, log)

	h := httpapi.Handlers{
		Auth:     authManager,
		Wallet:   walletSvc,
		Sessions: sessionSvc,
		Super:    supervisor,
		Reports:  reporting.NewService(&reporting.PlatformRepo{Sessions: sessionStore, Wallet: walletSvc}),
		Rates:    rateSvc,
		Signals:  signals,
		Audit:    auditSvc,
		ICEURLs:  cfg.WebRTC.ICEURLs,
		Log:      log,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, auth.RequireAccessToken(authManager), walletSvc)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
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

	// End live sessions so every billed second is settled before exit.
	supervisor.Shutdown(shutdownCtx)

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
