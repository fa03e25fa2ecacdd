package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"guest_reviews/internal/adapters/hostaway"
	server "guest_reviews/internal/adapters/http_server"
	"guest_reviews/internal/adapters/observability"
	redisad "guest_reviews/internal/adapters/redis"
	"guest_reviews/internal/app"
	"guest_reviews/internal/domain"
	"guest_reviews/internal/shared"
	"guest_reviews/internal/storage/memory"
	mysqlrepo "guest_reviews/internal/storage/mysql"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	// stores
	var (
		repo      domain.ReviewRepository
		approvals domain.ApprovalStore
		audit     domain.AuditLog
	)
	switch cfg.Store {
	case "memory":
		st := memory.New()
		repo, approvals, audit = st, st, st
		log.Warn().Msg("APP_STORE=memory: reviews are not durable")
	default:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("sql.Open failed")
		}
		defer db.Close()
		db.SetMaxOpenConns(20)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("db.Ping failed")
		}
		log.Info().Msg("database connection ok")
		r := mysqlrepo.New(db)
		repo, approvals, audit = r, r, r
	}

	// redis: read cache, and the approval store when selected
	rdb := redisad.NewClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer rdb.Close()
	var cache domain.Cache
	if err := rdb.Ping(ctx).Err(); err != nil {
		if cfg.ApprovalStore == "redis" {
			log.Fatal().Err(err).Msg("APPROVAL_STORE=redis but redis is unreachable")
		}
		log.Warn().Err(err).Msg("redis unreachable; serving without cache")
	} else {
		cache = redisad.NewCache(rdb)
	}
	if cfg.ApprovalStore == "redis" {
		approvals = redisad.NewApprovalStore(rdb)
	}
	log.Info().Str("store", cfg.Store).Str("approval_store", cfg.ApprovalStore).Bool("cache", cache != nil).Msg("stores wired")

	// source
	var src domain.ReviewSource
	if cfg.HostawayKey != "" {
		cl, err := hostaway.New(cfg.HostawayBase, cfg.HostawayAcct, cfg.HostawayKey, 5)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize Hostaway client")
		}
		src = cl
	} else {
		src = hostaway.NewFileSource(cfg.HostawayMock)
	}

	// services
	q := app.NewQueryService(repo, approvals, cache, cfg.CacheTTL, cfg.StoreTimeout)
	ing := app.NewIngestionService(src, repo, q)
	ing.Strict = cfg.IngestStrict
	appr := app.NewApprovalService(repo, approvals, audit, q)

	// http
	srv := server.New()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{Q: q, Ingest: ing, Approvals: appr, DefaultActor: cfg.DefaultActor})

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("API stopped")
}
