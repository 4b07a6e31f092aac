package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LewisZett/parts-connect-pro/auth"
	"github.com/LewisZett/parts-connect-pro/chat"
	"github.com/LewisZett/parts-connect-pro/config"
	"github.com/LewisZett/parts-connect-pro/db"
	"github.com/LewisZett/parts-connect-pro/ingest"
	"github.com/LewisZett/parts-connect-pro/listing"
	"github.com/LewisZett/parts-connect-pro/match"
	"github.com/LewisZett/parts-connect-pro/migrations"
	"github.com/LewisZett/parts-connect-pro/notify"
	"github.com/LewisZett/parts-connect-pro/outbox"
	"github.com/LewisZett/parts-connect-pro/profile"
)

const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the outbox dispatcher and the realtime bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, err := db.NewPool(cmd.Context(), cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := migrations.Apply(cmd.Context(), pool); err != nil {
			return err
		}
		logger.Info("schema applied")
		return nil
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.Migrate {
		if err := migrations.Apply(ctx, pool); err != nil {
			return err
		}
	}

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.Auth.JWTSecret).WithTokenTTL(cfg.TokenTTL())
	profileSvc := profile.NewService(profile.NewRepository(pool))
	listingSvc := listing.NewService(listing.NewRepository(pool))
	matchSvc := match.NewService(pool, match.NewRepository(pool), listingSvc).
		WithLogger(logger.Named("match"))

	hub := chat.NewHub(cfg.Realtime.Buffer)
	defer hub.Close()
	chatRepo := chat.NewRepository(pool)
	chatSvc := chat.NewService(chatRepo, matchSvc, hub).WithLogger(logger.Named("chat"))

	g, gctx := errgroup.WithContext(ctx)

	switch cfg.Realtime.Backend {
	case config.RealtimePostgres:
		chatSvc.WithPublisher(chat.NewPGNotifier(pool, cfg.Realtime.Channel))
		listener := chat.NewPGListener(pool, cfg.Realtime.Channel, hub, chatRepo).
			WithLogger(logger.Named("pg_listener"))
		g.Go(func() error { return listener.Run(gctx) })
	case config.RealtimeRedis:
		opts, err := redis.ParseURL(cfg.Realtime.RedisURL)
		if err != nil {
			return fmt.Errorf("realtime: parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		chatSvc.WithPublisher(chat.NewRedisPublisher(rdb, cfg.Realtime.Channel))
		bridge := chat.NewRedisBridge(rdb, cfg.Realtime.Channel, hub).
			WithLogger(logger.Named("redis_bridge"))
		g.Go(func() error { return bridge.Run(gctx) })
	}

	var notifier notify.Notifier = notify.NewLogNotifier(logger.Named("notify"))
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.WebhookToken, cfg.NotifyTimeout())
	}
	dispatcher := outbox.NewDispatcher(outbox.NewStore(pool)).
		WithLogger(logger.Named("outbox")).
		WithInterval(cfg.NotifyPollInterval()).
		WithBatchSize(cfg.Notify.BatchSize)
	dispatcher.Register(notify.TopicMatchCreated, notify.MatchCreatedHandler(notifier))
	g.Go(func() error { return dispatcher.Run(gctx) })

	var ingestSvc ingestService
	if cfg.AI.APIKey != "" {
		extractor, err := ingest.NewGenAIExtractor(ctx, cfg.AI.APIKey, cfg.AI.Model, cfg.AI.Temperature)
		if err != nil {
			return err
		}
		ingestSvc = ingest.NewService(extractor, listingSvc).
			WithLogger(logger.Named("ingest")).
			WithTimeout(cfg.AITimeout())
	} else {
		logger.Warn("ai.api_key not set; bulk text ingestion disabled")
	}

	srv := &Server{
		authService:    authSvc,
		profileService: profileSvc,
		listingService: listingSvc,
		matchService:   matchSvc,
		chatService:    chatSvc,
		ingestService:  ingestSvc,
		logger:         logger.Named("http"),

		bulkTextTimeout: cfg.BulkTextWriteTimeout(),
	}

	httpServer := &http.Server{
		Addr:           cfg.HTTP.Addr,
		Handler:        srv.Routes(),
		ReadTimeout:    cfg.ReadTimeout(),
		WriteTimeout:   cfg.WriteTimeout(),
		MaxHeaderBytes: 1 << 20,
	}

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		// Hijacked websocket connections are not tracked by Shutdown; closing
		// the hub ends their write pumps.
		hub.Close()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
