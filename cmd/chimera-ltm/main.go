package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/DmitrySonora/chimera-ltm/internal/api"
	"github.com/DmitrySonora/chimera-ltm/internal/cache"
	"github.com/DmitrySonora/chimera-ltm/internal/config"
	"github.com/DmitrySonora/chimera-ltm/internal/embedding"
	"github.com/DmitrySonora/chimera-ltm/internal/engine"
	"github.com/DmitrySonora/chimera-ltm/internal/novelty"
	"github.com/DmitrySonora/chimera-ltm/internal/profile"
	"github.com/DmitrySonora/chimera-ltm/internal/retention"
	"github.com/DmitrySonora/chimera-ltm/internal/search"
	pgstore "github.com/DmitrySonora/chimera-ltm/internal/store"
	"github.com/DmitrySonora/chimera-ltm/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting chimera-ltm...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/chimera-ltm.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// PostgreSQL is the system of record; without it nothing works.
	store, err := pgstore.New(cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("PostgreSQL unavailable", zap.Error(err))
	}
	if err := store.Migrate(context.Background(), "migrations"); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	// Redis cache is best-effort: run cacheless when unreachable.
	var memCache *cache.Cache
	if cfg.Database.Redis.URL != "" {
		memCache, err = cache.New(cfg.Database.Redis.URL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without cache", zap.Error(err))
			memCache = cache.Disabled(logger)
		}
	} else {
		memCache = cache.Disabled(logger)
	}

	vectors, err := vectorstore.NewClient(vectorstore.QdrantConfig{
		Host:       cfg.Database.Qdrant.Host,
		Port:       cfg.Database.Qdrant.Port,
		Collection: cfg.Database.Qdrant.Collection,
	})
	if err != nil {
		logger.Fatal("Qdrant unavailable", zap.Error(err))
	}
	if err := vectors.EnsureCollection(context.Background(), uint64(cfg.Embedding.Dimension)); err != nil {
		logger.Fatal("Qdrant collection setup failed", zap.Error(err))
	}

	embedder := embedding.NewBreakerProvider(
		embedding.NewAPIProvider(embedding.Config{
			Endpoint:  cfg.Embedding.Endpoint,
			Model:     cfg.Embedding.Model,
			APIKey:    cfg.Embedding.APIKey,
			Dimension: cfg.Embedding.Dimension,
			Timeout:   cfg.Embedding.EmbedTimeout(),
		}),
		5, 30*time.Second, logger,
	)

	profileTTL := time.Duration(cfg.Cache.ProfileTTL) * time.Second
	profiles := profile.New(store, memCache, cache.Keys{Prefix: cfg.Cache.Prefix}, profileTTL, logger)

	evaluator := novelty.New(cfg.Novelty, cfg.Cache, embedder, vectors, store, profiles, memCache, logger)
	index := search.New(store, vectors, memCache, cfg.Cache, cfg.Search, cfg.Embedding.Dimension, logger)
	sweeper := retention.New(cfg.Retention, store, vectors, memCache, cfg.Cache, logger)

	eng := engine.New(cfg, evaluator, index, sweeper, store, vectors, embedder, memCache, logger)

	// Drain engine events into the log until a real consumer exists.
	go func() {
		for ev := range eng.Events() {
			logger.Debug("engine event",
				zap.String("type", string(ev.Type)),
				zap.String("user_id", ev.UserID),
				zap.Float64("score", ev.Score))
		}
	}()

	var scheduler *retention.Scheduler
	if cfg.Retention.Enabled {
		scheduler, err = retention.NewScheduler(sweeper, cfg.Retention.ScheduleHourUTC, cfg.Retention.DryRun, logger)
		if err != nil {
			logger.Fatal("retention schedule setup failed", zap.Error(err))
		}
		scheduler.Start()
		logger.Info("Retention schedule started", zap.Int("hour_utc", cfg.Retention.ScheduleHourUTC))
	}

	handler := api.NewHandler(eng, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("chimera-ltm listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down chimera-ltm...")
	if scheduler != nil {
		scheduler.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	memCache.Close()
	vectors.Close()
	store.Close()
}
