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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pdfqa/internal/api"
	"pdfqa/internal/auth"
	"pdfqa/internal/config"
	"pdfqa/internal/logging"
	"pdfqa/internal/redis"
	"pdfqa/internal/service/ai"
	"pdfqa/internal/service/document"
	"pdfqa/internal/session"
	"pdfqa/internal/telemetry"
	"pdfqa/internal/worker"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracing, err := telemetry.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()
	logger.Info("tracing configured", zap.Bool("enabled", cfg.Tracing.Enabled), zap.String("project", tracing.Project()))

	var store session.SnapshotStore = session.NopStore{}
	if cfg.Redis.Enabled {
		rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		store = session.NewRedisStore(rdb, logger.Named("snapshot"))
		logger.Info("session snapshots stored in redis", zap.String("host", cfg.Redis.Host), zap.Int("port", cfg.Redis.Port))
	}

	extractor, err := document.NewExtractor(ctx, tracing.Tracer("pdfqa/document"))
	if err != nil {
		return err
	}
	chatModel, err := ai.NewChatModel(ctx, cfg.Provider)
	if err != nil {
		return err
	}
	generator := ai.NewGenerator(chatModel, cfg.Provider.Model,
		ai.WithTimeout(cfg.Provider.Timeout),
		ai.WithTracer(tracing.Tracer("pdfqa/ai")),
		ai.WithLogger(logger.Named("ai")),
	)
	logger.Info("answer backend ready", zap.String("provider", cfg.Provider.Name), zap.String("model", generator.ModelName()))

	dispatcher := worker.NewDispatcher(worker.Config{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: cfg.BasicConfig.WorkerIdleTimeout,
	}, logger.Named("worker"))
	defer dispatcher.Stop()

	if err := os.MkdirAll(cfg.BasicConfig.UploadDir, 0o700); err != nil {
		return err
	}
	registry := session.NewRegistry(cfg.BasicConfig.UploadDir, cfg.BasicConfig.SessionTTL, store, dispatcher, logger.Named("session"))
	registry.StartCleaner(ctx, cfg.BasicConfig.CleanInterval)
	defer registry.Close(context.Background())

	sessions := session.NewService(extractor, ai.NewPromptBuilder(), generator, dispatcher, store, session.Options{
		MaxUploadBytes: cfg.BasicConfig.MaxUploadBytes(),
		SnapshotTTL:    cfg.BasicConfig.SessionTTL,
	}, logger.Named("session"))

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinLogger(logger.Named("http")))
	authService := auth.NewService(cfg.BasicConfig.SessionTTL, cfg.BasicConfig.SecureCookies)
	handlers := api.NewHandler(sessions, registry, authService, dispatcher, generator.ModelName(), logger.Named("api"))
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
