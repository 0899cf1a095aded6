// Command server is patchbay's single process entrypoint: it serves the
// admission HTTP surface (rooms CRUD, join/exit) and the
// upgrade-to-websocket signaling endpoint side by side, since both share
// the same in-memory room registry.
package main

import (
	"context"
	"net/http"
	"os"
	osignal "os/signal"
	"syscall"
	"time"

	"patchbay/internal/admission"
	"patchbay/internal/metrics"
	"patchbay/internal/redisx"
	"patchbay/pkg/config"
	"patchbay/pkg/logger"
	"patchbay/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := loadConfig()

	log := logger.New(cfg.Logging.Level)
	defer log.Sync()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "patchbay",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatal("failed to initialize tracing", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	batcher := metrics.NewBatcher(collector, 64, cfg.Monitoring.MetricsInterval)
	defer batcher.Stop()

	redisClient := newOptionalRedisClient(cfg, log)
	var snapshot *redisx.RoomSnapshotCache
	if redisClient != nil {
		snapshot = redisx.NewRoomSnapshotCache(redisClient, 2*time.Second)
		defer redisClient.Close()
	}

	registry := admission.NewRegistry(cfg, log, collector)
	auth := admission.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	handlers := admission.NewHandlers(registry, auth, snapshot, log)
	signalHandlers := admission.NewSignalHandlers(registry, auth, cfg, collector, batcher, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handlers.SetupRoutes(router, cfg)
	signalHandlers.SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting patchbay server", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	osignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatal("server failed", zap.Error(err))
	case sig := <-sigChan:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	registry.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
		_ = srv.Close()
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error("error shutting down tracing", zap.Error(err))
	}

	log.Info("patchbay server stopped")
}

// loadConfig walks a small search path, falling back to defaults (plus
// env overrides) when no file is found.
func loadConfig() *config.Config {
	for _, path := range []string{"configs/config.yaml", "./configs/config.yaml", "/etc/patchbay/config.yaml", "config.yaml"} {
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		if cfg, err := config.Load(path); err == nil {
			return cfg
		}
	}
	return config.DefaultConfig()
}

func newOptionalRedisClient(cfg *config.Config, log *zap.Logger) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	client, err := redisx.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log)
	if err != nil {
		log.Warn("redis unavailable, continuing without snapshot cache", zap.Error(err))
		return nil
	}
	return client
}
