package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/api/handlers"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/cache"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/config"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/generator"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/jobs"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/logger"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/scenario"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/storage"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/websocket"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	structuredLogger := logger.InitLogger(cfg.LogLevel, cfg.IsDevelopment())
	logger.WithService("tail-optimizer").WithFields(logrus.Fields{
		"version":     "1.0.0",
		"environment": cfg.Env,
		"port":        cfg.Port,
	}).Info("Starting tail optimizer service")

	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Postgres is optional: without it, slates come from the in-memory store
	// and must be loaded through the API before optimizing.
	var (
		db    *storage.DB
		store storage.SlateStore
	)
	if cfg.DatabaseURL != "" {
		db, err = storage.NewConnection(cfg.DatabaseURL, cfg.IsDevelopment())
		if err != nil {
			logger.WithService("tail-optimizer").Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		store, err = storage.NewPostgresSlateStore(db)
		if err != nil {
			logger.WithService("tail-optimizer").Fatalf("Failed to prepare slate store: %v", err)
		}
	} else {
		logger.WithService("tail-optimizer").Warn("DATABASE_URL not set, using in-memory slate store")
		store = storage.NewMemorySlateStore()
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.WithService("tail-optimizer").Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(opt)
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithService("tail-optimizer").Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	scenarioCache := scenario.NewCache(cfg.ScenarioCacheBytes, cfg.ScenarioCacheTTL, structuredLogger)
	gen := generator.NewGenerator(scenarioCache, structuredLogger)
	resultCache := cache.NewResultCache(redisClient, cfg.ResultCacheTTL, structuredLogger)
	tracker := jobs.NewTracker(redisClient, cfg.ResultCacheTTL, structuredLogger)

	wsHub := websocket.NewHub(structuredLogger)
	go wsHub.Run()

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	optimizeHandler := handlers.NewOptimizeHandler(store, gen, resultCache, tracker, wsHub, cfg, structuredLogger)
	jobHandler := handlers.NewJobHandler(tracker, resultCache, structuredLogger)
	exportHandler := handlers.NewExportHandler(resultCache, structuredLogger)
	constraintHandler := handlers.NewConstraintHandler(store, structuredLogger)
	healthHandler := handlers.NewHealthHandler(db, redisClient, scenarioCache, structuredLogger)

	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/optimize", optimizeHandler.OptimizeLineups)
		apiV1.POST("/optimize/validate", optimizeHandler.ValidateOptimizationRequest)

		apiV1.GET("/jobs/:job_id", jobHandler.GetJobStatus)
		apiV1.GET("/jobs/:job_id/result", jobHandler.GetJobResult)
		apiV1.POST("/jobs/:job_id/cancel", jobHandler.CancelJob)
		apiV1.GET("/jobs/:job_id/export.csv", exportHandler.ExportCSV)

		apiV1.GET("/slates/:slate_id/drivers", constraintHandler.GetDrivers)
		apiV1.GET("/slates/:slate_id/constraints", constraintHandler.GetConstraints)
		apiV1.PUT("/slates/:slate_id/constraints", constraintHandler.SaveConstraints)
	}

	router.GET("/ws/optimization-progress/:job_id", wsHub.HandleWebSocket)

	router.GET("/health", healthHandler.GetHealth)
	router.GET("/ready", healthHandler.GetReady)
	router.GET("/metrics", healthHandler.GetMetrics)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	go func() {
		logger.WithService("tail-optimizer").WithField("port", cfg.Port).Info("Tail optimizer service started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithService("tail-optimizer").Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.WithService("tail-optimizer").Info("Shutting down tail optimizer service...")

	// In-flight optimize requests get a grace period to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithService("tail-optimizer").Fatalf("Tail optimizer service forced to shutdown: %v", err)
	}

	logger.WithService("tail-optimizer").Info("Tail optimizer service exited")
}
