package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	_ "github.com/troy12x/si-copilot/internal/apidocs" // registers the OpenAPI doc
	"github.com/troy12x/si-copilot/internal/config"
	"github.com/troy12x/si-copilot/internal/database"
	"github.com/troy12x/si-copilot/internal/economics"
	"github.com/troy12x/si-copilot/internal/eventbus"
	"github.com/troy12x/si-copilot/internal/generation"
	"github.com/troy12x/si-copilot/internal/handlers"
	"github.com/troy12x/si-copilot/internal/middleware"
	"github.com/troy12x/si-copilot/internal/orchestrator"
	"github.com/troy12x/si-copilot/internal/provider"
	"github.com/troy12x/si-copilot/internal/runs"
	"github.com/troy12x/si-copilot/internal/scratch"
	"github.com/troy12x/si-copilot/internal/store"
	"github.com/troy12x/si-copilot/internal/telemetry"
	"go.uber.org/zap"
)

const version = "0.1.0"

func main() {
	configFile := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Parse()

	ctx := context.Background()

	zapConfig := zap.NewProductionConfig()
	zapConfig.OutputPaths = []string{"stdout"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	logger, err := zapConfig.Build()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("si-copilot API starting",
		zap.String("version", version),
		zap.String("environment", cfg.Environment),
	)

	shutdownTelemetry, err := telemetry.InitTracer(ctx, "si-copilot-api", cfg.OTELEndpoint)
	if err != nil {
		// collector may be down; tracing is optional
		logger.Error("failed to initialize telemetry", zap.Error(err))
	} else {
		defer func() {
			if err := shutdownTelemetry(ctx); err != nil {
				logger.Error("failed to shutdown telemetry", zap.Error(err))
			}
		}()
	}

	if err := database.RunMigrations(cfg.DatabaseURL, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	db, err := database.NewPostgres(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	deps := map[string]handlers.Pinger{"postgres": db, "redis": nil, "nats": nil}

	var scratchStore scratch.Store = scratch.NewMemory()
	if cfg.RedisURL != "" {
		rdb, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, keeping scratch snapshots in memory", zap.Error(err))
		} else {
			defer rdb.Close()
			deps["redis"] = rdb
			scratchStore = scratch.NewRedis(rdb.Client(), "si-copilot:", cfg.ScratchTTL)
		}
	}

	var (
		publisher eventbus.Publisher
		history   handlers.EventHistory
	)
	if cfg.NATSURL != "" {
		bus, err := eventbus.Connect(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("failed to connect to NATS, run events stay local", zap.Error(err))
		} else {
			defer bus.Close()
			deps["nats"] = bus
			publisher = bus
			if s := bus.Store(); s != nil {
				history = s
			}
			logger.Info("connected to NATS")
		}
	}

	breakers := middleware.NewBreakers(nil)
	registry := provider.NewRegistry(
		provider.NewTogetherAI(provider.Config{
			APIKey:  cfg.TogetherAIAPIKey,
			BaseURL: cfg.TogetherAIBaseURL,
			Timeout: cfg.UpstreamTimeout,
			Breaker: breakers.For(provider.TogetherAI),
		}),
		provider.NewVeniceAI(provider.Config{
			APIKey:  cfg.VeniceAIAPIKey,
			BaseURL: cfg.VeniceAIBaseURL,
			Timeout: cfg.UpstreamTimeout,
			Breaker: breakers.For(provider.VeniceAI),
		}),
	)

	genService := generation.NewService(registry, nil, logger)
	orch := orchestrator.New(genService,
		orchestrator.WithOptions(orchestrator.Options{
			SmallThreshold:   cfg.SmallThreshold,
			BatchSize:        cfg.BatchSize,
			MaxRetries:       cfg.MaxRetries,
			InitialBackoff:   cfg.InitialBackoff,
			BatchDelay:       cfg.BatchDelay,
			SplitConcurrency: cfg.SplitConcurrency,
		}),
		orchestrator.WithScratch(scratchStore),
		orchestrator.WithLogger(logger),
	)

	economicService := economics.NewService(db, logger)
	manager := runs.NewManager(orch, logger,
		runs.WithPublisher(publisher),
		runs.WithUsageRecorder(economicService),
		runs.WithRetention(cfg.RunRetention),
	)

	datasets := store.NewDatasets(db.Pool())
	sessions := store.NewSessions(db.Pool())
	users := store.NewUsers(db.Pool())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweepRateLimiters(sweepCtx, 10*time.Minute, middleware.DefaultRateLimiter, middleware.StrictRateLimiter)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Trace("si-copilot-api"))
	router.Use(middleware.TraceHeader())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	healthHandler := handlers.NewHealthHandler(deps, breakers.States)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/deep", healthHandler.DeepHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	generationHandler := handlers.NewGenerationHandler(genService, logger)
	runsHandler := handlers.NewRunsHandler(manager, datasets, scratchStore, history, logger)
	datasetsHandler := handlers.NewDatasetsHandler(datasets, logger)
	authHandler := handlers.NewAuthHandler(users, sessions, cfg.JWTSecret, logger)
	economicsHandler := handlers.NewEconomicsHandler(economicService, logger)

	v1 := router.Group("/api/v1")
	{
		// Batch generation is called directly by clients that orchestrate themselves
		v1.POST("/generate", middleware.RateLimitMiddleware(middleware.DefaultRateLimiter), generationHandler.Generate)
		v1.GET("/models", economicsHandler.Models)

		auth := v1.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		protected := v1.Group("")
		protected.Use(middleware.Auth(cfg.JWTSecret))
		protected.Use(middleware.RateLimitMiddleware(middleware.DefaultRateLimiter))
		{
			protected.POST("/cost/estimate", economicsHandler.EstimateCost)

			sessionsGroup := protected.Group("/sessions")
			{
				sessionsGroup.POST("", authHandler.CreateSession)
				sessionsGroup.GET("/:key/validate", authHandler.ValidateSession)
			}

			runsGroup := protected.Group("/runs")
			{
				runsGroup.POST("", middleware.RateLimitMiddleware(middleware.StrictRateLimiter), runsHandler.Start)
				runsGroup.GET("/:id", runsHandler.Get)
				runsGroup.POST("/:id/cancel", runsHandler.Cancel)
				runsGroup.GET("/:id/stream", runsHandler.Stream)
				runsGroup.POST("/:id/save", runsHandler.Save)
				runsGroup.GET("/:id/events", runsHandler.Events)
			}

			protected.GET("/scratch", runsHandler.Scratch)
			protected.DELETE("/scratch", runsHandler.ClearScratch)

			datasetsGroup := protected.Group("/datasets")
			{
				datasetsGroup.GET("", datasetsHandler.List)
				datasetsGroup.GET("/:id", datasetsHandler.Get)
				datasetsGroup.PUT("/:id", datasetsHandler.Update)
				datasetsGroup.DELETE("/:id", datasetsHandler.Delete)
				datasetsGroup.GET("/:id/export", datasetsHandler.Export)
			}

			user := protected.Group("/user")
			{
				user.GET("/me", authHandler.GetCurrentUser)
				user.GET("/stats", datasetsHandler.Stats)
				user.GET("/usage", economicsHandler.Usage)
			}
		}
	}

	// WriteTimeout stays zero so run streams are not cut off
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("runs did not stop in time", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited gracefully")
}

// sweepRateLimiters drops idle caller buckets until ctx is done
func sweepRateLimiters(ctx context.Context, every time.Duration, limiters ...*middleware.RateLimiter) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, rl := range limiters {
				rl.Sweep()
			}
		}
	}
}
