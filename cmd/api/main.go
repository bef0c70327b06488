package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campustrack/internal/attendance"
	"campustrack/internal/config"
	"campustrack/internal/directory"
	"campustrack/internal/faceclient"
	"campustrack/internal/handler"
	"campustrack/internal/httpmiddleware"
	"campustrack/internal/queue"
	"campustrack/internal/store"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.Env)

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(env string) *slog.Logger {
	if env == "production" || env == "prod" {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func run(cfg config.App, logger *slog.Logger) error {
	ctx := context.Background()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("invalid timezone, falling back to UTC", "tz", cfg.Timezone, "err", err)
		loc = time.UTC
	}

	var (
		db      *store.Mongo
		dirRepo directory.Repository
		logRepo attendance.Repository
	)
	if cfg.StoreBackend == "memory" {
		dirRepo = directory.NewMemoryRepository()
		logRepo = attendance.NewMemoryRepository()
		logger.Info("using in-memory store backend")
	} else {
		db, err = store.NewMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close(context.Background()) }()
		dirRepo = directory.NewMongoRepository(db.DB)
		logRepo = attendance.NewMongoRepository(db.DB)
	}

	var redisClient *store.Redis
	if cfg.CacheBackend == "redis" || cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
	}

	var cache attendance.SessionCache
	if cfg.CacheBackend == "redis" {
		cache = attendance.NewRedisCache(redisClient.Client, cfg.CacheTTL)
	} else {
		cache = attendance.NewMemoryCache()
	}

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		q = queue.NewRedisQueue(redisClient.Client, "campustrack:facesaves")
	} else {
		q = queue.NewInMemory(64)
	}

	faces := faceclient.New(cfg.FaceServiceURL, cfg.FaceTimeout, cfg.FaceSkip)

	svc := attendance.NewService(logRepo, dirRepo, cache, faces, logger, attendance.Options{
		Location:      loc,
		SessionWindow: cfg.SessionWindow,
		LateAfter:     cfg.LateAfter,
		SpoofMinConf:  cfg.SpoofMinConf,
	})
	enroller := directory.NewEnroller(faces, q, logger)

	// In-memory queue messages are lost unless consumed in-process; run the
	// save loop here when no external worker is expected.
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	if cfg.QueueBackend != "redis" {
		go consumeFaceSaves(workerCtx, q, dirRepo, logger)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		dbHealthy := cfg.StoreBackend == "memory" || db.Healthy(c.Request.Context())
		redisHealthy := redisClient == nil || redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !dbHealthy || !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "db": dbHealthy, "redis": redisHealthy})
	})

	handler.New(svc, enroller, logger).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // recognition batches can run long
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", "err", err)
	}
	logger.Info("server exited")
	return nil
}

// consumeFaceSaves drains enrollment writes from the in-process queue.
func consumeFaceSaves(ctx context.Context, q queue.Queue, dir directory.Repository, logger *slog.Logger) {
	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Error("queue consume init failed", "err", err)
		return
	}
	for msg := range messages {
		if err := directory.ApplyFaceSave(ctx, dir, msg); err != nil {
			logger.Error("face save failed", "err", err)
		}
	}
}

// corsMiddleware allows browser requests from the campus frontends.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
