// Package main runs the classroom polling HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/classpoll/backend/config"
	"github.com/classpoll/backend/internal/middleware"
	"github.com/classpoll/backend/internal/polls"
	"github.com/classpoll/backend/internal/realtime"
	"github.com/classpoll/backend/internal/worker"
	"github.com/classpoll/backend/pkg/database"
	"github.com/classpoll/backend/pkg/queue"
	"github.com/classpoll/backend/pkg/redis"
	"github.com/classpoll/backend/pkg/response"
	"github.com/classpoll/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	policy, err := polls.ParseVotePolicy(cfg.Poll.VotePolicy)
	if err != nil {
		logger.Fatal("vote policy", zap.Error(err))
	}

	ctx := context.Background()

	var store polls.Store
	if cfg.Database.Driver == "memory" {
		logger.Warn("using in-memory poll store; polls are lost on restart")
		store = polls.NewMemoryStore()
	} else {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		store = polls.NewRepository(pool)
	}

	var (
		rdb    *redis.Client
		locker polls.Locker
		hub    *realtime.Hub
	)
	if cfg.Redis.Enabled {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, redisPubSub, redisPubSub)
		if cfg.Poll.LockBackend == "redis" {
			locker = polls.NewRedisLocker(rdb.Client, cfg.Poll.LockTTL, logger)
		}
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}
	if err := hub.Start(); err != nil {
		logger.Fatal("realtime hub", zap.Error(err))
	}
	defer hub.Stop()

	pollService := polls.NewService(store, locker, realtime.NewPollNotifier(hub), logger, polls.Options{
		Policy:       policy,
		DefaultTimer: cfg.Poll.DefaultTimer,
		MaxTimer:     cfg.Poll.MaxTimer,
		ActiveWindow: cfg.Poll.ActiveWindow,
		HistoryLimit: cfg.Poll.HistoryLimit,
		CloseTimeout: cfg.Poll.CloseTimeout,
	})
	defer pollService.Shutdown()

	// Closed-poll archive (Redis queue + S3)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Poll.ArchiveClosed {
		if rdb == nil {
			logger.Warn("poll archive disabled: requires redis")
		} else {
			jobQueue := queue.NewQueue(rdb.Client, logger)
			pollService.SetArchiver(jobQueue)
			if cfg.AWS.Region != "" {
				s3Client, err := storage.NewS3(ctx, storage.S3Config{
					Region:          cfg.AWS.Region,
					AccessKeyID:     cfg.AWS.AccessKeyID,
					SecretAccessKey: cfg.AWS.SecretAccessKey,
					ArchiveBucket:   cfg.AWS.ArchiveBucket,
				}, logger)
				if err != nil {
					logger.Warn("s3 disabled", zap.Error(err))
				} else {
					go worker.NewArchiveProcessor(store, s3Client, jobQueue, logger).Run(workerCtx)
					logger.Info("archive worker started", zap.String("bucket", s3Client.ArchiveBucket()))
				}
			}
		}
	}

	if err := pollService.Resume(ctx); err != nil {
		logger.Fatal("resume poll timers", zap.Error(err))
	}

	pollHandler := polls.NewHandler(pollService, logger)
	teacherOnly := middleware.RequireRole("teacher")

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Identity())
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":      "ok",
			"store":       cfg.Database.Driver,
			"connections": hub.ConnectionCount(),
			"vote_policy": pollService.Policy().String(),
		}
		if rdb != nil {
			body["redis"] = rdb.Healthy(c.Request.Context())
		}
		response.OK(c, body)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/questions", teacherOnly, pollHandler.Create)
		api.GET("/questions/active", pollHandler.Active)
		api.POST("/submit", pollHandler.Submit)
		api.GET("/results", pollHandler.Results)
		api.GET("/polls/history", pollHandler.History)
		api.GET("/polls/:id", pollHandler.GetByID)
		api.POST("/polls/:id/close", teacherOnly, pollHandler.Close)
		api.POST("/kickParticipant", teacherOnly, pollHandler.Kick)
		api.GET("/active-students", realtime.ActiveStudents(hub))
	}

	// WebSocket (identity is bound by the join events)
	router.GET("/ws", realtime.ServeWs(hub, pollService, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("vote_policy", policy.String()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
