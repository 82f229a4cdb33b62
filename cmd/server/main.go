// Package main runs the live commerce broadcast server with WebSocket
// fan-out, the lifecycle sweeper, and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/livemarket/backend/config"
	"github.com/livemarket/backend/internal/auth"
	"github.com/livemarket/backend/internal/broadcast"
	"github.com/livemarket/backend/internal/engage"
	"github.com/livemarket/backend/internal/media"
	"github.com/livemarket/backend/internal/middleware"
	"github.com/livemarket/backend/internal/models"
	"github.com/livemarket/backend/internal/moderation"
	"github.com/livemarket/backend/internal/notify"
	"github.com/livemarket/backend/internal/scheduler"
	"github.com/livemarket/backend/internal/viewersessions"
	"github.com/livemarket/backend/internal/vod"
	"github.com/livemarket/backend/internal/worker"
	"github.com/livemarket/backend/pkg/database"
	"github.com/livemarket/backend/pkg/lock"
	"github.com/livemarket/backend/pkg/queue"
	"github.com/livemarket/backend/pkg/redis"
	"github.com/livemarket/backend/pkg/response"
	"github.com/livemarket/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			VodBucket:       cfg.AWS.VodBucket,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := notify.NewRedisPubSub(rdb.Client, logger)
	hub := notify.NewHub(logger, redisPubSub, redisPubSub)

	provider := media.NewOpenVidu(cfg.OpenVidu.URL, cfg.OpenVidu.Secret,
		time.Duration(cfg.OpenVidu.TimeoutSec)*time.Second, logger)

	aggregator := engage.NewAggregator(rdb.Client, logger)
	engageHandler := engage.NewHandler(aggregator, hub, logger)

	// Moderation
	broadcastRepo := broadcast.NewRepository(pool)
	moderationRepo := moderation.NewRepository(pool)
	moderationSvc := moderation.NewService(moderationRepo, broadcastSource{broadcastRepo}, aggregator, hub, provider, logger)
	moderationHandler := moderation.NewHandler(moderationSvc)

	// VOD + finalization queue
	vodRepo := vod.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	vodHandler := vod.NewHandler(vodRepo, broadcastRepo, jobQueue, logger)

	// Lifecycle
	broadcastSvc := broadcast.NewService(broadcastRepo, lock.New(rdb.Client), aggregator,
		moderationSvc, vodRepo, provider, hub, cfg.Broadcast, logger)
	broadcastHandler := broadcast.NewHandler(broadcastSvc)

	// Presence and chat wiring: one WebSocket connection is one tab.
	sessionRepo := viewersessions.NewRepository(pool)
	hub.SetPresenceHooks(
		func(broadcastID, viewerID uuid.UUID) {
			ctx := context.Background()
			if err := aggregator.Enter(ctx, broadcastID, viewerID.String()); err != nil {
				logger.Warn("presence enter failed", zap.Error(err))
			}
			_ = sessionRepo.LogJoin(ctx, broadcastID, viewerID)
		},
		func(broadcastID, viewerID uuid.UUID) {
			ctx := context.Background()
			if err := aggregator.Exit(ctx, broadcastID, viewerID.String()); err != nil {
				logger.Warn("presence exit failed", zap.Error(err))
			}
			_ = sessionRepo.LogLeave(ctx, broadcastID, viewerID)
		},
	)
	hub.SetChatGate(func(broadcastID, viewerID uuid.UUID) bool {
		return moderationSvc.CanChat(context.Background(), broadcastID, viewerID)
	})
	hub.SetChatHook(func(broadcastID, _ uuid.UUID) {
		_ = aggregator.IncrChat(context.Background(), broadcastID)
	})

	// Lifecycle sweeper
	sweeper := scheduler.NewSweeper(broadcastRepo, broadcastSvc, aggregator, hub,
		cfg.Scheduler, cfg.Broadcast, logger)

	// In-process VOD worker (the standalone cmd/worker binary can run it
	// out-of-process instead).
	var pipeline *vod.Pipeline
	if s3Client != nil {
		pipeline = vod.NewPipeline(vodRepo, broadcastRepo, aggregator, sessionRepo, nil, provider, s3Client, logger)
	}
	vodProcessor := worker.NewVodProcessor(pipeline, jobQueue, logger)

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID.String(), claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Public reads
	router.GET("/broadcasts", broadcastHandler.List)
	router.GET("/broadcasts/:id", broadcastHandler.Get)
	router.GET("/broadcasts/:id/counts", engageHandler.Counts)
	router.GET("/broadcasts/:id/vod", vodHandler.GetByBroadcast)
	router.GET("/vods", vodHandler.ListPublic)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Lifecycle (seller)
		api.POST("/broadcasts", middleware.RequireRole(auth.RoleSeller), broadcastHandler.Create)
		api.PUT("/broadcasts/:id", middleware.RequireRole(auth.RoleSeller), broadcastHandler.Update)
		api.POST("/broadcasts/:id/cancel", middleware.RequireRole(auth.RoleSeller), broadcastHandler.Cancel)
		api.POST("/broadcasts/:id/start", middleware.RequireRole(auth.RoleSeller), broadcastHandler.Start)
		api.POST("/broadcasts/:id/end", middleware.RequireRole(auth.RoleSeller), broadcastHandler.End)
		api.POST("/broadcasts/:id/products/:listingId/pin", middleware.RequireRole(auth.RoleSeller), broadcastHandler.Pin)

		// Viewer
		api.POST("/broadcasts/:id/join", broadcastHandler.Join)
		api.POST("/broadcasts/:id/leave", broadcastHandler.Leave)
		api.POST("/broadcasts/:id/like", engageHandler.Like)
		api.POST("/broadcasts/:id/report", engageHandler.Report)
		api.PUT("/broadcasts/:id/device-prefs", middleware.RequireRole(auth.RoleSeller), engageHandler.SetDevicePrefs)
		api.GET("/broadcasts/:id/device-prefs", engageHandler.DevicePrefs)

		// Moderation (seller owns broadcast, or admin)
		api.POST("/broadcasts/:id/sanctions", middleware.RequireRole(auth.RoleSeller, auth.RoleAdmin), moderationHandler.Sanction)
		api.GET("/broadcasts/:id/sanctions", middleware.RequireRole(auth.RoleSeller, auth.RoleAdmin), moderationHandler.List)

		// Admin
		api.POST("/admin/broadcasts/:id/stop", middleware.RequireRole(auth.RoleAdmin), broadcastHandler.ForceStop)
		api.GET("/admin/broadcasts/:id/statistics", middleware.RequireRole(auth.RoleAdmin), broadcastHandler.Statistics)
		api.PATCH("/admin/vods/:id/visibility", middleware.RequireRole(auth.RoleAdmin), vodHandler.SetVisibility)
	}

	// Webhooks (no JWT; the provider authenticates with its shared secret
	// at the network layer)
	router.POST("/webhooks/recording-ready", vodHandler.RecordingReady)

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", func(c *gin.Context) {
		notify.ServeWs(hub, logger, jwtValidate)(c)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go sweeper.Run(bgCtx)
	if pipeline != nil {
		go vodProcessor.Run(bgCtx)
		logger.Info("vod worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// broadcastSource adapts the broadcast repository to the moderation
// service's read interface.
type broadcastSource struct {
	repo *broadcast.Repository
}

func (s broadcastSource) Get(ctx context.Context, id uuid.UUID) (*models.Broadcast, error) {
	return s.repo.GetByID(ctx, id)
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
