// Package main runs the background VOD finalization worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/livemarket/backend/config"
	"github.com/livemarket/backend/internal/broadcast"
	"github.com/livemarket/backend/internal/engage"
	"github.com/livemarket/backend/internal/media"
	"github.com/livemarket/backend/internal/viewersessions"
	"github.com/livemarket/backend/internal/vod"
	"github.com/livemarket/backend/internal/worker"
	"github.com/livemarket/backend/pkg/database"
	"github.com/livemarket/backend/pkg/queue"
	"github.com/livemarket/backend/pkg/redis"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		VodBucket:       cfg.AWS.VodBucket,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	provider := media.NewOpenVidu(cfg.OpenVidu.URL, cfg.OpenVidu.Secret,
		time.Duration(cfg.OpenVidu.TimeoutSec)*time.Second, logger)
	aggregator := engage.NewAggregator(rdb.Client, logger)

	broadcastRepo := broadcast.NewRepository(pool)
	vodRepo := vod.NewRepository(pool)
	sessionRepo := viewersessions.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	pipeline := vod.NewPipeline(vodRepo, broadcastRepo, aggregator, sessionRepo, nil, provider, s3Client, logger)
	processor := worker.NewVodProcessor(pipeline, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
