package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"admitHub/internal/config"
	"admitHub/internal/database"
	"admitHub/internal/events"
	"admitHub/internal/interview"
	"admitHub/internal/metrics"
	"admitHub/internal/platform"
	"admitHub/internal/tasks"
	"admitHub/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	logger.Info("database connection ready for worker")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer asynqClient.Close()

	platformClient := platform.NewClient(cfg.Platform, logger)
	interviewClient := interview.NewClient(cfg.Interview)
	dispatcher := events.NewDispatcher(asynqClient, redisClient, logger, nil)

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr()}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
	})

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypePlatformEnroll, worker.NewPlatformEnrollHandler(db, platformClient, redisClient, logger))
	mux.Handle(tasks.TypePlatformBulkEnroll, worker.NewPlatformBulkEnrollHandler(db, platformClient, logger))
	mux.Handle(tasks.TypeLetterDispatch, worker.NewLetterDispatchHandler(db, nil, redisClient, logger))
	mux.Handle(tasks.TypeInterviewRefresh, worker.NewInterviewRefreshHandler(
		db, interviewClient, dispatcher, logger, cfg.Interview.LinkExpirationDays))

	scheduler := asynq.NewScheduler(redisOpt, nil)
	if _, err := scheduler.Register("@every 6h", tasks.NewInterviewRefreshTask()); err != nil {
		log.Fatalf("register interview refresh schedule: %v", err)
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error("scheduler stopped", slog.Any("error", err))
		}
	}()

	logger.Info("worker service started", slog.String("redis_addr", cfg.Redis.Addr()))
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
