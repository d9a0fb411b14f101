package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"admitHub/internal/api"
	"admitHub/internal/api/middleware"
	"admitHub/internal/auth"
	"admitHub/internal/catalog"
	"admitHub/internal/config"
	"admitHub/internal/database"
	"admitHub/internal/engine"
	"admitHub/internal/enrollment"
	"admitHub/internal/events"
	"admitHub/internal/interview"
	"admitHub/internal/payment"
	"admitHub/internal/storage"
	"admitHub/internal/submission"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	logger.Info("database connection ready")

	if err := db.AutoMigrate(database.AllModels()...); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	logger.Info("database migrated")

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	logger.Info("storage client ready", slog.String("bucket", cfg.MinIO.Bucket))

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer asynqClient.Close()

	authService, err := auth.NewAuthService(
		[]byte(cfg.Auth.PrivateKeyPEM),
		[]byte(cfg.Auth.PublicKeyPEM),
		time.Duration(cfg.Auth.AccessTTLMinutes)*time.Minute,
		time.Duration(cfg.Auth.RefreshTTLHours)*time.Hour,
	)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	dispatcher := events.NewDispatcher(asynqClient, redisClient, logger, middleware.CorrelationIDFromContext)
	eng := engine.New(db, dispatcher, enrollment.NewBridge())
	catalogStore := catalog.NewStore(db)

	deps := api.Dependencies{
		DB:              db,
		Config:          cfg,
		AuthService:     authService,
		Engine:          eng,
		Catalog:         catalogStore,
		Submissions:     submission.NewStore(db),
		Ledger:          payment.NewLedger(db, eng, catalogStore),
		Deferrals:       enrollment.NewService(db, dispatcher),
		Storage:         storageClient,
		InterviewClient: interview.NewClient(cfg.Interview),
		AsynqClient:     asynqClient,
		RedisClient:     redisClient,
		Logger:          logger,
	}

	router := api.NewRouter(logger)
	api.RegisterRoutes(router, deps)

	address := fmt.Sprintf(":%d", cfg.API.Port)
	logger.Info("api listening", slog.String("address", address))
	if err := router.Run(address); err != nil {
		log.Fatalf("failed to start api server: %v", err)
	}
}
