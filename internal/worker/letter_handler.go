package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"admitHub/internal/database"
	"admitHub/internal/tasks"
)

// Mailer 抽象信件的出站投递通道。
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LetterDispatchHandler 负责消费录取信/拒信投递任务。
type LetterDispatchHandler struct {
	db          *gorm.DB
	mailer      Mailer
	redisClient redis.UniversalClient
	logger      *slog.Logger
}

// NewLetterDispatchHandler 创建任务处理器。mailer 可以为 nil，
// 此时只推送站内通知。
func NewLetterDispatchHandler(db *gorm.DB, mailer Mailer, redisClient redis.UniversalClient, logger *slog.Logger) *LetterDispatchHandler {
	return &LetterDispatchHandler{
		db:          db,
		mailer:      mailer,
		redisClient: redisClient,
		logger:      logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *LetterDispatchHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	log := h.logger

	var payload tasks.LetterDispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("letter_id", uint64(payload.LetterID)),
	)

	var letter database.ApplicantLetter
	if err := h.db.WithContext(ctx).First(&letter, payload.LetterID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("letter not found, skipping task")
			return nil
		}
		log.Error("query letter failed", slog.Any("error", err))
		return err
	}

	var app database.Application
	if err := h.db.WithContext(ctx).Preload("User").First(&app, letter.ApplicationID).Error; err != nil {
		log.Error("query application failed", slog.Any("error", err))
		return err
	}

	if h.mailer != nil {
		if err := h.mailer.Send(ctx, app.User.Email, letter.Subject, letter.Body); err != nil {
			log.Error("send letter email failed", slog.Any("error", err))
			return err
		}
	}

	notify := SyncNotifyMessage{
		Type:          "letter_ready",
		LetterID:      letter.ID,
		Subject:       letter.Subject,
		CorrelationID: payload.CorrelationID,
	}
	if err := publishUserNotify(ctx, h.redisClient, app.UserID, notify); err != nil {
		log.Error("publish letter notification failed", slog.Any("error", err))
		return err
	}

	log.Info("letter dispatched", slog.String("kind", letter.Kind))
	return nil
}
