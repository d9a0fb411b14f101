package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"admitHub/internal/apperr"
	"admitHub/internal/database"
	"admitHub/internal/platform"
	"admitHub/internal/tasks"
)

// PlatformEnrollHandler 负责消费外部课程平台的开课任务。
type PlatformEnrollHandler struct {
	db          *gorm.DB
	client      *platform.Client
	redisClient redis.UniversalClient
	logger      *slog.Logger
}

// NewPlatformEnrollHandler 创建任务处理器。
func NewPlatformEnrollHandler(db *gorm.DB, client *platform.Client, redisClient redis.UniversalClient, logger *slog.Logger) *PlatformEnrollHandler {
	return &PlatformEnrollHandler{
		db:          db,
		client:      client,
		redisClient: redisClient,
		logger:      logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *PlatformEnrollHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.PlatformEnrollPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("enrollment_id", uint64(payload.EnrollmentID)),
	)

	var enrollment database.Enrollment
	if err := h.db.WithContext(ctx).Preload("Run").First(&enrollment, payload.EnrollmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("enrollment not found, skipping task")
			return nil
		}
		log.Error("query enrollment failed", slog.Any("error", err))
		return err
	}

	if !enrollment.Active {
		log.Info("enrollment no longer active, skipping platform sync")
		return nil
	}
	if enrollment.Run.ExternalCourseKey == "" {
		log.Info("run has no external course key, skipping platform sync")
		return nil
	}

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, enrollment.UserID).Error; err != nil {
		log.Error("query user failed", slog.Any("error", err))
		return err
	}

	defer func() {
		if retErr == nil || !isFinalAsynqAttempt(ctx) {
			return
		}
		notify := SyncNotifyMessage{
			Type:          "enrollment_sync_failed",
			EnrollmentID:  enrollment.ID,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
			CorrelationID: payload.CorrelationID,
		}
		if err := publishUserNotify(ctx, h.redisClient, enrollment.UserID, notify); err != nil {
			log.Error("publish sync error notification failed", slog.Any("error", err))
		}
	}()

	result, err := h.client.Enroll(ctx, enrollment.Run.ExternalCourseKey, platform.Candidate{
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Username:  platform.GenerateUsername(user.FirstName, user.LastName, nil),
	})
	if err != nil {
		if !apperr.Retryable(err) {
			log.Error("platform rejected enrollment", slog.Any("error", err))
			return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
		}
		log.Warn("platform unavailable, will retry", slog.Any("error", err))
		return err
	}

	if result == platform.ResultAnomaly {
		log.Warn("platform returned anomalous success, leaving sync instant unset")
		return nil
	}

	now := time.Now()
	if err := h.db.WithContext(ctx).Model(&enrollment).Update("synced_at", now).Error; err != nil {
		log.Error("stamp sync instant failed", slog.Any("error", err))
		return err
	}

	log.Info("platform enrollment synced", slog.String("result", string(result)))
	return nil
}

// PlatformBulkEnrollHandler 负责消费批量开课任务。
type PlatformBulkEnrollHandler struct {
	db     *gorm.DB
	client *platform.Client
	logger *slog.Logger
}

// NewPlatformBulkEnrollHandler 创建任务处理器。
func NewPlatformBulkEnrollHandler(db *gorm.DB, client *platform.Client, logger *slog.Logger) *PlatformBulkEnrollHandler {
	return &PlatformBulkEnrollHandler{db: db, client: client, logger: logger}
}

// ProcessTask 实现 asynq.Handler。单个失败不会中断批次，
// 统计结果只记录日志。
func (h *PlatformBulkEnrollHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	log := h.logger

	var payload tasks.PlatformBulkEnrollPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("run_id", uint64(payload.RunID)),
	)

	var run database.Run
	if err := h.db.WithContext(ctx).First(&run, payload.RunID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("run not found, skipping bulk enroll")
			return nil
		}
		return err
	}
	if run.ExternalCourseKey == "" {
		log.Warn("run has no external course key, skipping bulk enroll")
		return nil
	}

	var users []database.User
	if err := h.db.WithContext(ctx).Where("id IN ?", payload.UserIDs).Find(&users).Error; err != nil {
		log.Error("query users failed", slog.Any("error", err))
		return err
	}

	cands := make([]platform.Candidate, 0, len(users))
	for _, u := range users {
		cands = append(cands, platform.Candidate{
			Email:     u.Email,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Username:  platform.GenerateUsername(u.FirstName, u.LastName, nil),
		})
	}

	summary := h.client.BulkEnroll(ctx, run.ExternalCourseKey, cands)

	failed := make(map[string]struct{}, len(summary.FailedEmails))
	for _, email := range summary.FailedEmails {
		failed[email] = struct{}{}
	}
	var syncedUserIDs []uint
	for _, u := range users {
		if _, ok := failed[u.Email]; !ok {
			syncedUserIDs = append(syncedUserIDs, u.ID)
		}
	}

	if len(syncedUserIDs) > 0 {
		if err := h.db.WithContext(ctx).Model(&database.Enrollment{}).
			Where("run_id = ? AND user_id IN ? AND active = ?", run.ID, syncedUserIDs, true).
			Update("synced_at", time.Now()).Error; err != nil {
			log.Error("stamp bulk sync instants failed", slog.Any("error", err))
			return err
		}
	}

	log.Info("bulk platform enroll finished",
		slog.Int("created", summary.Created),
		slog.Int("existed", summary.Existed),
		slog.Int("failed", summary.Failed),
	)
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
