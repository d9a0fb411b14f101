package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"admitHub/internal/catalog"
	"admitHub/internal/database"
	"admitHub/internal/events"
	"admitHub/internal/interview"
)

// InterviewRefreshHandler 周期性扫描过旧的面试邀请并重新签发链接。
// 刷新范围限定在：提交物仍待审、申请未终结、对应一期尚未开课。
type InterviewRefreshHandler struct {
	db             *gorm.DB
	client         *interview.Client
	publisher      events.Publisher
	logger         *slog.Logger
	expirationDays int
}

// NewInterviewRefreshHandler 创建任务处理器。
func NewInterviewRefreshHandler(
	db *gorm.DB,
	client *interview.Client,
	publisher events.Publisher,
	logger *slog.Logger,
	expirationDays int,
) *InterviewRefreshHandler {
	return &InterviewRefreshHandler{
		db:             db,
		client:         client,
		publisher:      publisher,
		logger:         logger,
		expirationDays: expirationDays,
	}
}

// ProcessTask 实现 asynq.Handler。单个申请刷新失败不影响其余申请。
func (h *InterviewRefreshHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	now := time.Now()
	cutoff := now.AddDate(0, 0, -h.expirationDays)

	var subs []database.Submission
	err := h.db.WithContext(ctx).
		Joins("JOIN applications ON applications.id = submissions.application_id AND applications.deleted_at IS NULL").
		Joins("JOIN runs ON runs.id = applications.run_id AND runs.deleted_at IS NULL").
		Joins("JOIN video_interviews ON video_interviews.id = submissions.video_interview_id AND video_interviews.deleted_at IS NULL").
		Where("submissions.kind = ?", database.KindVideoInterview).
		Where("submissions.review_status = ?", database.ReviewPending).
		Where("applications.state NOT IN ?", []string{database.StateComplete, database.StateRejected}).
		Where("runs.starts_at IS NULL OR runs.starts_at > ?", now).
		Where("video_interviews.status = ?", database.InterviewPending).
		Where("video_interviews.requested_at < ?", cutoff).
		Preload("VideoInterview").
		Preload("RunStep").
		Preload("Application.User").
		Preload("Application.Run.Bootcamp").
		Find(&subs).Error
	if err != nil {
		h.logger.Error("query stale interviews failed", slog.Any("error", err))
		return err
	}

	if len(subs) == 0 {
		return nil
	}

	var failures int
	for _, sub := range subs {
		if err := h.refreshOne(ctx, sub, now); err != nil {
			failures++
			h.logger.Warn("refresh interview link failed",
				slog.Uint64("submission_id", uint64(sub.ID)),
				slog.Uint64("application_id", uint64(sub.ApplicationID)),
				slog.Any("error", err),
			)
		}
	}

	h.logger.Info("interview link refresh finished",
		slog.Int("stale", len(subs)),
		slog.Int("failed", failures),
	)
	if failures == len(subs) {
		return fmt.Errorf("all %d interview refreshes failed", failures)
	}
	return nil
}

func (h *InterviewRefreshHandler) refreshOne(ctx context.Context, sub database.Submission, now time.Time) error {
	if sub.VideoInterview == nil {
		return fmt.Errorf("submission %d has no video interview record", sub.ID)
	}

	app := sub.Application
	jobCode := fmt.Sprintf("run-%d-step-%d", app.RunID, sub.RunStepID)
	jobTitle := catalog.DisplayTitle(&app.Run)

	inv, err := h.client.CreateInterview(ctx, sub.VideoInterview.ExternalID, jobCode, jobTitle, interview.CandidateInfo{
		FirstName: app.User.FirstName,
		LastName:  app.User.LastName,
		Phone:     app.User.Phone,
		Email:     app.User.Email,
	})
	if err != nil {
		return err
	}

	update := map[string]any{
		"invitation_url": inv.InterviewLink,
		"candidate_id":   inv.InterviewToken,
		"requested_at":   now,
	}
	if err := h.db.WithContext(ctx).Model(sub.VideoInterview).Updates(update).Error; err != nil {
		return fmt.Errorf("persist refreshed invitation: %w", err)
	}

	h.publisher.Publish(ctx, events.InterviewLinkExpired{
		ApplicationID: app.ID,
		UserID:        app.UserID,
		SubmissionID:  sub.ID,
	})
	return nil
}
