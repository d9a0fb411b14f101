package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"admitHub/internal/apperr"
	"admitHub/internal/catalog"
	"admitHub/internal/database"
	"admitHub/internal/events"
	"admitHub/internal/letters"
)

// CompletionHook 在申请进入 complete 的同一事务内被调用。
// 报名桥通过它创建/激活 Enrollment。
type CompletionHook interface {
	ApplicationCompleted(tx *gorm.DB, app *database.Application) ([]events.Event, error)
}

// Engine 持有数据库连接与事件发布器，实现全部申请迁移操作。
type Engine struct {
	db        *gorm.DB
	publisher events.Publisher
	hooks     []CompletionHook
}

// New 构造引擎。hooks 在 complete 迁移的事务内依次执行。
func New(db *gorm.DB, publisher events.Publisher, hooks ...CompletionHook) *Engine {
	return &Engine{db: db, publisher: publisher, hooks: hooks}
}

// SubmissionPayload 是 SubmitArtifact 的变体载荷：每种类型恰好填一个字段。
type SubmissionPayload struct {
	Kind           string
	VideoInterview *database.VideoInterview
	Quiz           *database.Quiz
}

// transition 是所有迁移操作的公共骨架：
// 锁申请行 → 变更事实 → 重新派生状态 → 提交后发布事件。
func (e *Engine) transition(
	ctx context.Context,
	applicationID uint,
	mutate func(tx *gorm.DB, app *database.Application, evs *[]events.Event) error,
) (*database.Application, error) {
	var app database.Application
	var evs []events.Event

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&app, applicationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("application")
			}
			return fmt.Errorf("lock application %d: %w", applicationID, err)
		}
		if mutate != nil {
			if err := mutate(tx, &app, &evs); err != nil {
				return err
			}
		}
		return e.rederive(tx, &app, &evs)
	})
	if err != nil {
		return nil, err
	}

	e.publisher.Publish(ctx, evs...)
	return &app, nil
}

// rederive 计算目标状态并回写缓存；状态变化时追加事件，
// 进入 complete/rejected 时生成信件并触发钩子。
func (e *Engine) rederive(tx *gorm.DB, app *database.Application, evs *[]events.Event) error {
	facts, err := e.loadFacts(tx, app)
	if err != nil {
		return err
	}

	newState := DeriveState(facts)
	if newState == app.State {
		return nil
	}
	from := app.State

	if err := tx.Model(app).Update("state", newState).Error; err != nil {
		return fmt.Errorf("write derived state: %w", err)
	}

	*evs = append(*evs, events.StateChanged{
		ApplicationID: app.ID,
		UserID:        app.UserID,
		From:          from,
		To:            newState,
	})

	switch newState {
	case database.StateComplete:
		*evs = append(*evs, events.ApplicationCompleted{
			ApplicationID: app.ID,
			UserID:        app.UserID,
			RunID:         app.RunID,
		})
		if err := e.appendLetter(tx, app, letters.KindApproved, evs); err != nil {
			return err
		}
		for _, hook := range e.hooks {
			hookEvs, err := hook.ApplicationCompleted(tx, app)
			if err != nil {
				return fmt.Errorf("completion hook: %w", err)
			}
			*evs = append(*evs, hookEvs...)
		}
	case database.StateRejected:
		*evs = append(*evs, events.ApplicationRejected{
			ApplicationID: app.ID,
			UserID:        app.UserID,
			RunID:         app.RunID,
		})
		if err := e.appendLetter(tx, app, letters.KindRejected, evs); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) appendLetter(tx *gorm.DB, app *database.Application, kind string, evs *[]events.Event) error {
	letter, created, err := letters.CreateIfMissingTx(tx, app, kind)
	if err != nil {
		return err
	}
	if created {
		*evs = append(*evs, events.LetterCreated{
			LetterID:      letter.ID,
			ApplicationID: app.ID,
			UserID:        app.UserID,
			Kind:          kind,
		})
	}
	return nil
}

// loadFacts 在事务内装配派生函数的输入。
func (e *Engine) loadFacts(tx *gorm.DB, app *database.Application) (Facts, error) {
	var user database.User
	if err := tx.First(&user, app.UserID).Error; err != nil {
		return Facts{}, fmt.Errorf("load applicant: %w", err)
	}

	var submissions []database.Submission
	if err := tx.Where("application_id = ?", app.ID).Find(&submissions).Error; err != nil {
		return Facts{}, fmt.Errorf("load submissions: %w", err)
	}
	statuses := make([]string, 0, len(submissions))
	for _, sub := range submissions {
		statuses = append(statuses, sub.ReviewStatus)
	}

	var required int64
	if err := tx.Model(&database.RunStep{}).Where("run_id = ?", app.RunID).Count(&required).Error; err != nil {
		return Facts{}, fmt.Errorf("count run steps: %w", err)
	}

	effectivePrice, err := catalog.EffectivePriceTx(tx, app.UserID, app.RunID)
	if err != nil {
		return Facts{}, err
	}

	var paid int64
	if app.OrderID != nil {
		var order database.Order
		if err := tx.First(&order, *app.OrderID).Error; err != nil {
			return Facts{}, fmt.Errorf("load order: %w", err)
		}
		if order.Status == database.OrderFulfilled {
			paid = order.TotalPaidCents
		}
	}

	return Facts{
		ProfileComplete:  ProfileComplete(&user),
		HasResume:        app.ResumeObjectKey != "" || app.LinkedInURL != "",
		ReviewStatuses:   statuses,
		RequiredSteps:    int(required),
		PaymentSatisfied: paid >= effectivePrice,
	}, nil
}

// CreateOrGet 返回 (用户, 期) 的申请，不存在则创建。
// 行级锁 + 唯一索引兜底，保证并发下同一 (用户, 期) 只有一条申请。
func (e *Engine) CreateOrGet(ctx context.Context, userID, runID uint) (*database.Application, error) {
	var app database.Application
	var evs []events.Event

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND run_id = ?", userID, runID).
			First(&app).Error
		switch {
		case err == nil:
			// 已存在，重新派生即可
		case errors.Is(err, gorm.ErrRecordNotFound):
			var run database.Run
			if err := tx.First(&run, runID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.NotFound("run")
				}
				return fmt.Errorf("query run %d: %w", runID, err)
			}
			var user database.User
			if err := tx.First(&user, userID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.NotFound("user")
				}
				return fmt.Errorf("query user %d: %w", userID, err)
			}

			app = database.Application{UserID: userID, RunID: runID}
			if err := tx.Create(&app).Error; err != nil {
				// 并发创建撞上唯一索引：改为读取既有行
				lockErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
					Where("user_id = ? AND run_id = ?", userID, runID).
					First(&app).Error
				if lockErr != nil {
					return fmt.Errorf("create application: %w", err)
				}
			}
		default:
			return fmt.Errorf("query application: %w", err)
		}

		return e.rederive(tx, &app, &evs)
	})
	if err != nil {
		return nil, err
	}

	e.publisher.Publish(ctx, evs...)
	return &app, nil
}

// UploadResume 记录简历对象与/或 LinkedIn 链接，并重新派生状态。
func (e *Engine) UploadResume(ctx context.Context, applicationID uint, objectKey, linkedInURL string) (*database.Application, error) {
	if objectKey == "" && linkedInURL == "" {
		return nil, apperr.Validation("resume file or linkedin url is required", map[string]string{
			"file":         "missing",
			"linkedin_url": "missing",
		})
	}

	return e.transition(ctx, applicationID, func(tx *gorm.DB, app *database.Application, _ *[]events.Event) error {
		if app.State != database.StateAwaitingResume && app.State != database.StateAwaitingUserSubmissions {
			return apperr.Validation("resume cannot be uploaded in state "+app.State, nil)
		}

		now := time.Now()
		updates := map[string]any{"resume_uploaded_at": &now}
		if objectKey != "" {
			updates["resume_object_key"] = objectKey
		}
		if linkedInURL != "" {
			updates["linked_in_url"] = linkedInURL
		}
		if err := tx.Model(app).Updates(updates).Error; err != nil {
			return fmt.Errorf("store resume reference: %w", err)
		}
		return nil
	})
}

// SubmitArtifact 为指定 RunStep 登记提交物，结论置为 pending。
// 同一 (申请, 步骤) 已有提交物时原地覆写：换绑新载荷并重置结论。
func (e *Engine) SubmitArtifact(ctx context.Context, applicationID, runStepID uint, payload SubmissionPayload) (*database.Submission, error) {
	var submission database.Submission

	_, err := e.transition(ctx, applicationID, func(tx *gorm.DB, app *database.Application, evs *[]events.Event) error {
		if app.State != database.StateAwaitingUserSubmissions {
			return apperr.Validation("artifact cannot be submitted in state "+app.State, nil)
		}

		var runStep database.RunStep
		if err := tx.Preload("Step").First(&runStep, runStepID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("run step")
			}
			return fmt.Errorf("query run step %d: %w", runStepID, err)
		}

		// 不变式：提交物的 RunStep 必须属于申请所在的期。
		if runStep.RunID != app.RunID {
			return apperr.Wrap(apperr.KindFatal, "run step belongs to another run", nil)
		}
		if runStep.Step.Kind != payload.Kind {
			return apperr.Validation("payload kind does not match step kind", map[string]string{
				"kind": "expected " + runStep.Step.Kind,
			})
		}

		var existing database.Submission
		err := tx.Where("application_id = ? AND run_step_id = ?", app.ID, runStepID).First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("query existing submission: %w", err)
		}
		resubmit := err == nil

		var videoID, quizID *uint
		switch payload.Kind {
		case database.KindVideoInterview:
			if payload.VideoInterview == nil {
				return apperr.Validation("video interview payload is required", nil)
			}
			if err := tx.Create(payload.VideoInterview).Error; err != nil {
				return fmt.Errorf("create video interview payload: %w", err)
			}
			videoID = &payload.VideoInterview.ID
		case database.KindQuiz:
			if payload.Quiz == nil {
				return apperr.Validation("quiz payload is required", nil)
			}
			if err := tx.Create(payload.Quiz).Error; err != nil {
				return fmt.Errorf("create quiz payload: %w", err)
			}
			quizID = &payload.Quiz.ID
		default:
			return apperr.Validation("unknown submission kind "+payload.Kind, nil)
		}

		if resubmit {
			// 同一步骤重新提交：换绑载荷并把结论重置为 pending
			updates := map[string]any{
				"submitted_at":       time.Now(),
				"review_status":      database.ReviewPending,
				"reviewed_at":        nil,
				"video_interview_id": videoID,
				"quiz_id":            quizID,
			}
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return fmt.Errorf("update submission: %w", err)
			}
			if err := tx.First(&submission, existing.ID).Error; err != nil {
				return fmt.Errorf("reload submission: %w", err)
			}
			*evs = append(*evs, events.SubmissionCreated{
				ApplicationID: app.ID,
				SubmissionID:  submission.ID,
				Kind:          payload.Kind,
			})
			return nil
		}

		submission = database.Submission{
			ApplicationID:    app.ID,
			RunStepID:        runStepID,
			Kind:             payload.Kind,
			SubmittedAt:      time.Now(),
			ReviewStatus:     database.ReviewPending,
			VideoInterviewID: videoID,
			QuizID:           quizID,
		}
		if err := tx.Create(&submission).Error; err != nil {
			return fmt.Errorf("create submission: %w", err)
		}

		*evs = append(*evs, events.SubmissionCreated{
			ApplicationID: app.ID,
			SubmissionID:  submission.ID,
			Kind:          payload.Kind,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &submission, nil
}

// ReviewSubmission 写入审核结论并重新派生。rejected 对整个申请是终态；
// waitlisted 与 pending 都视为"尚未通过"。
func (e *Engine) ReviewSubmission(ctx context.Context, submissionID uint, verdict string) (*database.Submission, error) {
	switch verdict {
	case database.ReviewPending, database.ReviewApproved, database.ReviewRejected, database.ReviewWaitlisted:
	default:
		return nil, apperr.Validation("unknown review status "+verdict, map[string]string{
			"review_status": "must be one of pending, approved, rejected, waitlisted",
		})
	}

	var probe database.Submission
	if err := e.db.WithContext(ctx).First(&probe, submissionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("submission")
		}
		return nil, fmt.Errorf("query submission %d: %w", submissionID, err)
	}

	var submission database.Submission
	_, err := e.transition(ctx, probe.ApplicationID, func(tx *gorm.DB, app *database.Application, evs *[]events.Event) error {
		// 申请行已加锁，重读提交物拿到最新结论。
		if err := tx.First(&submission, submissionID).Error; err != nil {
			return fmt.Errorf("reload submission %d: %w", submissionID, err)
		}

		old := submission.ReviewStatus
		now := time.Now()
		updates := map[string]any{
			"review_status": verdict,
			"reviewed_at":   &now,
		}
		if err := tx.Model(&submission).Updates(updates).Error; err != nil {
			return fmt.Errorf("write review status: %w", err)
		}

		*evs = append(*evs, events.SubmissionReviewed{
			ApplicationID: app.ID,
			SubmissionID:  submission.ID,
			UserID:        app.UserID,
			OldVerdict:    old,
			NewVerdict:    verdict,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &submission, nil
}

// RecordOrderFulfilled 把已履约订单挂到申请上并重新派生。
func (e *Engine) RecordOrderFulfilled(ctx context.Context, applicationID, orderID uint) (*database.Application, error) {
	return e.transition(ctx, applicationID, func(tx *gorm.DB, app *database.Application, _ *[]events.Event) error {
		var order database.Order
		if err := tx.First(&order, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("order")
			}
			return fmt.Errorf("query order %d: %w", orderID, err)
		}

		if order.UserID != app.UserID {
			return apperr.Validation("order belongs to another user", map[string]string{
				"order_id": "user mismatch",
			})
		}
		if order.Status != database.OrderFulfilled {
			return apperr.Conflict("order is not fulfilled")
		}
		if app.OrderID != nil && *app.OrderID != orderID {
			return apperr.Conflict("another order is already applied to this application")
		}

		if err := tx.Model(app).Update("order_id", orderID).Error; err != nil {
			return fmt.Errorf("attach order: %w", err)
		}
		if err := tx.Model(&order).Update("application_id", app.ID).Error; err != nil {
			return fmt.Errorf("backlink order: %w", err)
		}
		return nil
	})
}

// ResetInterviewState 回滚视频面试提交物，使申请重新进入提交阶段。
// 新的邀约链接由调用方在事务外向服务商申请。
func (e *Engine) ResetInterviewState(ctx context.Context, applicationID uint) (*database.Application, error) {
	return e.transition(ctx, applicationID, func(tx *gorm.DB, app *database.Application, _ *[]events.Event) error {
		if app.State == database.StateComplete {
			return apperr.Conflict("application is already complete")
		}

		if err := tx.Where("application_id = ? AND kind = ?", app.ID, database.KindVideoInterview).
			Delete(&database.Submission{}).Error; err != nil {
			return fmt.Errorf("delete video submissions: %w", err)
		}
		return nil
	})
}

// ReapplyPricing 在专属价格变更后重估申请：
// 新有效价 <= 已付金额则 complete，否则回到 awaiting_payment。
// 只有处于 awaiting_payment 或 complete 的申请会被触碰。
func (e *Engine) ReapplyPricing(ctx context.Context, userID, runID uint) error {
	var app database.Application
	err := e.db.WithContext(ctx).
		Where("user_id = ? AND run_id = ?", userID, runID).
		First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("query application for pricing: %w", err)
	}

	if app.State != database.StateAwaitingPayment && app.State != database.StateComplete {
		return nil
	}

	_, err = e.transition(ctx, app.ID, nil)
	return err
}

// SaveDerivedState 强制重算并回写缓存状态（运维入口）。
func (e *Engine) SaveDerivedState(ctx context.Context, applicationID uint) (*database.Application, error) {
	return e.transition(ctx, applicationID, nil)
}
