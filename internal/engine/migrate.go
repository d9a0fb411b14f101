package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"admitHub/internal/apperr"
	"admitHub/internal/catalog"
	"admitHub/internal/database"
	"admitHub/internal/events"
)

// 迁移拒绝原因，作为 apperr 消息对外暴露。
const (
	MigrateStepMismatch    = "step_mismatch"
	MigrateAlreadyEnrolled = "already_enrolled"
)

// approvedClass 判断申请是否属于"已通过"类：全部提交物通过审核，
// 只差付款或已经完成。
func approvedClass(state string) bool {
	return state == database.StateAwaitingPayment || state == database.StateComplete
}

// Migrate 把一份已通过的申请从其所在期复制到目标期。
// 同一训练营内直接允许；跨训练营需要 force，且两期的步骤集合
// （按提交物类型的多重集，忽略顺序）必须一致。重复调用幂等。
func (e *Engine) Migrate(ctx context.Context, sourceApplicationID, targetRunID uint, force bool) (*database.Application, error) {
	var target database.Application
	var evs []events.Event

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var source database.Application
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&source, sourceApplicationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("application")
			}
			return fmt.Errorf("lock source application: %w", err)
		}

		if !approvedClass(source.State) {
			return apperr.Validation("source application is not approved", map[string]string{
				"state": source.State,
			})
		}
		if source.RunID == targetRunID {
			return apperr.Validation("target run equals source run", nil)
		}

		var sourceRun, targetRun database.Run
		if err := tx.First(&sourceRun, source.RunID).Error; err != nil {
			return fmt.Errorf("query source run: %w", err)
		}
		if err := tx.First(&targetRun, targetRunID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("run")
			}
			return fmt.Errorf("query target run: %w", err)
		}
		if sourceRun.BootcampID != targetRun.BootcampID && !force {
			return apperr.Validation("runs belong to different bootcamps", map[string]string{
				"target_run_id": "different bootcamp (pass force to override)",
			})
		}

		sourceSteps, err := catalog.RunStepsForRunTx(tx, source.RunID)
		if err != nil {
			return err
		}
		targetSteps, err := catalog.RunStepsForRunTx(tx, targetRunID)
		if err != nil {
			return err
		}
		if !sameKindMultiset(sourceSteps, targetSteps) {
			return apperr.Validation(MigrateStepMismatch, map[string]string{
				"target_run_id": "step kinds do not match source run",
			})
		}

		target, err = e.lockOrCreateTarget(tx, source.UserID, targetRunID)
		if err != nil {
			return err
		}

		// 目标为空时带走简历信息
		if target.ResumeObjectKey == "" && target.LinkedInURL == "" {
			updates := map[string]any{
				"resume_object_key":  source.ResumeObjectKey,
				"linked_in_url":      source.LinkedInURL,
				"resume_uploaded_at": source.ResumeUploadedAt,
			}
			if err := tx.Model(&target).Updates(updates).Error; err != nil {
				return fmt.Errorf("copy resume reference: %w", err)
			}
		}

		if err := e.copySubmissions(tx, &source, &target, targetSteps); err != nil {
			return err
		}

		return e.rederive(tx, &target, &evs)
	})
	if err != nil {
		return nil, err
	}

	e.publisher.Publish(ctx, evs...)
	return &target, nil
}

func (e *Engine) lockOrCreateTarget(tx *gorm.DB, userID, runID uint) (database.Application, error) {
	var target database.Application
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND run_id = ?", userID, runID).
		First(&target).Error
	switch {
	case err == nil:
		return target, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		target = database.Application{UserID: userID, RunID: runID}
		if err := tx.Create(&target).Error; err != nil {
			return target, fmt.Errorf("create target application: %w", err)
		}
		return target, nil
	default:
		return target, fmt.Errorf("query target application: %w", err)
	}
}

// copySubmissions 按源步骤序号顺序遍历源提交物，为每一份挑选
// 第一个未占用且类型匹配的目标 RunStep（按目标 RunStep ID 升序决选）。
// 已存在且载荷引用一致的绑定视为幂等命中；引用不一致说明目标被
// 其他申请占用，拒绝为 already_enrolled。
func (e *Engine) copySubmissions(tx *gorm.DB, source, target *database.Application, targetSteps []database.RunStep) error {
	var sourceSubs []database.Submission
	err := tx.
		Joins("JOIN run_steps ON run_steps.id = submissions.run_step_id").
		Joins("JOIN steps ON steps.id = run_steps.step_id").
		Where("submissions.application_id = ?", source.ID).
		Order("steps.ordinal ASC, submissions.id ASC").
		Find(&sourceSubs).Error
	if err != nil {
		return fmt.Errorf("load source submissions: %w", err)
	}

	candidates := make([]database.RunStep, len(targetSteps))
	copy(candidates, targetSteps)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	used := make(map[uint]bool, len(candidates))

	targetApproved := approvedClass(target.State)

	for _, src := range sourceSubs {
		var slot *database.RunStep
		for i := range candidates {
			if used[candidates[i].ID] {
				continue
			}
			if candidates[i].Step.Kind == src.Kind {
				slot = &candidates[i]
				break
			}
		}
		if slot == nil {
			// 多重集校验已通过，走到这里说明数据被并发修改
			return apperr.Wrap(apperr.KindFatal, "no free target run step for kind "+src.Kind, nil)
		}
		used[slot.ID] = true

		var existing database.Submission
		err := tx.Where("application_id = ? AND run_step_id = ?", target.ID, slot.ID).First(&existing).Error
		switch {
		case err == nil:
			if samePayloadRef(&existing, &src) {
				continue // 幂等命中
			}
			return apperr.Conflict(MigrateAlreadyEnrolled)
		case errors.Is(err, gorm.ErrRecordNotFound):
			if targetApproved {
				return apperr.Conflict(MigrateAlreadyEnrolled)
			}
		default:
			return fmt.Errorf("query target submission: %w", err)
		}

		dup := database.Submission{
			ApplicationID:    target.ID,
			RunStepID:        slot.ID,
			Kind:             src.Kind,
			SubmittedAt:      src.SubmittedAt,
			ReviewStatus:     src.ReviewStatus,
			ReviewedAt:       src.ReviewedAt,
			VideoInterviewID: src.VideoInterviewID,
			QuizID:           src.QuizID,
		}
		if err := tx.Create(&dup).Error; err != nil {
			return fmt.Errorf("copy submission: %w", err)
		}
	}

	return nil
}

func samePayloadRef(a, b *database.Submission) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case database.KindVideoInterview:
		return a.VideoInterviewID != nil && b.VideoInterviewID != nil && *a.VideoInterviewID == *b.VideoInterviewID
	case database.KindQuiz:
		return a.QuizID != nil && b.QuizID != nil && *a.QuizID == *b.QuizID
	default:
		return false
	}
}

func sameKindMultiset(a, b []database.RunStep) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, 2)
	for _, rs := range a {
		counts[rs.Step.Kind]++
	}
	for _, rs := range b {
		counts[rs.Step.Kind]--
		if counts[rs.Step.Kind] < 0 {
			return false
		}
	}
	return true
}
