// Package catalog 提供训练营、期次、步骤、分期与专属价格的只读/维护接口。
// 引擎与报名桥只通过这里读取参考数据。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"admitHub/internal/apperr"
	"admitHub/internal/database"
)

// Store 封装参考数据的读写。
type Store struct {
	db *gorm.DB
}

// NewStore 构造参考数据仓库。
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB 暴露底层连接，供需要共享事务的调用方使用。
func (s *Store) DB() *gorm.DB { return s.db }

// GetRun 按 ID 返回期次及其训练营。
func (s *Store) GetRun(ctx context.Context, runID uint) (*database.Run, error) {
	var run database.Run
	err := s.db.WithContext(ctx).Preload("Bootcamp").First(&run, runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("run")
	}
	if err != nil {
		return nil, fmt.Errorf("query run %d: %w", runID, err)
	}
	return &run, nil
}

// FindRunByDisplayTitle 按展示标题查找期次。
func (s *Store) FindRunByDisplayTitle(ctx context.Context, title string) (*database.Run, error) {
	var runs []database.Run
	if err := s.db.WithContext(ctx).Preload("Bootcamp").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	for i := range runs {
		if DisplayTitle(&runs[i]) == title {
			return &runs[i], nil
		}
	}
	return nil, apperr.NotFound("run")
}

// DisplayTitle 生成期次的展示标题："<训练营名>, <日期区间>"。
func DisplayTitle(run *database.Run) string {
	return fmt.Sprintf("%s, %s", run.Bootcamp.Title, formatDateRange(run.StartsAt, run.EndsAt))
}

func formatDateRange(start, end *time.Time) string {
	const layout = "Jan 2, 2006"
	switch {
	case start != nil && end != nil:
		return start.Format(layout) + " - " + end.Format(layout)
	case start != nil:
		return "from " + start.Format(layout)
	case end != nil:
		return "until " + end.Format(layout)
	default:
		return "dates TBD"
	}
}

// RunStepsForRun 返回某一期的全部要求步骤，按模板序号升序。
func (s *Store) RunStepsForRun(ctx context.Context, runID uint) ([]database.RunStep, error) {
	return runStepsForRunTx(s.db.WithContext(ctx), runID)
}

// RunStepsForRunTx 在给定事务内返回某一期的要求步骤。
func RunStepsForRunTx(tx *gorm.DB, runID uint) ([]database.RunStep, error) {
	return runStepsForRunTx(tx, runID)
}

func runStepsForRunTx(tx *gorm.DB, runID uint) ([]database.RunStep, error) {
	var runSteps []database.RunStep
	err := tx.
		Joins("JOIN steps ON steps.id = run_steps.step_id").
		Where("run_steps.run_id = ?", runID).
		Order("steps.ordinal ASC, run_steps.id ASC").
		Preload("Step").
		Find(&runSteps).Error
	if err != nil {
		return nil, fmt.Errorf("query run steps for run %d: %w", runID, err)
	}
	return runSteps, nil
}

// CreateRunStep 为期次挂载步骤模板，并在边界处校验引用一致性：
// 步骤模板所属训练营必须与期次所属训练营一致。
func (s *Store) CreateRunStep(ctx context.Context, runID, stepID uint, dueAt *time.Time) (*database.RunStep, error) {
	var run database.Run
	if err := s.db.WithContext(ctx).First(&run, runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("run")
		}
		return nil, fmt.Errorf("query run %d: %w", runID, err)
	}

	var step database.Step
	if err := s.db.WithContext(ctx).First(&step, stepID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("step")
		}
		return nil, fmt.Errorf("query step %d: %w", stepID, err)
	}

	if step.BootcampID != run.BootcampID {
		return nil, apperr.Validation("step bootcamp does not match run bootcamp", map[string]string{
			"step_id": "belongs to another bootcamp",
		})
	}

	runStep := database.RunStep{RunID: runID, StepID: stepID, DueAt: dueAt}
	if err := s.db.WithContext(ctx).Create(&runStep).Error; err != nil {
		return nil, fmt.Errorf("create run step: %w", err)
	}
	return &runStep, nil
}

// EffectivePrice 返回 (用户, 期) 的有效价格：专属价优先，否则分期之和。
func (s *Store) EffectivePrice(ctx context.Context, userID, runID uint) (int64, error) {
	return EffectivePriceTx(s.db.WithContext(ctx), userID, runID)
}

// EffectivePriceTx 在给定事务内计算有效价格。
func EffectivePriceTx(tx *gorm.DB, userID, runID uint) (int64, error) {
	var personal database.PersonalPrice
	err := tx.Where("user_id = ? AND run_id = ?", userID, runID).First(&personal).Error
	switch {
	case err == nil:
		return personal.AmountCents, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		// 落到标准价
	default:
		return 0, fmt.Errorf("query personal price: %w", err)
	}

	var total int64
	err = tx.Model(&database.Installment{}).
		Where("run_id = ?", runID).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum installments for run %d: %w", runID, err)
	}
	return total, nil
}

// SetPersonalPrice 创建或更新专属价格。调用方负责触发引擎重算。
func (s *Store) SetPersonalPrice(ctx context.Context, userID, runID uint, amountCents int64) error {
	if amountCents < 0 {
		return apperr.Validation("personal price must not be negative", map[string]string{
			"amount_cents": "negative",
		})
	}
	var existing database.PersonalPrice
	err := s.db.WithContext(ctx).Where("user_id = ? AND run_id = ?", userID, runID).First(&existing).Error
	switch {
	case err == nil:
		return s.db.WithContext(ctx).Model(&existing).Update("amount_cents", amountCents).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		price := database.PersonalPrice{UserID: userID, RunID: runID, AmountCents: amountCents}
		return s.db.WithContext(ctx).Create(&price).Error
	default:
		return fmt.Errorf("query personal price: %w", err)
	}
}

// DeletePersonalPrice 移除专属价格。调用方负责触发引擎重算。
func (s *Store) DeletePersonalPrice(ctx context.Context, userID, runID uint) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND run_id = ?", userID, runID).
		Delete(&database.PersonalPrice{}).Error
}
