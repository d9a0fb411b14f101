package catalog

import (
	"context"
	"fmt"
	"time"

	"admitHub/internal/database"
)

// AvailableRuns 返回用户当前可报名的期次：开课时间严格在未来、
// 用户尚无申请的期次。允许跳过步骤的期次只对以下用户可见：
// 带 can_skip_application_steps 标记的用户，或已有任一 complete 申请的用户。
func (s *Store) AvailableRuns(ctx context.Context, user *database.User) ([]database.Run, error) {
	now := time.Now()

	q := s.db.WithContext(ctx).
		Preload("Bootcamp").
		Where("starts_at IS NOT NULL AND starts_at > ?", now).
		Where("id NOT IN (?)", s.db.Model(&database.Application{}).
			Select("run_id").
			Where("user_id = ?", user.ID),
		)

	if !s.userMaySkipSteps(ctx, user) {
		q = q.Where("allow_skipped_steps = ?", false)
	}

	var runs []database.Run
	if err := q.Order("starts_at ASC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("query available runs: %w", err)
	}
	return runs, nil
}

func (s *Store) userMaySkipSteps(ctx context.Context, user *database.User) bool {
	if user.CanSkipApplicationSteps {
		return true
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&database.Application{}).
		Where("user_id = ? AND state = ?", user.ID, database.StateComplete).
		Count(&count).Error
	if err != nil {
		return false
	}
	return count > 0
}

// AcceptsEnrollmentNow 判断期次当前是否仍接受报名（尚未开课）。
func AcceptsEnrollmentNow(run *database.Run, now time.Time) bool {
	return run.StartsAt == nil || run.StartsAt.After(now)
}
