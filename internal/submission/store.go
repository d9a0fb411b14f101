// Package submission 提供提交物的查询视图：按申请列出、按审核状态筛选。
// 结论写入走引擎（engine.ReviewSubmission），这里只读。
package submission

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"admitHub/internal/database"
)

// Store 封装提交物的查询。
type Store struct {
	db *gorm.DB
}

// NewStore 构造查询仓库。
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Filter 描述审核队列的筛选条件。零值字段不参与过滤。
type Filter struct {
	BootcampID     uint
	RunID          uint
	ReviewStatuses []string
}

// naturalOrder 是所有提交物列表的统一排序：步骤序号升序，ID 升序决选。
func naturalOrder(q *gorm.DB) *gorm.DB {
	return q.
		Joins("JOIN run_steps ON run_steps.id = submissions.run_step_id").
		Joins("JOIN steps ON steps.id = run_steps.step_id").
		Order("steps.ordinal ASC, submissions.id ASC")
}

// ListForApplication 返回某申请的全部提交物，按自然顺序。
func (s *Store) ListForApplication(ctx context.Context, applicationID uint) ([]database.Submission, error) {
	var subs []database.Submission
	err := naturalOrder(s.db.WithContext(ctx)).
		Where("submissions.application_id = ?", applicationID).
		Preload("RunStep.Step").
		Preload("VideoInterview").
		Preload("Quiz").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("list submissions for application %d: %w", applicationID, err)
	}
	return subs, nil
}

// ListForReview 返回审核队列：按训练营/期次与结论筛选，按自然顺序。
func (s *Store) ListForReview(ctx context.Context, f Filter) ([]database.Submission, error) {
	q := naturalOrder(s.db.WithContext(ctx))

	if f.RunID != 0 {
		q = q.Where("run_steps.run_id = ?", f.RunID)
	}
	if f.BootcampID != 0 {
		q = q.Where("steps.bootcamp_id = ?", f.BootcampID)
	}
	if len(f.ReviewStatuses) > 0 {
		q = q.Where("submissions.review_status IN ?", f.ReviewStatuses)
	}

	var subs []database.Submission
	err := q.
		Preload("Application").
		Preload("RunStep.Step").
		Preload("VideoInterview").
		Preload("Quiz").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("list submissions for review: %w", err)
	}
	return subs, nil
}

// Get 按 ID 返回提交物及其载荷。
func (s *Store) Get(ctx context.Context, submissionID uint) (*database.Submission, error) {
	var sub database.Submission
	err := s.db.WithContext(ctx).
		Preload("Application").
		Preload("RunStep.Step").
		Preload("VideoInterview").
		Preload("Quiz").
		First(&sub, submissionID).Error
	if err != nil {
		return nil, fmt.Errorf("query submission %d: %w", submissionID, err)
	}
	return &sub, nil
}
