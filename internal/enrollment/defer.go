package enrollment

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
)

// Service 实现报名的跨期顺延。
type Service struct {
	db        *gorm.DB
	publisher events.Publisher
}

// NewService 构造顺延服务。
func NewService(db *gorm.DB, publisher events.Publisher) *Service {
	return &Service{db: db, publisher: publisher}
}

// Defer 把用户的有效报名从一期挪到另一期：
// 原报名置为 deferred 并失效，目标报名创建或重新激活，二者同一事务。
// force 跳过训练营一致性与报名窗口校验，但不允许自我顺延。
func (s *Service) Defer(ctx context.Context, userID, fromRunID, toRunID, orderID uint, force bool) error {
	if fromRunID == toRunID {
		return apperr.Validation("target run equals source run", nil)
	}

	var evs []events.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prior database.Enrollment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND run_id = ?", userID, fromRunID).
			First(&prior).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("enrollment")
		}
		if err != nil {
			return fmt.Errorf("lock prior enrollment: %w", err)
		}
		if !prior.Active {
			return apperr.Conflict("enrollment is not active")
		}

		var fromRun, toRun database.Run
		if err := tx.First(&fromRun, fromRunID).Error; err != nil {
			return fmt.Errorf("query source run: %w", err)
		}
		if err := tx.First(&toRun, toRunID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("run")
			}
			return fmt.Errorf("query target run: %w", err)
		}

		var order database.Order
		if err := tx.First(&order, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("order")
			}
			return fmt.Errorf("query order: %w", err)
		}
		if order.UserID != userID {
			return apperr.Validation("order belongs to another user", map[string]string{
				"order_id": "user mismatch",
			})
		}

		if !force {
			if fromRun.BootcampID != toRun.BootcampID {
				return apperr.Validation("runs belong to different bootcamps", map[string]string{
					"to_run_id": "different bootcamp (pass force to override)",
				})
			}
			if !catalog.AcceptsEnrollmentNow(&toRun, time.Now()) {
				return apperr.Validation("target run no longer accepts enrollment", map[string]string{
					"to_run_id": "enrollment window closed",
				})
			}
		}

		updates := map[string]any{
			"active":        false,
			"change_status": database.EnrollmentDeferred,
		}
		if err := tx.Model(&prior).Updates(updates).Error; err != nil {
			return fmt.Errorf("deactivate prior enrollment: %w", err)
		}

		var next database.Enrollment
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND run_id = ?", userID, toRunID).
			First(&next).Error
		switch {
		case err == nil:
			nextUpdates := map[string]any{
				"active":        true,
				"change_status": "",
				"order_id":      orderID,
			}
			if err := tx.Model(&next).Updates(nextUpdates).Error; err != nil {
				return fmt.Errorf("reactivate target enrollment: %w", err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			next = database.Enrollment{
				UserID:  userID,
				RunID:   toRunID,
				Active:  true,
				OrderID: &orderID,
			}
			if err := tx.Create(&next).Error; err != nil {
				return fmt.Errorf("create target enrollment: %w", err)
			}
		default:
			return fmt.Errorf("query target enrollment: %w", err)
		}

		evs = append(evs, events.EnrollmentDeferred{
			UserID:    userID,
			FromRunID: fromRunID,
			ToRunID:   toRunID,
		})
		return nil
	})
	if err != nil {
		return err
	}

	s.publisher.Publish(ctx, evs...)
	return nil
}
