// Package enrollment 实现付款完成到开课记录的桥接，以及跨期顺延。
package enrollment

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"admitHub/internal/database"
	"admitHub/internal/events"
)

// Bridge 在申请进入 complete 的事务内创建或激活报名记录，
// 并在期次配置了外部课程时请求异步开课。实现 engine.CompletionHook。
type Bridge struct{}

// NewBridge 构造报名桥。
func NewBridge() *Bridge {
	return &Bridge{}
}

// ApplicationCompleted 幂等地保证 (用户, 期) 存在一条有效报名。
// 重复的 completed 事件不会改变已有效的报名，也不会重复派发外部开课。
func (b *Bridge) ApplicationCompleted(tx *gorm.DB, app *database.Application) ([]events.Event, error) {
	var run database.Run
	if err := tx.First(&run, app.RunID).Error; err != nil {
		return nil, fmt.Errorf("load run for enrollment: %w", err)
	}

	var enrollment database.Enrollment
	err := tx.Where("user_id = ? AND run_id = ?", app.UserID, app.RunID).First(&enrollment).Error
	activated := false
	switch {
	case err == nil:
		if !enrollment.Active || enrollment.ChangeStatus != "" {
			updates := map[string]any{
				"active":        true,
				"change_status": "",
				"order_id":      app.OrderID,
			}
			if err := tx.Model(&enrollment).Updates(updates).Error; err != nil {
				return nil, fmt.Errorf("reactivate enrollment: %w", err)
			}
			activated = true
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		enrollment = database.Enrollment{
			UserID:  app.UserID,
			RunID:   app.RunID,
			Active:  true,
			OrderID: app.OrderID,
		}
		if err := tx.Create(&enrollment).Error; err != nil {
			return nil, fmt.Errorf("create enrollment: %w", err)
		}
		activated = true
	default:
		return nil, fmt.Errorf("query enrollment: %w", err)
	}

	if !activated || run.ExternalCourseKey == "" {
		return nil, nil
	}

	return []events.Event{
		events.ExternalEnrollRequested{
			EnrollmentID: enrollment.ID,
			UserID:       app.UserID,
			RunID:        app.RunID,
		},
	}, nil
}
