package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypePlatformEnroll     = "platform:enroll"
	TypePlatformBulkEnroll = "platform:bulk_enroll"
	TypeLetterDispatch     = "letter:dispatch"
	TypeInterviewRefresh   = "interview:refresh"
)

// PlatformEnrollPayload 描述单个报名同步到外部课程平台所需的信息。
type PlatformEnrollPayload struct {
	EnrollmentID  uint   `json:"enrollment_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewPlatformEnrollTask 构造外部平台开课任务。
func NewPlatformEnrollTask(enrollmentID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(PlatformEnrollPayload{
		EnrollmentID:  enrollmentID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePlatformEnroll, payload), nil
}

// PlatformBulkEnrollPayload 描述批量开课任务。
type PlatformBulkEnrollPayload struct {
	UserIDs       []uint `json:"user_ids"`
	RunID         uint   `json:"run_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewPlatformBulkEnrollTask 构造批量开课任务。
func NewPlatformBulkEnrollTask(userIDs []uint, runID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(PlatformBulkEnrollPayload{
		UserIDs:       userIDs,
		RunID:         runID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePlatformBulkEnroll, payload), nil
}

// LetterDispatchPayload 描述一封待投递的录取信/拒信。
type LetterDispatchPayload struct {
	LetterID      uint   `json:"letter_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewLetterDispatchTask 构造信件投递任务。
func NewLetterDispatchTask(letterID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(LetterDispatchPayload{
		LetterID:      letterID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeLetterDispatch, payload), nil
}

// NewInterviewRefreshTask 构造周期性的面试链接刷新任务（无载荷）。
func NewInterviewRefreshTask() *asynq.Task {
	return asynq.NewTask(TypeInterviewRefresh, nil)
}
