package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"admitHub/internal/tasks"
)

// NotifyMessage 是推送给前端的统一消息协议（经 Redis Pub/Sub 转发）。
// 字段名与前端解析保持一致。
type NotifyMessage struct {
	Type          string `json:"type"`
	ApplicationID uint   `json:"application_id,omitempty"`
	SubmissionID  uint   `json:"submission_id,omitempty"`
	LetterID      uint   `json:"letter_id,omitempty"`
	State         string `json:"state,omitempty"`
	Verdict       string `json:"verdict,omitempty"`
}

// Dispatcher 把领域事件转换为队列任务与站内通知。
// 投递失败只记录日志，不影响已提交的事务。
type Dispatcher struct {
	asynqClient   *asynq.Client
	redisClient   redis.UniversalClient
	logger        *slog.Logger
	correlationID func(context.Context) string
}

// NewDispatcher 构造事件分发器。
func NewDispatcher(asynqClient *asynq.Client, redisClient redis.UniversalClient, logger *slog.Logger, correlationID func(context.Context) string) *Dispatcher {
	if correlationID == nil {
		correlationID = func(context.Context) string { return "" }
	}
	return &Dispatcher{
		asynqClient:   asynqClient,
		redisClient:   redisClient,
		logger:        logger,
		correlationID: correlationID,
	}
}

// Publish 逐个分发事件。
func (d *Dispatcher) Publish(ctx context.Context, evs ...Event) {
	for _, ev := range evs {
		if err := d.dispatch(ctx, ev); err != nil {
			d.logger.Error("dispatch event failed",
				slog.String("event", ev.EventName()),
				slog.Any("error", err),
			)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case StateChanged:
		return d.notify(ctx, e.UserID, NotifyMessage{
			Type:          e.EventName(),
			ApplicationID: e.ApplicationID,
			State:         e.To,
		})
	case SubmissionReviewed:
		return d.notify(ctx, e.UserID, NotifyMessage{
			Type:          e.EventName(),
			ApplicationID: e.ApplicationID,
			SubmissionID:  e.SubmissionID,
			Verdict:       e.NewVerdict,
		})
	case ExternalEnrollRequested:
		task, err := tasks.NewPlatformEnrollTask(e.EnrollmentID, d.correlationID(ctx))
		if err != nil {
			return fmt.Errorf("build platform enroll task: %w", err)
		}
		if _, err := d.asynqClient.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
			return fmt.Errorf("enqueue platform enroll: %w", err)
		}
		return nil
	case LetterCreated:
		task, err := tasks.NewLetterDispatchTask(e.LetterID, d.correlationID(ctx))
		if err != nil {
			return fmt.Errorf("build letter dispatch task: %w", err)
		}
		if _, err := d.asynqClient.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
			return fmt.Errorf("enqueue letter dispatch: %w", err)
		}
		return d.notify(ctx, e.UserID, NotifyMessage{
			Type:          e.EventName(),
			ApplicationID: e.ApplicationID,
			LetterID:      e.LetterID,
		})
	case InterviewLinkExpired:
		return d.notify(ctx, e.UserID, NotifyMessage{
			Type:          e.EventName(),
			ApplicationID: e.ApplicationID,
			SubmissionID:  e.SubmissionID,
		})
	default:
		// 其余事件（completed/rejected/deferred/submission_created）
		// 的落库动作都发生在引擎事务内，这里无需额外投递。
		return nil
	}
}

func (d *Dispatcher) notify(ctx context.Context, userID uint, msg NotifyMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notify payload: %w", err)
	}
	channel := fmt.Sprintf("user_notify:%d", userID)
	if err := d.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish notify to %q: %w", channel, err)
	}
	return nil
}
