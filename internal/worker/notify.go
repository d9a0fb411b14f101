package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// 统一的 WebSocket 消息协议（通过 Redis Pub/Sub 转发给前端）。
// 注意：这里的字段名与前端解析保持一致。
type SyncNotifyMessage struct {
	Type          string `json:"type"`
	EnrollmentID  uint   `json:"enrollment_id,omitempty"`
	LetterID      uint   `json:"letter_id,omitempty"`
	Subject       string `json:"subject,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func publishUserNotify(ctx context.Context, rdb redis.UniversalClient, userID uint, msg SyncNotifyMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := fmt.Sprintf("user_notify:%d", userID)
	if err := rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}
