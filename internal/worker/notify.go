package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// 通知类型，前端按 type 分发。
const (
	NotifyExport    = "export"
	NotifyThumbnail = "thumbnail"
)

// NotifyMessage 是通过 Redis Pub/Sub 转发给前端 WebSocket 的消息。
type NotifyMessage struct {
	Type          string   `json:"type"`
	Status        string   `json:"status"`
	ResumeID      uint     `json:"resume_id"`
	Version       int      `json:"version,omitempty"`
	CorrelationID string   `json:"correlation_id"`
	ErrorCode     int      `json:"error_code"`
	ErrorMessage  string   `json:"error_message"`
	MissingKeys   []string `json:"missing_keys,omitempty"`
}

// NotifyChannel 返回用户的通知频道。
func NotifyChannel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}

// Publish 将消息发布到用户频道。
func Publish(ctx context.Context, client redis.UniversalClient, userID uint, msg NotifyMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := NotifyChannel(userID)
	if err := client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}
