package notify

import (
	"context"
	"fmt"

	"talent-match-go/internal/constants"
	"talent-match-go/internal/logger"
	"talent-match-go/internal/storage"
	"talent-match-go/internal/types"
)

// Notifier 将处理进度推送给发起操作的用户。
// 推送是尽力而为的：发送失败只记日志，不影响主流程的正确性。
type Notifier interface {
	Emit(ctx context.Context, userID string, event types.ProgressEvent)
}

// RedisNotifier 通过 Redis Pub/Sub 按用户维度广播进度事件，
// 网关层订阅对应频道后转发给前端（SSE/WebSocket）。
type RedisNotifier struct {
	redis *storage.Redis
}

// NewRedisNotifier 创建基于 Redis Pub/Sub 的进度通知器。
func NewRedisNotifier(redis *storage.Redis) *RedisNotifier {
	return &RedisNotifier{redis: redis}
}

// Emit 将事件发布到该用户的通知频道。
func (n *RedisNotifier) Emit(ctx context.Context, userID string, event types.ProgressEvent) {
	if n.redis == nil || userID == "" {
		return
	}
	channel := fmt.Sprintf(constants.KeyNotifyUserChannel, userID)
	if err := n.redis.PublishJSON(ctx, channel, event); err != nil {
		logger.FromContext(ctx).Warn().Err(err).
			Str("channel", channel).
			Str("task_id", event.TaskID).
			Str("stage", event.Stage).
			Msg("进度通知发布失败")
	}
}

// NopNotifier 在未配置 Redis 时使用，丢弃所有事件。
type NopNotifier struct{}

// NewNopNotifier 创建空通知器。
func NewNopNotifier() *NopNotifier {
	return &NopNotifier{}
}

// Emit 空实现。
func (n *NopNotifier) Emit(ctx context.Context, userID string, event types.ProgressEvent) {}

var _ Notifier = (*RedisNotifier)(nil)
var _ Notifier = (*NopNotifier)(nil)
