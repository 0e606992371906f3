package storage

import "time"

// ProfileAnalysisMessage 档案分析请求消息
// 经由 outbox 中继投递到 RabbitMQ, 消费端据此执行结构化分析
type ProfileAnalysisMessage struct {
	ProfileID   string    `json:"profile_id"`
	TenantID    string    `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	TaskID      string    `json:"task_id,omitempty"` // 调用方提供的上传任务ID, 用于进度推送
	CVObjectKey string    `json:"cv_object_key"`
	RequestedAt time.Time `json:"requested_at"`
}
