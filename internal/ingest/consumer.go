package ingest

import (
	"context"
	"encoding/json"

	"talent-match-go/internal/config"
	"talent-match-go/internal/constants"
	"talent-match-go/internal/storage"

	"github.com/rs/zerolog/log"
)

// Consumer 订阅分析队列，驱动流水线完成简历的异步分析。
type Consumer struct {
	cfg      *config.Config
	mq       *storage.RabbitMQ
	pipeline *Pipeline
	stops    []func()
	dones    []<-chan struct{}
}

// NewConsumer 创建分析队列消费者。
func NewConsumer(cfg *config.Config, mq *storage.RabbitMQ, pipeline *Pipeline) *Consumer {
	return &Consumer{
		cfg:      cfg,
		mq:       mq,
		pipeline: pipeline,
	}
}

// Start 启动消费。workers 小于等于 0 时回落到单个消费者。
func (c *Consumer) Start(ctx context.Context) error {
	queueName := c.cfg.RabbitMQ.AnalysisQueue
	if queueName == "" {
		queueName = constants.AnalysisQueue
	}
	prefetch := c.cfg.RabbitMQ.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}
	workers := c.cfg.RabbitMQ.ConsumerWorkers
	if workers <= 0 {
		workers = 1
	}

	for i := 0; i < workers; i++ {
		stop, done, err := c.mq.StartConsumer(queueName, prefetch, func(body []byte) bool {
			return c.handle(ctx, body)
		})
		if err != nil {
			return err
		}
		c.stops = append(c.stops, stop)
		c.dones = append(c.dones, done)
	}

	log.Info().Str("queue", queueName).Int("workers", workers).Int("prefetch", prefetch).Msg("分析消费者已启动")
	return nil
}

// Stop 通知所有消费循环退出并等待它们结束。
// 正在处理中的消息会先完成 Ack/Nack 再退出, ctx 超时则不再等待。
func (c *Consumer) Stop(ctx context.Context) {
	for _, stop := range c.stops {
		stop()
	}
	for _, done := range c.dones {
		select {
		case <-done:
		case <-ctx.Done():
			log.Warn().Err(ctx.Err()).Msg("等待分析消费者退出超时")
			return
		}
	}
	log.Info().Msg("分析消费者已全部退出")
}

// handle 返回 true 表示 Ack。解析失败的消息无法通过重投修复，直接 Ack 丢弃；
// 状态持久化失败时 Nack 重投，等待数据库恢复。
func (c *Consumer) handle(ctx context.Context, body []byte) bool {
	var msg storage.ProfileAnalysisMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Error().Err(err).Int("body_bytes", len(body)).Msg("分析消息反序列化失败, 丢弃")
		return true
	}
	if msg.ProfileID == "" {
		log.Error().Msg("分析消息缺少档案ID, 丢弃")
		return true
	}

	if err := c.pipeline.ExtractAndAnalyze(ctx, &msg); err != nil {
		log.Warn().Err(err).Str("profile_id", msg.ProfileID).Msg("分析结果持久化失败, 消息将重投")
		return false
	}
	return true
}
