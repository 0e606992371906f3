package ingest

import (
	"context"
	"testing"
	"time"

	"talent-match-go/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestConsumerHandleDropsUnusableMessages(t *testing.T) {
	c := NewConsumer(&config.Config{}, nil, nil)
	ctx := context.Background()

	t.Run("非法JSON直接Ack丢弃", func(t *testing.T) {
		assert.True(t, c.handle(ctx, []byte("not-json")), "无法解析的消息重投也无法修复, 应直接丢弃")
	})

	t.Run("缺少档案ID直接Ack丢弃", func(t *testing.T) {
		assert.True(t, c.handle(ctx, []byte(`{"tenant_id": "t1", "user_id": "u1"}`)))
	})
}

func TestConsumerStop(t *testing.T) {
	t.Run("通知所有消费循环并等待退出", func(t *testing.T) {
		c := NewConsumer(&config.Config{}, nil, nil)
		var stopped int
		for i := 0; i < 2; i++ {
			done := make(chan struct{})
			c.stops = append(c.stops, func() {
				stopped++
				close(done)
			})
			c.dones = append(c.dones, done)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		c.Stop(ctx)
		assert.Equal(t, 2, stopped)
	})

	t.Run("超时后不再等待未退出的循环", func(t *testing.T) {
		c := NewConsumer(&config.Config{}, nil, nil)
		c.stops = append(c.stops, func() {})
		c.dones = append(c.dones, make(chan struct{}))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		finished := make(chan struct{})
		go func() {
			c.Stop(ctx)
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(time.Second):
			t.Fatal("Stop 在取消的上下文下不应阻塞")
		}
	})

	t.Run("未启动消费者时Stop为空操作", func(t *testing.T) {
		c := NewConsumer(&config.Config{}, nil, nil)
		c.Stop(context.Background())
	})
}
