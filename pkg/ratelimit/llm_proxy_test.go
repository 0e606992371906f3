package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 测试用LLM模型模拟器
type MockProxiedLLM struct {
	calls     int
	failUntil int
	failWith  error
}

func (m *MockProxiedLLM) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	m.calls++
	if m.calls <= m.failUntil {
		return nil, m.failWith
	}
	return &schema.Message{Role: schema.Assistant, Content: "ok"}, nil
}

func (m *MockProxiedLLM) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.calls++
	if m.calls <= m.failUntil {
		return nil, m.failWith
	}
	return nil, nil
}

func (m *MockProxiedLLM) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func TestRateLimitedGenerate(t *testing.T) {
	t.Run("正常透传", func(t *testing.T) {
		inner := &MockProxiedLLM{}
		rl := NewRateLimitedLLMModel(inner, 600)

		resp, err := rl.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Content)
		assert.Equal(t, 1, inner.calls)
	})

	t.Run("限流类错误自动重试", func(t *testing.T) {
		inner := &MockProxiedLLM{failUntil: 2, failWith: errors.New("429 Too Many Requests")}
		rl := NewRateLimitedLLMModel(inner, 600).WithRetryPolicy(time.Millisecond, 3)

		resp, err := rl.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Content)
		assert.Equal(t, 3, inner.calls)
	})

	t.Run("业务错误不重试", func(t *testing.T) {
		bizErr := errors.New("invalid request payload")
		inner := &MockProxiedLLM{failUntil: 10, failWith: bizErr}
		rl := NewRateLimitedLLMModel(inner, 600).WithRetryPolicy(time.Millisecond, 3)

		_, err := rl.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
		require.ErrorIs(t, err, bizErr)
		assert.Equal(t, 1, inner.calls)
	})
}

func TestNewLLMWithRateLimitQPMSelection(t *testing.T) {
	qpmLimits := map[string]int{
		"qwen-max":  1200,
		"qwen-plus": 15000,
	}

	rateOf := func(m model.ToolCallingChatModel) float64 {
		limited, ok := m.(*RateLimitedLLMModel)
		require.True(t, ok)
		return limited.rateLimiter.rate
	}

	t.Run("命中配置表时取限额的90%", func(t *testing.T) {
		m := NewLLMWithRateLimit(&MockProxiedLLM{}, "qwen-max", qpmLimits, 100, 3, time.Second)
		// 1200 * 0.9 = 1080 QPM
		assert.InDelta(t, 1080.0/60.0, rateOf(m), 0.001)
	})

	t.Run("未命中配置表时回落到customQPM", func(t *testing.T) {
		m := NewLLMWithRateLimit(&MockProxiedLLM{}, "unknown-model", qpmLimits, 120, 3, time.Second)
		assert.InDelta(t, 120.0/60.0, rateOf(m), 0.001)
	})

	t.Run("无任何有效配置时取默认30", func(t *testing.T) {
		m := NewLLMWithRateLimit(&MockProxiedLLM{}, "", nil, 0, 0, 0)
		assert.InDelta(t, 30.0/60.0, rateOf(m), 0.001)
	})
}

func TestWithToolsSharesTokenBucket(t *testing.T) {
	inner := &MockProxiedLLM{}
	rl := NewRateLimitedLLMModel(inner, 600)

	bound, err := rl.WithTools([]*schema.ToolInfo{{Name: "search"}})
	require.NoError(t, err)

	boundRL, ok := bound.(*RateLimitedLLMModel)
	require.True(t, ok)
	assert.Same(t, rl.rateLimiter, boundRL.rateLimiter, "绑定工具后的模型应共享同一个令牌桶")
}
