package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorClassification(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		predicate func(error) bool
		sentinel  error
	}{
		{"校验错误", NewValidationError("文件内容为空"), IsValidation, ErrValidation},
		{"实体缺失", NewNotFoundError("job_posting", "job-1"), IsNotFound, ErrNotFound},
		{"档案未就绪", NewNotReadyError("profile-1"), IsNotReady, ErrNotReady},
		{"唯一约束冲突", NewDuplicateError("match_record", "job-1/profile-1"), IsDuplicate, ErrDuplicate},
		{"上游依赖失败", NewUpstreamError("LLM 调用失败", errors.New("timeout")), IsUpstream, ErrUpstream},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.predicate(tc.err))
			assert.True(t, errors.Is(tc.err, tc.sentinel))

			// 每个错误只属于一个类别
			for _, other := range testCases {
				if other.name != tc.name {
					assert.False(t, other.predicate(tc.err), "%s 不应被判定为 %s", tc.name, other.name)
				}
			}
		})
	}
}

func TestDomainErrorMessage(t *testing.T) {
	t.Run("带实体与标识", func(t *testing.T) {
		err := NewNotFoundError("candidate_profile", "profile-42")
		assert.Contains(t, err.Error(), "candidate_profile")
		assert.Contains(t, err.Error(), "profile-42")
	})

	t.Run("带底层原因", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := NewUpstreamError("对象存储访问失败", cause)
		assert.Contains(t, err.Error(), "对象存储访问失败")
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("只有消息", func(t *testing.T) {
		err := NewValidationError("仅支持 PDF 格式的简历文件")
		assert.Equal(t, "仅支持 PDF 格式的简历文件", err.Error())
	})
}

func TestDomainErrorUnwrap(t *testing.T) {
	t.Run("有底层错误时沿错误链展开", func(t *testing.T) {
		cause := errors.New("dial tcp: i/o timeout")
		err := NewUpstreamError("Redis 访问失败", cause)
		assert.True(t, errors.Is(err, cause))
	})

	t.Run("无底层错误时展开为哨兵", func(t *testing.T) {
		err := NewValidationError("任务标识缺失")
		require.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, ErrValidation, errors.Unwrap(err))
	})
}

func TestDomainErrorWrapping(t *testing.T) {
	// 领域错误经过 fmt.Errorf 包装后类别判断仍然有效
	inner := NewDuplicateError("match_record", "job-1/profile-1")
	wrapped := fmt.Errorf("批量匹配第3项失败: %w", inner)

	assert.True(t, IsDuplicate(wrapped))
	assert.False(t, IsNotFound(wrapped))
}
