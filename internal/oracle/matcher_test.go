package oracle

import (
	"context"
	"errors"
	"testing"

	"talent-match-go/internal/types"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJobText = `职位: 资深后端开发工程师
要求技能: Go, MySQL, Redis
负责核心交易系统的设计和开发，要求5年以上后端经验。`

const sampleProfileText = `姓名: 张大明
经验级别: Senior
摘要: 5年Java/Go后端开发经验，主导过核心交易系统的微服务改造。
技能: Go, Java, MySQL, Redis, Kafka`

func TestSemanticMatcherEvaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("正常评估", func(t *testing.T) {
		mockLLM := &MockOracleLLM{mockResponse: `{
			"match_score": 92,
			"match_explanation": "候选人经验年限和核心技术栈均满足岗位要求，且有交易系统实战经验。",
			"matched_skills": ["Go", "MySQL", "Redis"]
		}`}
		matcher := NewSemanticMatcher(mockLLM)

		evaluation, err := matcher.Evaluate(ctx, sampleJobText, sampleProfileText)
		require.NoError(t, err)
		require.NotNil(t, evaluation)

		assert.Equal(t, 92, evaluation.Score)
		assert.Contains(t, evaluation.Explanation, "交易系统")
		assert.Equal(t, []string{"Go", "MySQL", "Redis"}, evaluation.MatchedSkills)
	})

	t.Run("零分也是合法结果", func(t *testing.T) {
		mockLLM := &MockOracleLLM{mockResponse: `{"match_score": 0, "match_explanation": "候选人与岗位完全不相关。", "matched_skills": []}`}
		matcher := NewSemanticMatcher(mockLLM)

		evaluation, err := matcher.Evaluate(ctx, sampleJobText, sampleProfileText)
		require.NoError(t, err)
		assert.Equal(t, 0, evaluation.Score)
	})

	t.Run("matched_skills缺失时为空数组", func(t *testing.T) {
		mockLLM := &MockOracleLLM{mockResponse: `{"match_score": 15, "match_explanation": "核心技术栈不符。"}`}
		matcher := NewSemanticMatcher(mockLLM)

		evaluation, err := matcher.Evaluate(ctx, sampleJobText, sampleProfileText)
		require.NoError(t, err)
		require.NotNil(t, evaluation.MatchedSkills)
		assert.Empty(t, evaluation.MatchedSkills)
	})

	t.Run("分数超出上限", func(t *testing.T) {
		mockLLM := &MockOracleLLM{mockResponse: `{"match_score": 150, "match_explanation": "完美匹配。", "matched_skills": ["Go"]}`}
		matcher := NewSemanticMatcher(mockLLM)

		_, err := matcher.Evaluate(ctx, sampleJobText, sampleProfileText)
		require.Error(t, err)
		assert.True(t, types.IsValidation(err), "越界分数不应落库, 归为校验失败")
	})

	t.Run("分数为负", func(t *testing.T) {
		mockLLM := &MockOracleLLM{mockResponse: `{"match_score": -5, "match_explanation": "不匹配。", "matched_skills": []}`}
		matcher := NewSemanticMatcher(mockLLM)

		_, err := matcher.Evaluate(ctx, sampleJobText, sampleProfileText)
		require.Error(t, err)
		assert.True(t, types.IsValidation(err))
	})

	t.Run("说明缺失", func(t *testing.T) {
		mockLLM := &MockOracleLLM{mockResponse: `{"match_score": 60, "match_explanation": "", "matched_skills": []}`}
		matcher := NewSemanticMatcher(mockLLM)

		_, err := matcher.Evaluate(ctx, sampleJobText, sampleProfileText)
		require.Error(t, err)
		assert.True(t, types.IsValidation(err))
	})

	t.Run("响应中没有JSON", func(t *testing.T) {
		mockLLM := &MockOracleLLM{mockResponse: "这两者并不匹配。"}
		matcher := NewSemanticMatcher(mockLLM)

		_, err := matcher.Evaluate(ctx, sampleJobText, sampleProfileText)
		require.Error(t, err)
		assert.True(t, types.IsUpstream(err))
	})

	t.Run("LLM调用失败", func(t *testing.T) {
		mockLLM := &MockOracleLLM{mockErr: errors.New("timeout")}
		matcher := NewSemanticMatcher(mockLLM)

		_, err := matcher.Evaluate(ctx, sampleJobText, sampleProfileText)
		require.Error(t, err)
		assert.True(t, types.IsUpstream(err))
	})

	t.Run("岗位描述为空", func(t *testing.T) {
		mockLLM := &MockOracleLLM{}
		matcher := NewSemanticMatcher(mockLLM)

		_, err := matcher.Evaluate(ctx, "  ", sampleProfileText)
		require.Error(t, err)
		assert.True(t, types.IsValidation(err))
	})

	t.Run("候选人画像为空", func(t *testing.T) {
		mockLLM := &MockOracleLLM{}
		matcher := NewSemanticMatcher(mockLLM)

		_, err := matcher.Evaluate(ctx, sampleJobText, "")
		require.Error(t, err)
		assert.True(t, types.IsValidation(err))
	})

	t.Run("提示词包含岗位与画像全文", func(t *testing.T) {
		mockLLM := &MockOracleLLM{mockResponse: `{"match_score": 80, "match_explanation": "大部分核心要求满足。", "matched_skills": ["Go"]}`}
		matcher := NewSemanticMatcher(mockLLM)

		_, err := matcher.Evaluate(ctx, sampleJobText, sampleProfileText)
		require.NoError(t, err)
		require.Len(t, mockLLM.lastMessages, 2)
		assert.Equal(t, schema.System, mockLLM.lastMessages[0].Role)
		assert.Contains(t, mockLLM.lastMessages[1].Content, sampleJobText)
		assert.Contains(t, mockLLM.lastMessages[1].Content, sampleProfileText)
	})
}
