package oracle

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONFromResponse(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "纯JSON对象",
			input:    `{"match_score": 90}`,
			expected: `{"match_score": 90}`,
		},
		{
			name:     "带Markdown代码块标记",
			input:    "```json\n{\"match_score\": 85}\n```",
			expected: `{"match_score": 85}`,
		},
		{
			name:     "JSON前后有解释文字",
			input:    "好的，以下是评估结果：\n{\"match_score\": 70}\n希望对你有帮助。",
			expected: `{"match_score": 70}`,
		},
		{
			name:     "嵌套对象取最外层",
			input:    `前缀 {"contact": {"email": "a@b.com"}, "skills": []} 后缀`,
			expected: `{"contact": {"email": "a@b.com"}, "skills": []}`,
		},
		{
			name:     "没有JSON对象",
			input:    "抱歉，我无法处理这份简历。",
			expected: "",
		},
		{
			name:     "大括号不闭合",
			input:    `{"match_score": 90`,
			expected: "",
		},
		{
			name:     "空字符串",
			input:    "",
			expected: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, extractJSONFromResponse(tc.input))
		})
	}
}

func TestSanitizeJSON(t *testing.T) {
	t.Run("字符串内部的未转义引号被修复", func(t *testing.T) {
		src := `{"summary": "精通"高并发"系统设计", "skills": ["Go"]}`
		fixed := sanitizeJSON(src)

		var out map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(fixed), &out), "修复后的JSON应可解析")
		assert.Equal(t, `精通"高并发"系统设计`, out["summary"])
	})

	t.Run("合法JSON保持不变", func(t *testing.T) {
		src := `{"full_name": "张伟", "skills": ["React", "TypeScript"], "score": 88}`
		assert.Equal(t, src, sanitizeJSON(src))
	})

	t.Run("已转义的引号不被二次处理", func(t *testing.T) {
		src := `{"summary": "所谓\"全栈\"工程师"}`
		fixed := sanitizeJSON(src)

		var out map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(fixed), &out))
		assert.Equal(t, `所谓"全栈"工程师`, out["summary"])
	})
}
