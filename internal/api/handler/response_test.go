package handler

import (
	"errors"
	"testing"

	"talent-match-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/stretchr/testify/assert"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	testCases := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"校验错误映射400", types.NewValidationError("仅支持 PDF 格式的简历文件"), 400},
		{"实体缺失映射404", types.NewNotFoundError("job_posting", "job-1"), 404},
		{"档案未就绪映射409", types.NewNotReadyError("profile-1"), 409},
		{"唯一约束冲突映射409", types.NewDuplicateError("match_record", "job-1/profile-1"), 409},
		{"上游依赖失败映射502", types.NewUpstreamError("LLM 调用失败", errors.New("timeout")), 502},
		{"未分类错误映射500", errors.New("unexpected"), 500},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := app.NewContext(0)
			writeError(c, tc.err)

			assert.Equal(t, tc.expectedStatus, c.Response.StatusCode())
			assert.Contains(t, string(c.Response.Body()), "error")
		})
	}
}
