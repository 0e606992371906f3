package handler

import (
	"talent-match-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// writeError 将领域错误映射为 HTTP 状态码并输出统一的错误响应。
// 跨租户访问在数据层已表现为未找到，这里不需要单独处理。
func writeError(c *app.RequestContext, err error) {
	status := consts.StatusInternalServerError
	switch {
	case types.IsValidation(err):
		status = consts.StatusBadRequest
	case types.IsNotFound(err):
		status = consts.StatusNotFound
	case types.IsDuplicate(err):
		status = consts.StatusConflict
	case types.IsNotReady(err):
		status = consts.StatusConflict
	case types.IsUpstream(err):
		status = consts.StatusBadGateway
	}
	c.JSON(status, utils.H{"error": err.Error()})
}
