package handler

import (
	"context"
	"time"

	"talent-match-go/internal/config"
	"talent-match-go/internal/logger"
	"talent-match-go/internal/match"
	"talent-match-go/internal/storage"
	"talent-match-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// 批量匹配在后台最多允许跑这么久
const batchMatchMaxDuration = 30 * time.Minute

// MatchHandler 负责人岗匹配相关的请求。
type MatchHandler struct {
	cfg          *config.Config
	storage      *storage.Storage
	orchestrator *match.Orchestrator
}

// NewMatchHandler 创建匹配处理器。
func NewMatchHandler(cfg *config.Config, storage *storage.Storage, orchestrator *match.Orchestrator) *MatchHandler {
	return &MatchHandler{
		cfg:          cfg,
		storage:      storage,
		orchestrator: orchestrator,
	}
}

// HandleBatchMatch 触发该职位的全量批量匹配, 立即返回 202, 匹配在后台执行。
// POST /api/v1/jobs/:job_id/match
func (h *MatchHandler) HandleBatchMatch(ctx context.Context, c *app.RequestContext) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	jobID := c.Param("job_id")

	// 先做一次同步校验, 让职位不存在/已关闭直接反馈给调用方
	if _, err := h.storage.MySQL.GetJobPostingByID(ctx, tenantID, jobID); err != nil {
		writeError(c, types.NewNotFoundError("job_posting", jobID))
		return
	}

	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), batchMatchMaxDuration)
		defer cancel()
		report, err := h.orchestrator.RunBatchForJob(bgCtx, tenantID, jobID)
		if err != nil {
			logger.Warn().Err(err).Str("tenant_id", tenantID).Str("job_id", jobID).Msg("后台批量匹配未完成")
			return
		}
		logger.Info().
			Str("job_id", report.JobID).
			Int("total", report.Total).
			Int("matched", report.Matched).
			Int("failed", report.Failed).
			Msg("后台批量匹配结束")
	}()

	c.JSON(consts.StatusAccepted, utils.H{
		"job_id": jobID,
		"status": "matching_started",
	})
}

// HandleBatchMatchProgress 查询批量匹配进度。
// GET /api/v1/jobs/:job_id/match/progress
func (h *MatchHandler) HandleBatchMatchProgress(ctx context.Context, c *app.RequestContext) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	jobID := c.Param("job_id")

	if h.storage.Redis == nil {
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": "进度查询依赖 Redis, 当前未配置"})
		return
	}
	processed, total, err := h.storage.Redis.GetBatchProgress(ctx, tenantID, jobID)
	if err != nil {
		c.JSON(consts.StatusNotFound, utils.H{"error": "没有进行中或近期完成的批量匹配"})
		return
	}
	c.JSON(consts.StatusOK, utils.H{
		"job_id":    jobID,
		"processed": processed,
		"total":     total,
	})
}

// HandleMatchOne 对单个候选人执行匹配。
// POST /api/v1/jobs/:job_id/match/:profile_id
func (h *MatchHandler) HandleMatchOne(ctx context.Context, c *app.RequestContext) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	jobID := c.Param("job_id")
	profileID := c.Param("profile_id")

	result, err := h.orchestrator.MatchOne(ctx, tenantID, jobID, profileID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusCreated, result)
}

// HandleListCandidates 返回该职位的匹配结果视图。
// GET /api/v1/jobs/:job_id/candidates
func (h *MatchHandler) HandleListCandidates(ctx context.Context, c *app.RequestContext) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	jobID := c.Param("job_id")

	result, err := h.orchestrator.ReadCandidatesForJob(ctx, tenantID, jobID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, result)
}
