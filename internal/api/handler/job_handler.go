package handler

import (
	"context"

	"talent-match-go/internal/config"
	"talent-match-go/internal/constants"
	"talent-match-go/internal/logger"
	"talent-match-go/internal/storage"
	"talent-match-go/internal/storage/models"
	"talent-match-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid/v5"
)

// JobHandler 负责职位的增删查与状态变更。
type JobHandler struct {
	cfg      *config.Config
	storage  *storage.Storage
	validate *validator.Validate
}

// NewJobHandler 创建职位处理器。
func NewJobHandler(cfg *config.Config, storage *storage.Storage) *JobHandler {
	return &JobHandler{
		cfg:      cfg,
		storage:  storage,
		validate: validator.New(),
	}
}

// CreateJobRequest 创建职位的请求体。
type CreateJobRequest struct {
	Title           string   `json:"title" validate:"required,max=255"`
	Description     string   `json:"description" validate:"required"`
	RequiredSkills  []string `json:"required_skills"`
	CreatedByUserID string   `json:"created_by_user_id"`
}

// HandleCreateJob 创建职位。
// POST /api/v1/jobs
func (h *JobHandler) HandleCreateJob(ctx context.Context, c *app.RequestContext) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}

	var req CreateJobRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体解析失败"})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(c, types.NewValidationError("职位字段校验失败: "+err.Error()))
		return
	}

	jobUUID, err := uuid.NewV7()
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "生成职位ID失败"})
		return
	}
	skillsJSON, err := models.StringSliceToJSON(req.RequiredSkills)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "序列化技能要求失败"})
		return
	}

	job := &models.JobPosting{
		JobID:              jobUUID.String(),
		TenantID:           tenantID,
		Title:              req.Title,
		Description:        req.Description,
		RequiredSkillsJSON: skillsJSON,
		Status:             constants.JobStatusOpen,
		CreatedByUserID:    req.CreatedByUserID,
	}
	if err := h.storage.MySQL.CreateJobPosting(ctx, job); err != nil {
		logger.FromContext(ctx).Error().Err(err).Str("tenant_id", tenantID).Msg("创建职位失败")
		writeError(c, types.NewUpstreamError("创建职位失败", err))
		return
	}

	c.JSON(consts.StatusCreated, jobToResponse(job))
}

// HandleGetJob 查询单个职位。
// GET /api/v1/jobs/:job_id
func (h *JobHandler) HandleGetJob(ctx context.Context, c *app.RequestContext) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	jobID := c.Param("job_id")

	job, err := h.storage.MySQL.GetJobPostingByID(ctx, tenantID, jobID)
	if err != nil {
		writeError(c, types.NewNotFoundError("job_posting", jobID))
		return
	}
	c.JSON(consts.StatusOK, jobToResponse(job))
}

// HandleListJobs 列出租户下的职位。
// GET /api/v1/jobs
func (h *JobHandler) HandleListJobs(ctx context.Context, c *app.RequestContext) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}

	jobs, err := h.storage.MySQL.ListJobPostings(ctx, tenantID)
	if err != nil {
		writeError(c, types.NewUpstreamError("查询职位列表失败", err))
		return
	}
	resp := make([]utils.H, 0, len(jobs))
	for i := range jobs {
		resp = append(resp, jobToResponse(&jobs[i]))
	}
	c.JSON(consts.StatusOK, utils.H{"jobs": resp})
}

// HandleCloseJob 关闭职位。关闭后的职位默认不再参与批量匹配。
// POST /api/v1/jobs/:job_id/close
func (h *JobHandler) HandleCloseJob(ctx context.Context, c *app.RequestContext) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	jobID := c.Param("job_id")

	updated, err := h.storage.MySQL.UpdateJobPostingStatus(ctx, tenantID, jobID, constants.JobStatusClosed)
	if err != nil {
		writeError(c, types.NewUpstreamError("更新职位状态失败", err))
		return
	}
	if !updated {
		writeError(c, types.NewNotFoundError("job_posting", jobID))
		return
	}
	c.JSON(consts.StatusOK, utils.H{"job_id": jobID, "status": constants.JobStatusClosed})
}

func jobToResponse(job *models.JobPosting) utils.H {
	return utils.H{
		"job_id":             job.JobID,
		"title":              job.Title,
		"description":        job.Description,
		"required_skills":    models.JSONToStringSlice(job.RequiredSkillsJSON),
		"status":             job.Status,
		"created_by_user_id": job.CreatedByUserID,
		"created_at":         job.CreatedAt,
		"updated_at":         job.UpdatedAt,
	}
}
