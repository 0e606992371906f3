package handler

import (
	"context"
	"encoding/json"
	"io"

	"talent-match-go/internal/config"
	"talent-match-go/internal/ingest"
	"talent-match-go/internal/logger"
	"talent-match-go/internal/storage"
	"talent-match-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"
)

// ProfileHandler 负责候选人档案的上传与查询。
type ProfileHandler struct {
	cfg      *config.Config
	storage  *storage.Storage
	pipeline *ingest.Pipeline
}

// NewProfileHandler 创建档案处理器。
func NewProfileHandler(cfg *config.Config, storage *storage.Storage, pipeline *ingest.Pipeline) *ProfileHandler {
	return &ProfileHandler{
		cfg:      cfg,
		storage:  storage,
		pipeline: pipeline,
	}
}

// HandleUpload 处理简历批量上传。
// POST /api/v1/profiles/upload (multipart/form-data)
// 表单字段: user_id, files(可多个), task_ids(与 files 一一对应, 缺省时服务端生成)
func (h *ProfileHandler) HandleUpload(ctx context.Context, c *app.RequestContext) {
	tenantID, userID, ok := requireIdentity(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "解析 multipart 表单失败"})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "未上传任何文件"})
		return
	}
	taskIDs := form.Value["task_ids"]

	items := make([]types.UploadItem, 0, len(files))
	for i, fh := range files {
		f, err := fh.Open()
		if err != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "打开上传文件失败: " + fh.Filename})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "读取上传文件失败: " + fh.Filename})
			return
		}

		taskID := ""
		if i < len(taskIDs) {
			taskID = taskIDs[i]
		}
		if taskID == "" {
			taskID = uuid.NewString()
		}
		items = append(items, types.UploadItem{
			TaskID:   taskID,
			Filename: fh.Filename,
			Data:     data,
		})
	}

	results := h.pipeline.Ingest(ctx, tenantID, userID, items)

	logger.FromContext(ctx).Info().
		Str("tenant_id", tenantID).
		Str("user_id", userID).
		Int("file_count", len(items)).
		Msg("简历上传请求处理完成")

	c.JSON(consts.StatusOK, utils.H{"results": results})
}

// HandleGetProfile 查询单个档案。
// GET /api/v1/profiles/:profile_id
func (h *ProfileHandler) HandleGetProfile(ctx context.Context, c *app.RequestContext) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	profileID := c.Param("profile_id")
	if profileID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "profile_id 不能为空"})
		return
	}

	profile, err := h.storage.MySQL.GetProfileByID(ctx, tenantID, profileID)
	if err != nil {
		writeError(c, types.NewNotFoundError("candidate_profile", profileID))
		return
	}

	resp := utils.H{
		"profile_id":        profile.ProfileID,
		"user_id":           profile.UserID,
		"original_filename": profile.OriginalFilename,
		"status":            profile.Status,
		"created_at":        profile.CreatedAt,
		"updated_at":        profile.UpdatedAt,
	}
	if profile.AnalysisError != "" {
		resp["analysis_error"] = profile.AnalysisError
	}
	if profile.AnalyzedAt != nil {
		resp["analyzed_at"] = profile.AnalyzedAt
	}
	if len(profile.AnalysisResult) > 0 {
		var analysis types.CandidateAnalysis
		if err := json.Unmarshal(profile.AnalysisResult, &analysis); err == nil {
			resp["analysis"] = analysis
		}
	}
	c.JSON(consts.StatusOK, resp)
}

// requireTenant 从请求头取租户标识。
func requireTenant(c *app.RequestContext) (string, bool) {
	tenantID := string(c.GetHeader("X-Tenant-ID"))
	if tenantID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "缺少 X-Tenant-ID 请求头"})
		return "", false
	}
	return tenantID, true
}

// requireIdentity 从请求中取租户与用户标识, 用户允许从表单兜底。
func requireIdentity(c *app.RequestContext) (tenantID, userID string, ok bool) {
	tenantID, ok = requireTenant(c)
	if !ok {
		return "", "", false
	}
	userID = string(c.GetHeader("X-User-ID"))
	if userID == "" {
		userID = c.PostForm("user_id")
	}
	if userID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "缺少用户标识"})
		return "", "", false
	}
	return tenantID, userID, true
}
