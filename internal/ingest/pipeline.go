package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"talent-match-go/internal/config"
	"talent-match-go/internal/constants"
	"talent-match-go/internal/logger"
	"talent-match-go/internal/notify"
	"talent-match-go/internal/parser"
	"talent-match-go/internal/storage"
	"talent-match-go/internal/storage/models"
	"talent-match-go/internal/tracing"
	"talent-match-go/internal/types"
	"talent-match-go/pkg/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// TextExtractor 从简历文件中提取纯文本。
type TextExtractor interface {
	ExtractTextFromBytes(ctx context.Context, data []byte, uri string) (string, error)
}

// Analyzer 将简历文本转换为结构化候选人画像。
type Analyzer interface {
	Analyze(ctx context.Context, cvText string) (*types.CandidateAnalysis, error)
}

// ProfileStore 流水线依赖的档案与 outbox 持久化操作, 生产实现为 *storage.MySQL。
type ProfileStore interface {
	FindOrCreateProfile(ctx context.Context, tx *gorm.DB, tenantID, userID string) (*models.CandidateProfile, bool, error)
	UpdateProfileFields(ctx context.Context, tx *gorm.DB, profileID string, updates map[string]interface{}) error
	CreateOutboxMessage(ctx context.Context, tx *gorm.DB, msg *models.OutboxMessage) error
	Transact(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ObjectStore 简历对象的读写删, 生产实现为 *storage.MinIO。
type ObjectStore interface {
	UploadCVFromBytes(ctx context.Context, objectKey string, data []byte) (string, error)
	GetCV(ctx context.Context, objectKey string) ([]byte, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// ContentDeduper 按内容MD5探测重复上传, 生产实现为 *storage.Redis, 可缺省。
type ContentDeduper interface {
	CheckAndAddFileMD5(ctx context.Context, md5Hex string) (exists bool, err error)
}

// PipelineDeps 汇总流水线的外部依赖。
type PipelineDeps struct {
	Profiles  ProfileStore
	Objects   ObjectStore
	Dedup     ContentDeduper // 可为 nil
	Extractor TextExtractor
	Analyzer  Analyzer
	Notifier  notify.Notifier
	// QueueEnabled 表示 RabbitMQ 可用, 分析走 outbox 异步投递
	QueueEnabled bool
}

// Pipeline 负责简历的入库与结构化分析。
// 入库路径：校验 -> 事务内(占档案 + 上传新对象 + 档案指向新对象 + outbox) -> MQ 异步分析。
// 未配置 MQ 时可按配置降级为上传请求内同步分析。
type Pipeline struct {
	cfg          *config.Config
	profiles     ProfileStore
	objects      ObjectStore
	dedup        ContentDeduper
	extractor    TextExtractor
	analyzer     Analyzer
	notifier     notify.Notifier
	queueEnabled bool
	tracer       trace.Tracer
}

// NewPipeline 创建简历处理流水线。
func NewPipeline(cfg *config.Config, deps PipelineDeps) *Pipeline {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NewNopNotifier()
	}
	return &Pipeline{
		cfg:          cfg,
		profiles:     deps.Profiles,
		objects:      deps.Objects,
		dedup:        deps.Dedup,
		extractor:    deps.Extractor,
		analyzer:     deps.Analyzer,
		notifier:     notifier,
		queueEnabled: deps.QueueEnabled,
		tracer:       otel.Tracer("talent-match.ingest"),
	}
}

// Ingest 批量入库简历，逐项独立处理：单个文件失败不影响其余文件。
// 返回的结果与 items 一一对应，status 为 success 表示档案已落库并进入分析流程。
func (p *Pipeline) Ingest(ctx context.Context, tenantID, userID string, items []types.UploadItem) []types.IngestItemResult {
	ctx, span := p.tracer.Start(ctx, "ingest.batch", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("user.id", userID),
		attribute.Int("item.count", len(items)),
	))
	defer span.End()

	results := make([]types.IngestItemResult, 0, len(items))
	for i := range items {
		results = append(results, p.ingestOne(ctx, tenantID, userID, &items[i]))
	}

	failed := 0
	for _, r := range results {
		if r.Status != "success" {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("item.failed", failed))
	span.SetStatus(codes.Ok, "")
	return results
}

func (p *Pipeline) ingestOne(ctx context.Context, tenantID, userID string, item *types.UploadItem) types.IngestItemResult {
	ctx = logger.WithTaskID(logger.WithTenantID(ctx, tenantID), item.TaskID)
	log := logger.FromContext(ctx)

	ctx, span := p.tracer.Start(ctx, "ingest.item", trace.WithAttributes(
		attribute.String("task.id", item.TaskID),
		attribute.String("file.name", tracing.TruncateString(item.Filename, tracing.DefaultMaxLength)),
		attribute.Int("file.size", len(item.Data)),
	))
	defer span.End()

	p.emit(ctx, userID, item.TaskID, "", constants.ProgressStageUploading, "")

	if err := p.validateItem(item); err != nil {
		log.Warn().Err(err).Str("filename", item.Filename).Msg("简历文件校验失败")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return p.failItem(ctx, userID, item, "", err)
	}

	useAsync := p.queueEnabled && !p.cfg.Ingestion.SyncExtract

	// 对象键带任务ID, 每次上传都写新对象；档案行在同一事务里才指向它。
	// 事务失败时整体回滚：旧简历对象与旧分析结果原样保留, 新对象被清理。
	var (
		profile   *models.CandidateProfile
		created   bool
		objectKey string
		oldKey    string
		md5Hex    string
		uploaded  bool
	)
	err := p.profiles.Transact(ctx, func(tx *gorm.DB) error {
		var txErr error
		profile, created, txErr = p.profiles.FindOrCreateProfile(ctx, tx, tenantID, userID)
		if txErr != nil {
			return types.NewUpstreamError("候选人档案写入失败", txErr)
		}
		oldKey = profile.CVObjectKey

		// 只收 PDF, 扩展名不采信上传文件名
		objectKey = fmt.Sprintf("cv/%s/%s.pdf", profile.ProfileID, item.TaskID)
		md5Hex, txErr = p.objects.UploadCVFromBytes(ctx, objectKey, item.Data)
		if txErr != nil {
			return types.NewUpstreamError("简历上传对象存储失败", txErr)
		}
		uploaded = true

		updates := map[string]interface{}{
			"cv_object_key":     objectKey,
			"original_filename": item.Filename,
			"status":            constants.ProfileStatusPendingAnalysis,
			"analysis_result":   nil,
			"analysis_error":    "",
			"analyzed_at":       nil,
		}
		if txErr := p.profiles.UpdateProfileFields(ctx, tx, profile.ProfileID, updates); txErr != nil {
			return types.NewUpstreamError("简历入库事务失败", txErr)
		}
		if !useAsync {
			return nil
		}
		msg := storage.ProfileAnalysisMessage{
			ProfileID:   profile.ProfileID,
			TenantID:    tenantID,
			UserID:      userID,
			TaskID:      item.TaskID,
			CVObjectKey: objectKey,
			RequestedAt: time.Now(),
		}
		payload, mErr := json.Marshal(msg)
		if mErr != nil {
			return fmt.Errorf("序列化分析消息失败: %w", mErr)
		}
		outbox := &models.OutboxMessage{
			AggregateID:      profile.ProfileID,
			EventType:        constants.OutboxEventProfileAnalysis,
			Payload:          string(payload),
			TargetExchange:   p.analysisExchange(),
			TargetRoutingKey: p.analysisRoutingKey(),
			Status:           "PENDING",
		}
		return p.profiles.CreateOutboxMessage(ctx, tx, outbox)
	})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		if uploaded {
			// 回滚后新对象是孤儿, 尽力清掉
			if delErr := p.objects.DeleteObject(ctx, objectKey); delErr != nil {
				log.Warn().Err(delErr).Str("object_key", objectKey).Msg("清理未入库的简历对象失败")
			}
		}
		// 回滚掉的新建档案没有对外可见的ID
		reportID := ""
		if profile != nil && !created {
			reportID = profile.ProfileID
		}
		return p.failItem(ctx, userID, item, reportID, err)
	}

	ctx = logger.WithProfileID(ctx, profile.ProfileID)
	span.SetAttributes(attribute.String("profile.id", profile.ProfileID), attribute.Bool("profile.created", created))

	// 被替换的旧简历对象不再被档案引用, 尽力清理
	if oldKey != "" && oldKey != objectKey {
		if delErr := p.objects.DeleteObject(ctx, oldKey); delErr != nil {
			log.Warn().Err(delErr).Str("object_key", oldKey).Msg("清理被替换的简历对象失败")
		}
	}

	// 重复文件只作提示，不拦截：同一份简历可能被不同用户合法上传
	if p.dedup != nil {
		if seen, dErr := p.dedup.CheckAndAddFileMD5(ctx, md5Hex); dErr == nil && seen {
			log.Info().Str("md5", md5Hex).Msg("检测到重复的简历文件内容")
			span.SetAttributes(attribute.Bool("file.duplicate_content", true))
		}
	}

	if useAsync {
		// 分析在消费端继续, processing 表示已排队等待解析
		p.emit(ctx, userID, item.TaskID, profile.ProfileID, constants.ProgressStageProcessing, "")
		log.Info().Str("object_key", objectKey).Msg("简历入库完成, 已排队等待分析")
	} else {
		// 无 MQ 的降级路径, 在请求内同步完成分析
		p.emit(ctx, userID, item.TaskID, profile.ProfileID, constants.ProgressStageProcessing, "")
		if exErr := p.ExtractAndAnalyze(ctx, &storage.ProfileAnalysisMessage{
			ProfileID:   profile.ProfileID,
			TenantID:    tenantID,
			UserID:      userID,
			TaskID:      item.TaskID,
			CVObjectKey: objectKey,
			RequestedAt: time.Now(),
		}); exErr != nil {
			log.Warn().Err(exErr).Msg("同步分析的状态持久化失败")
		}
	}

	span.SetStatus(codes.Ok, "")
	return types.IngestItemResult{
		TaskID:    item.TaskID,
		Filename:  item.Filename,
		ProfileID: profile.ProfileID,
		Status:    "success",
	}
}

func (p *Pipeline) validateItem(item *types.UploadItem) error {
	if len(item.Data) == 0 {
		return types.NewValidationError("文件内容为空")
	}
	if maxMB := p.cfg.Ingestion.MaxFileSizeMB; maxMB > 0 && len(item.Data) > maxMB*1024*1024 {
		return types.NewValidationError(fmt.Sprintf("文件超过大小上限 %dMB", maxMB))
	}
	if !parser.IsPDF(item.Data) {
		return types.NewValidationError("仅支持 PDF 格式的简历文件")
	}
	return nil
}

func (p *Pipeline) failItem(ctx context.Context, userID string, item *types.UploadItem, profileID string, err error) types.IngestItemResult {
	p.emit(ctx, userID, item.TaskID, profileID, constants.ProgressStageError, err.Error())
	return types.IngestItemResult{
		TaskID:    item.TaskID,
		Filename:  item.Filename,
		ProfileID: profileID,
		Status:    "error",
		Error:     err.Error(),
	}
}

func (p *Pipeline) emit(ctx context.Context, userID, taskID, profileID, stage, errMsg string) {
	p.notifier.Emit(ctx, userID, types.ProgressEvent{
		TaskID:    taskID,
		ProfileID: profileID,
		Stage:     stage,
		Error:     errMsg,
		At:        time.Now(),
	})
}

// ExtractAndAnalyze 执行单份档案的文本提取与结构化分析。
// 分析失败是终态：原因写入档案的 analysis_error 后返回 nil。
// 只有状态无法持久化时才返回 error，消费端据此决定是否重投消息。
func (p *Pipeline) ExtractAndAnalyze(ctx context.Context, msg *storage.ProfileAnalysisMessage) error {
	ctx = logger.WithProfileID(logger.WithTaskID(logger.WithTenantID(ctx, msg.TenantID), msg.TaskID), msg.ProfileID)
	log := logger.FromContext(ctx)

	ctx, span := p.tracer.Start(ctx, "ingest.analyze", trace.WithAttributes(
		attribute.String("profile.id", msg.ProfileID),
		attribute.String("tenant.id", msg.TenantID),
	))
	defer span.End()

	analysis, err := p.runAnalysis(ctx, msg)
	if err != nil {
		log.Warn().Err(err).Msg("简历分析失败")
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		if dbErr := p.profiles.UpdateProfileFields(ctx, nil, msg.ProfileID, map[string]interface{}{
			"status":          constants.ProfileStatusError,
			"analysis_error":  err.Error(),
			"analysis_result": nil,
			"analyzed_at":     nil,
		}); dbErr != nil {
			log.Error().Err(dbErr).Msg("记录分析失败状态时写库失败")
			return dbErr
		}
		p.emit(ctx, msg.UserID, msg.TaskID, msg.ProfileID, constants.ProgressStageError, err.Error())
		return nil
	}

	resultJSON, err := models.StructToJSON(analysis)
	if err != nil {
		return fmt.Errorf("序列化分析结果失败: %w", err)
	}
	if err := p.profiles.UpdateProfileFields(ctx, nil, msg.ProfileID, map[string]interface{}{
		"status":          constants.ProfileStatusAnalyzed,
		"analysis_result": resultJSON,
		"analysis_error":  "",
		"analyzed_at":     utils.TimePtr(time.Now()),
	}); err != nil {
		log.Error().Err(err).Msg("写入分析结果失败")
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return err
	}

	p.emit(ctx, msg.UserID, msg.TaskID, msg.ProfileID, constants.ProgressStageSuccess, "")
	log.Info().Str("experience_level", analysis.ExperienceLevel).Int("skill_count", len(analysis.Skills)).Msg("简历分析完成")
	span.SetStatus(codes.Ok, "")
	return nil
}

func (p *Pipeline) runAnalysis(ctx context.Context, msg *storage.ProfileAnalysisMessage) (*types.CandidateAnalysis, error) {
	timeout := config.GetDuration(p.cfg.Analyzer.AnalysisTimeout, 60*time.Second)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := p.objects.GetCV(ctx, msg.CVObjectKey)
	if err != nil {
		return nil, types.NewUpstreamError("读取简历对象失败", err)
	}

	text, err := p.extractor.ExtractTextFromBytes(ctx, data, msg.CVObjectKey)
	if err != nil {
		return nil, types.NewUpstreamError("简历文本提取失败", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, types.NewValidationError("简历中没有可提取的文本内容")
	}

	analysis, err := p.analyzer.Analyze(ctx, text)
	if err != nil {
		return nil, err
	}

	// 联系邮箱是后续触达候选人的必要信息, 缺失按分析失败处理
	if strings.TrimSpace(analysis.Contact.Email) == "" {
		return nil, types.NewValidationError("简历中未找到联系邮箱")
	}
	return analysis, nil
}

func (p *Pipeline) analysisExchange() string {
	if p.cfg.RabbitMQ.AnalysisExchange != "" {
		return p.cfg.RabbitMQ.AnalysisExchange
	}
	return constants.AnalysisExchange
}

func (p *Pipeline) analysisRoutingKey() string {
	if p.cfg.RabbitMQ.AnalysisRoutingKey != "" {
		return p.cfg.RabbitMQ.AnalysisRoutingKey
	}
	return constants.AnalysisRoutingKey
}
