package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"talent-match-go/internal/config"
	"talent-match-go/internal/constants"
	"talent-match-go/internal/logger"
	"talent-match-go/internal/storage/models"
	"talent-match-go/internal/tracing"
	"talent-match-go/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// Matcher 评估职位与候选人画像的匹配度。
type Matcher interface {
	Evaluate(ctx context.Context, jobText string, profileText string) (*types.MatchEvaluation, error)
}

// Store 匹配编排依赖的持久化操作, 生产实现为 *storage.MySQL。
// 实体缺失统一以 gorm.ErrRecordNotFound 表达, 唯一索引冲突以 gorm.ErrDuplicatedKey 表达。
type Store interface {
	GetJobPostingByID(ctx context.Context, tenantID, jobID string) (*models.JobPosting, error)
	GetProfileByID(ctx context.Context, tenantID, profileID string) (*models.CandidateProfile, error)
	ListAnalyzedProfiles(ctx context.Context, tenantID string) ([]models.CandidateProfile, error)
	GetProfilesByIDs(ctx context.Context, tenantID string, profileIDs []string) (map[string]models.CandidateProfile, error)
	HasMatchRecord(ctx context.Context, tenantID, jobID, profileID string) (bool, error)
	MatchedProfileIDs(ctx context.Context, tenantID, jobID string) (map[string]struct{}, error)
	CreateMatchRecord(ctx context.Context, record *models.MatchRecord) error
	ListMatchRecordsForJob(ctx context.Context, tenantID, jobID string) ([]models.MatchRecord, error)
}

// ProgressSink 批量匹配的互斥锁与进度上报, 生产实现为 *storage.Redis, 可缺省。
type ProgressSink interface {
	AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey, lockValue string) (bool, error)
	SetBatchProgress(ctx context.Context, tenantID, jobID string, processed, total int, ttl time.Duration) error
}

// Orchestrator 负责人岗匹配的编排：单人匹配、全量批量匹配和结果读取。
type Orchestrator struct {
	cfg      *config.Config
	store    Store
	progress ProgressSink
	matcher  Matcher
	tracer   trace.Tracer
}

// NewOrchestrator 创建匹配编排器。progress 为 nil 时跳过加锁与进度上报。
func NewOrchestrator(cfg *config.Config, store Store, progress ProgressSink, matcher Matcher) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		progress: progress,
		matcher:  matcher,
		tracer:   otel.Tracer("talent-match.match"),
	}
}

// MatchOne 对单个候选人执行匹配并落库。
// 守卫顺序：职位存在 -> 档案存在 -> 未重复匹配 -> 档案已完成分析。
func (o *Orchestrator) MatchOne(ctx context.Context, tenantID, jobID, profileID string) (*types.MatchedCandidate, error) {
	ctx = logger.WithProfileID(logger.WithTenantID(ctx, tenantID), profileID)

	ctx, span := o.tracer.Start(ctx, "match.one", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("job.id", jobID),
		attribute.String("profile.id", profileID),
	))
	defer span.End()

	job, err := o.loadJob(ctx, tenantID, jobID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, err
	}

	profile, err := o.store.GetProfileByID(ctx, tenantID, profileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			nf := types.NewNotFoundError("candidate_profile", profileID)
			tracing.RecordError(span, nf, tracing.ErrorTypeValidation)
			return nil, nf
		}
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, types.NewUpstreamError("查询候选人档案失败", err)
	}

	if exists, err := o.store.HasMatchRecord(ctx, tenantID, jobID, profileID); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, types.NewUpstreamError("查询匹配记录失败", err)
	} else if exists {
		dup := types.NewDuplicateError("match_record", jobID+"/"+profileID)
		tracing.RecordError(span, dup, tracing.ErrorTypeValidation)
		return nil, dup
	}

	analysis, ok := decodeAnalysis(profile)
	if !ok {
		nr := types.NewNotReadyError(profileID)
		tracing.RecordError(span, nr, tracing.ErrorTypeValidation)
		return nil, nr
	}

	evaluation, err := o.evaluate(ctx, job, analysis)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, err
	}

	record, err := o.persistMatch(ctx, tenantID, jobID, profile.ProfileID, evaluation)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, err
	}

	span.SetAttributes(attribute.Int("match.score", record.MatchScore))
	span.SetStatus(codes.Ok, "")
	return &types.MatchedCandidate{
		ProfileID:       profile.ProfileID,
		UserID:          profile.UserID,
		FullName:        analysis.FullName,
		ExperienceLevel: analysis.ExperienceLevel,
		Score:           record.MatchScore,
		Explanation:     record.MatchExplanation,
		MatchedSkills:   models.JSONToStringSlice(record.MatchedSkillsJSON),
		MatchedAt:       record.CreatedAt,
	}, nil
}

// RunBatchForJob 对该职位尚未匹配的所有已分析档案逐个执行匹配。
// 批量是幂等的：已有匹配记录的候选人被跳过，重复触发只会补齐缺口。
// 单个候选人失败只计入 failed，不会中断整批。
func (o *Orchestrator) RunBatchForJob(ctx context.Context, tenantID, jobID string) (*types.BatchMatchReport, error) {
	ctx = logger.WithTenantID(ctx, tenantID)
	log := logger.FromContext(ctx)

	ctx, span := o.tracer.Start(ctx, "match.batch", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("job.id", jobID),
	))
	defer span.End()

	report := &types.BatchMatchReport{JobID: jobID, StartedAt: time.Now()}

	job, err := o.loadJob(ctx, tenantID, jobID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, err
	}
	if o.cfg.Matching.SkipClosedJobsEnabled() && job.Status != constants.JobStatusOpen {
		ve := types.NewValidationError(fmt.Sprintf("职位状态为 %s, 不参与批量匹配", job.Status))
		tracing.RecordError(span, ve, tracing.ErrorTypeValidation)
		return nil, ve
	}

	// 分布式锁保证同一职位同时只有一轮批量匹配在跑
	lockTTL := config.GetDuration(o.cfg.Matching.BatchLockTTL, 10*time.Minute)
	var lockKey, lockValue string
	if o.progress != nil {
		lockKey = fmt.Sprintf(constants.KeyBatchMatchLock, tenantID, jobID)
		lockValue, err = o.progress.AcquireLock(ctx, lockKey, lockTTL)
		if err != nil {
			log.Warn().Err(err).Msg("获取批量匹配锁失败, 跳过加锁继续执行")
		} else if lockValue == "" {
			dup := types.NewDuplicateError("batch_match", jobID)
			dup.Msg = "该职位的批量匹配正在进行中"
			tracing.RecordError(span, dup, tracing.ErrorTypeValidation)
			return nil, dup
		}
		if lockValue != "" {
			defer func() {
				if _, rErr := o.progress.ReleaseLock(context.WithoutCancel(ctx), lockKey, lockValue); rErr != nil {
					log.Warn().Err(rErr).Msg("释放批量匹配锁失败")
				}
			}()
		}
	}

	matched, err := o.store.MatchedProfileIDs(ctx, tenantID, jobID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, types.NewUpstreamError("查询已匹配档案失败", err)
	}

	profiles, err := o.store.ListAnalyzedProfiles(ctx, tenantID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, types.NewUpstreamError("查询已分析档案失败", err)
	}

	// 待评估集合: 已分析、摘要非空、且尚未与该职位建立记录
	eligible := make([]*models.CandidateProfile, 0, len(profiles))
	analyses := make([]*types.CandidateAnalysis, 0, len(profiles))
	for i := range profiles {
		p := &profiles[i]
		if _, done := matched[p.ProfileID]; done {
			continue
		}
		analysis, ok := decodeAnalysis(p)
		if !ok {
			continue
		}
		eligible = append(eligible, p)
		analyses = append(analyses, analysis)
	}
	report.Total = len(eligible)
	span.SetAttributes(attribute.Int("batch.total", report.Total))

	for i, profile := range eligible {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Msg("批量匹配被取消")
			break
		}

		evaluation, evalErr := o.evaluate(ctx, job, analyses[i])
		if evalErr != nil {
			report.Failed++
			log.Warn().Err(evalErr).Str("profile_id", profile.ProfileID).Msg("候选人匹配评估失败, 继续下一个")
			o.reportProgress(ctx, tenantID, jobID, i+1, report.Total, lockTTL)
			continue
		}

		if _, pErr := o.persistMatch(ctx, tenantID, jobID, profile.ProfileID, evaluation); pErr != nil {
			// 并发写入同一对 (job, profile) 时以先落库者为准
			if types.IsDuplicate(pErr) {
				report.Matched++
			} else {
				report.Failed++
				log.Warn().Err(pErr).Str("profile_id", profile.ProfileID).Msg("匹配记录写入失败, 继续下一个")
			}
			o.reportProgress(ctx, tenantID, jobID, i+1, report.Total, lockTTL)
			continue
		}

		report.Matched++
		o.reportProgress(ctx, tenantID, jobID, i+1, report.Total, lockTTL)
	}

	report.FinishedAt = time.Now()
	span.SetAttributes(attribute.Int("batch.matched", report.Matched), attribute.Int("batch.failed", report.Failed))
	span.SetStatus(codes.Ok, "")
	log.Info().
		Str("job_id", jobID).
		Int("total", report.Total).
		Int("matched", report.Matched).
		Int("failed", report.Failed).
		Msg("批量匹配完成")
	return report, nil
}

// ReadCandidatesForJob 返回该职位的匹配结果视图：
// matched 按分数降序(同分按写入顺序)，unmatched 为已分析但尚未匹配的档案。
func (o *Orchestrator) ReadCandidatesForJob(ctx context.Context, tenantID, jobID string) (*types.JobCandidates, error) {
	ctx, span := o.tracer.Start(ctx, "match.read_candidates", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("job.id", jobID),
	))
	defer span.End()

	if _, err := o.loadJob(ctx, tenantID, jobID); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, err
	}

	records, err := o.store.ListMatchRecordsForJob(ctx, tenantID, jobID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, types.NewUpstreamError("查询匹配记录失败", err)
	}

	profileIDs := make([]string, 0, len(records))
	matchedSet := make(map[string]struct{}, len(records))
	for _, r := range records {
		profileIDs = append(profileIDs, r.ProfileID)
		matchedSet[r.ProfileID] = struct{}{}
	}
	profileByID, err := o.store.GetProfilesByIDs(ctx, tenantID, profileIDs)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, types.NewUpstreamError("查询候选人档案失败", err)
	}

	result := &types.JobCandidates{
		Matched:   make([]types.MatchedCandidate, 0, len(records)),
		Unmatched: make([]types.UnmatchedCandidate, 0),
	}

	for _, r := range records {
		mc := types.MatchedCandidate{
			ProfileID:     r.ProfileID,
			Score:         r.MatchScore,
			Explanation:   r.MatchExplanation,
			MatchedSkills: models.JSONToStringSlice(r.MatchedSkillsJSON),
			MatchedAt:     r.CreatedAt,
		}
		if p, ok := profileByID[r.ProfileID]; ok {
			mc.UserID = p.UserID
			if analysis, aok := decodeAnalysis(&p); aok {
				mc.FullName = analysis.FullName
				mc.ExperienceLevel = analysis.ExperienceLevel
			}
		}
		result.Matched = append(result.Matched, mc)
	}

	analyzed, err := o.store.ListAnalyzedProfiles(ctx, tenantID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, types.NewUpstreamError("查询已分析档案失败", err)
	}
	for i := range analyzed {
		p := &analyzed[i]
		if _, done := matchedSet[p.ProfileID]; done {
			continue
		}
		uc := types.UnmatchedCandidate{
			ProfileID: p.ProfileID,
			UserID:    p.UserID,
			Skills:    []string{},
		}
		if analysis, ok := decodeAnalysis(p); ok {
			uc.FullName = analysis.FullName
			uc.ExperienceLevel = analysis.ExperienceLevel
			uc.Skills = analysis.Skills
		}
		result.Unmatched = append(result.Unmatched, uc)
	}

	span.SetAttributes(
		attribute.Int("candidates.matched", len(result.Matched)),
		attribute.Int("candidates.unmatched", len(result.Unmatched)),
	)
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (o *Orchestrator) loadJob(ctx context.Context, tenantID, jobID string) (*models.JobPosting, error) {
	job, err := o.store.GetJobPostingByID(ctx, tenantID, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewNotFoundError("job_posting", jobID)
		}
		return nil, types.NewUpstreamError("查询职位失败", err)
	}
	return job, nil
}

func (o *Orchestrator) evaluate(ctx context.Context, job *models.JobPosting, analysis *types.CandidateAnalysis) (*types.MatchEvaluation, error) {
	timeout := config.GetDuration(o.cfg.Matching.EvalTimeout, 60*time.Second)
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	evaluation, err := o.matcher.Evaluate(evalCtx, condenseJob(job), condenseProfile(analysis))
	if err != nil {
		return nil, err
	}
	if evaluation.Score < constants.MatchScoreMin || evaluation.Score > constants.MatchScoreMax {
		return nil, types.NewValidationError(fmt.Sprintf("匹配分数 %d 超出 [%d, %d]", evaluation.Score, constants.MatchScoreMin, constants.MatchScoreMax))
	}
	return evaluation, nil
}

func (o *Orchestrator) persistMatch(ctx context.Context, tenantID, jobID, profileID string, evaluation *types.MatchEvaluation) (*models.MatchRecord, error) {
	skillsJSON, err := models.StringSliceToJSON(evaluation.MatchedSkills)
	if err != nil {
		return nil, types.NewUpstreamError("序列化命中技能失败", err)
	}
	record := &models.MatchRecord{
		TenantID:          tenantID,
		JobID:             jobID,
		ProfileID:         profileID,
		Status:            constants.MatchStatusMatched,
		MatchScore:        evaluation.Score,
		MatchExplanation:  evaluation.Explanation,
		MatchedSkillsJSON: skillsJSON,
	}
	if err := o.store.CreateMatchRecord(ctx, record); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, types.NewDuplicateError("match_record", jobID+"/"+profileID)
		}
		return nil, types.NewUpstreamError("写入匹配记录失败", err)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	return record, nil
}

func (o *Orchestrator) reportProgress(ctx context.Context, tenantID, jobID string, processed, total int, ttl time.Duration) {
	if o.progress == nil {
		return
	}
	if err := o.progress.SetBatchProgress(ctx, tenantID, jobID, processed, total, ttl); err != nil {
		logger.FromContext(ctx).Debug().Err(err).Msg("批量匹配进度写入失败")
	}
}

// decodeAnalysis 解析档案上的结构化画像。
// 档案状态必须是 analyzed 且摘要非空才视为可参与匹配。
func decodeAnalysis(profile *models.CandidateProfile) (*types.CandidateAnalysis, bool) {
	if profile.Status != constants.ProfileStatusAnalyzed || len(profile.AnalysisResult) == 0 {
		return nil, false
	}
	var analysis types.CandidateAnalysis
	if err := json.Unmarshal(profile.AnalysisResult, &analysis); err != nil {
		return nil, false
	}
	if strings.TrimSpace(analysis.Summary) == "" {
		return nil, false
	}
	return &analysis, true
}

// condenseJob 将职位压缩成匹配提示词里的岗位描述段落。
func condenseJob(job *models.JobPosting) string {
	var sb strings.Builder
	sb.WriteString("职位: ")
	sb.WriteString(job.Title)
	sb.WriteString("\n")
	if skills := models.JSONToStringSlice(job.RequiredSkillsJSON); len(skills) > 0 {
		sb.WriteString("要求技能: ")
		sb.WriteString(strings.Join(skills, ", "))
		sb.WriteString("\n")
	}
	sb.WriteString(job.Description)
	return sb.String()
}

// condenseProfile 将档案画像压缩成匹配提示词里的候选人段落。
func condenseProfile(analysis *types.CandidateAnalysis) string {
	var sb strings.Builder
	if analysis.FullName != "" {
		sb.WriteString("姓名: ")
		sb.WriteString(analysis.FullName)
		sb.WriteString("\n")
	}
	sb.WriteString("经验级别: ")
	sb.WriteString(analysis.ExperienceLevel)
	sb.WriteString("\n摘要: ")
	sb.WriteString(analysis.Summary)
	if len(analysis.Skills) > 0 {
		sb.WriteString("\n技能: ")
		sb.WriteString(strings.Join(analysis.Skills, ", "))
	}
	return sb.String()
}
