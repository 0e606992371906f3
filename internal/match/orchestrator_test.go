package match

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"talent-match-go/internal/config"
	"talent-match-go/internal/constants"
	"talent-match-go/internal/storage/models"
	"talent-match-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const validAnalysisJSON = `{
	"full_name": "张大明",
	"contact": {"email": "zdm@example.com", "phone": "13711223344"},
	"summary": "5年Java/Go后端开发经验，主导过核心交易系统的微服务改造。",
	"skills": ["Go", "Java", "MySQL", "Redis"],
	"experience_level": "Senior"
}`

const testTenantID = "tenant-1"

// fakeMatchStore 是 Store 的内存实现, 缺失与冲突语义与 MySQL 实现一致:
// 实体缺失返回 gorm.ErrRecordNotFound, (job, profile) 冲突返回 gorm.ErrDuplicatedKey。
type fakeMatchStore struct {
	jobs       map[string]*models.JobPosting
	profiles   []models.CandidateProfile
	records    []models.MatchRecord
	nextRecord uint64
	failCreate error
}

func newFakeMatchStore() *fakeMatchStore {
	return &fakeMatchStore{jobs: make(map[string]*models.JobPosting)}
}

func (s *fakeMatchStore) addJob(job *models.JobPosting) {
	s.jobs[job.TenantID+"|"+job.JobID] = job
}

func (s *fakeMatchStore) GetJobPostingByID(_ context.Context, tenantID, jobID string) (*models.JobPosting, error) {
	if job, ok := s.jobs[tenantID+"|"+jobID]; ok {
		return job, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeMatchStore) GetProfileByID(_ context.Context, tenantID, profileID string) (*models.CandidateProfile, error) {
	for i := range s.profiles {
		if s.profiles[i].TenantID == tenantID && s.profiles[i].ProfileID == profileID {
			return &s.profiles[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeMatchStore) ListAnalyzedProfiles(_ context.Context, tenantID string) ([]models.CandidateProfile, error) {
	out := make([]models.CandidateProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if p.TenantID == tenantID && p.Status == constants.ProfileStatusAnalyzed {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeMatchStore) GetProfilesByIDs(_ context.Context, tenantID string, profileIDs []string) (map[string]models.CandidateProfile, error) {
	wanted := make(map[string]struct{}, len(profileIDs))
	for _, id := range profileIDs {
		wanted[id] = struct{}{}
	}
	out := make(map[string]models.CandidateProfile, len(profileIDs))
	for _, p := range s.profiles {
		if _, ok := wanted[p.ProfileID]; ok && p.TenantID == tenantID {
			out[p.ProfileID] = p
		}
	}
	return out, nil
}

func (s *fakeMatchStore) HasMatchRecord(_ context.Context, tenantID, jobID, profileID string) (bool, error) {
	for _, r := range s.records {
		if r.TenantID == tenantID && r.JobID == jobID && r.ProfileID == profileID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeMatchStore) MatchedProfileIDs(_ context.Context, tenantID, jobID string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for _, r := range s.records {
		if r.TenantID == tenantID && r.JobID == jobID {
			out[r.ProfileID] = struct{}{}
		}
	}
	return out, nil
}

func (s *fakeMatchStore) CreateMatchRecord(_ context.Context, record *models.MatchRecord) error {
	if s.failCreate != nil {
		return s.failCreate
	}
	for _, r := range s.records {
		if r.JobID == record.JobID && r.ProfileID == record.ProfileID {
			return gorm.ErrDuplicatedKey
		}
	}
	s.nextRecord++
	record.RecordID = s.nextRecord
	record.CreatedAt = time.Now()
	s.records = append(s.records, *record)
	return nil
}

func (s *fakeMatchStore) ListMatchRecordsForJob(_ context.Context, tenantID, jobID string) ([]models.MatchRecord, error) {
	out := make([]models.MatchRecord, 0, len(s.records))
	for _, r := range s.records {
		if r.TenantID == tenantID && r.JobID == jobID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MatchScore != out[j].MatchScore {
			return out[i].MatchScore > out[j].MatchScore
		}
		return out[i].RecordID < out[j].RecordID
	})
	return out, nil
}

// fakeMatcher 按候选人姓名返回预设的评估结果, 未配置的姓名得到默认 70 分。
type fakeMatcher struct {
	scoreByName map[string]int
	errByName   map[string]error
	calls       int
}

func (m *fakeMatcher) Evaluate(_ context.Context, _, profileText string) (*types.MatchEvaluation, error) {
	m.calls++
	for name, err := range m.errByName {
		if strings.Contains(profileText, name) {
			return nil, err
		}
	}
	for name, score := range m.scoreByName {
		if strings.Contains(profileText, name) {
			return &types.MatchEvaluation{Score: score, Explanation: "技能与岗位要求契合", MatchedSkills: []string{"Go"}}, nil
		}
	}
	return &types.MatchEvaluation{Score: 70, Explanation: "基本符合岗位要求", MatchedSkills: []string{"Go"}}, nil
}

func openJob(jobID string) *models.JobPosting {
	return &models.JobPosting{
		JobID:       jobID,
		TenantID:    testTenantID,
		Title:       "资深后端开发工程师",
		Description: "负责核心交易系统的设计和开发。",
		Status:      constants.JobStatusOpen,
	}
}

func analyzedProfile(profileID, userID, fullName string) models.CandidateProfile {
	result := fmt.Sprintf(`{
		"full_name": %q,
		"contact": {"email": "candidate@example.com", "phone": ""},
		"summary": "多年后端开发经验, 熟悉分布式系统。",
		"skills": ["Go", "MySQL"],
		"experience_level": "Senior"
	}`, fullName)
	return models.CandidateProfile{
		ProfileID:      profileID,
		TenantID:       testTenantID,
		UserID:         userID,
		Status:         constants.ProfileStatusAnalyzed,
		AnalysisResult: datatypes.JSON(result),
	}
}

func newTestOrchestrator(store Store, matcher Matcher) *Orchestrator {
	return NewOrchestrator(&config.Config{}, store, nil, matcher)
}

func TestMatchOne(t *testing.T) {
	ctx := context.Background()

	t.Run("职位不存在", func(t *testing.T) {
		store := newFakeMatchStore()
		store.profiles = append(store.profiles, analyzedProfile("p1", "u1", "张大明"))
		o := newTestOrchestrator(store, &fakeMatcher{})

		_, err := o.MatchOne(ctx, testTenantID, "missing-job", "p1")
		require.Error(t, err)
		assert.True(t, types.IsNotFound(err))
	})

	t.Run("档案不存在", func(t *testing.T) {
		store := newFakeMatchStore()
		store.addJob(openJob("j1"))
		o := newTestOrchestrator(store, &fakeMatcher{})

		_, err := o.MatchOne(ctx, testTenantID, "j1", "missing-profile")
		require.Error(t, err)
		assert.True(t, types.IsNotFound(err))
	})

	t.Run("其他租户的档案不可见", func(t *testing.T) {
		store := newFakeMatchStore()
		store.addJob(openJob("j1"))
		other := analyzedProfile("p1", "u1", "张大明")
		other.TenantID = "tenant-2"
		store.profiles = append(store.profiles, other)
		o := newTestOrchestrator(store, &fakeMatcher{})

		_, err := o.MatchOne(ctx, testTenantID, "j1", "p1")
		require.Error(t, err)
		assert.True(t, types.IsNotFound(err))
	})

	t.Run("已有记录时重复判定先于就绪判定", func(t *testing.T) {
		// 档案已落过记录后又被重新上传回到待分析, 此时应报重复而不是未就绪
		store := newFakeMatchStore()
		store.addJob(openJob("j1"))
		profile := analyzedProfile("p1", "u1", "张大明")
		profile.Status = constants.ProfileStatusPendingAnalysis
		profile.AnalysisResult = nil
		store.profiles = append(store.profiles, profile)
		store.records = append(store.records, models.MatchRecord{
			RecordID: 1, TenantID: testTenantID, JobID: "j1", ProfileID: "p1",
			Status: constants.MatchStatusMatched, MatchScore: 80,
		})
		o := newTestOrchestrator(store, &fakeMatcher{})

		_, err := o.MatchOne(ctx, testTenantID, "j1", "p1")
		require.Error(t, err)
		assert.True(t, types.IsDuplicate(err))
	})

	t.Run("档案未完成分析", func(t *testing.T) {
		store := newFakeMatchStore()
		store.addJob(openJob("j1"))
		profile := analyzedProfile("p1", "u1", "张大明")
		profile.Status = constants.ProfileStatusPendingAnalysis
		profile.AnalysisResult = nil
		store.profiles = append(store.profiles, profile)
		o := newTestOrchestrator(store, &fakeMatcher{})

		_, err := o.MatchOne(ctx, testTenantID, "j1", "p1")
		require.Error(t, err)
		assert.True(t, types.IsNotReady(err))
	})

	t.Run("匹配成功并落库", func(t *testing.T) {
		store := newFakeMatchStore()
		store.addJob(openJob("j1"))
		store.profiles = append(store.profiles, analyzedProfile("p1", "u1", "张大明"))
		matcher := &fakeMatcher{scoreByName: map[string]int{"张大明": 85}}
		o := newTestOrchestrator(store, matcher)

		mc, err := o.MatchOne(ctx, testTenantID, "j1", "p1")
		require.NoError(t, err)
		assert.Equal(t, "p1", mc.ProfileID)
		assert.Equal(t, "张大明", mc.FullName)
		assert.Equal(t, 85, mc.Score)
		assert.Equal(t, []string{"Go"}, mc.MatchedSkills)
		require.Len(t, store.records, 1)
		assert.Equal(t, constants.MatchStatusMatched, store.records[0].Status)
	})

	t.Run("重复匹配同一对职位与档案", func(t *testing.T) {
		store := newFakeMatchStore()
		store.addJob(openJob("j1"))
		store.profiles = append(store.profiles, analyzedProfile("p1", "u1", "张大明"))
		o := newTestOrchestrator(store, &fakeMatcher{})

		_, err := o.MatchOne(ctx, testTenantID, "j1", "p1")
		require.NoError(t, err)
		_, err = o.MatchOne(ctx, testTenantID, "j1", "p1")
		require.Error(t, err)
		assert.True(t, types.IsDuplicate(err))
		assert.Len(t, store.records, 1)
	})

	t.Run("分数越界不落库", func(t *testing.T) {
		store := newFakeMatchStore()
		store.addJob(openJob("j1"))
		store.profiles = append(store.profiles, analyzedProfile("p1", "u1", "张大明"))
		matcher := &fakeMatcher{scoreByName: map[string]int{"张大明": 150}}
		o := newTestOrchestrator(store, matcher)

		_, err := o.MatchOne(ctx, testTenantID, "j1", "p1")
		require.Error(t, err)
		assert.True(t, types.IsValidation(err))
		assert.Empty(t, store.records)
	})

	t.Run("并发写入冲突返回重复错误", func(t *testing.T) {
		store := newFakeMatchStore()
		store.addJob(openJob("j1"))
		store.profiles = append(store.profiles, analyzedProfile("p1", "u1", "张大明"))
		store.failCreate = gorm.ErrDuplicatedKey
		o := newTestOrchestrator(store, &fakeMatcher{})

		_, err := o.MatchOne(ctx, testTenantID, "j1", "p1")
		require.Error(t, err)
		assert.True(t, types.IsDuplicate(err))
	})
}

func TestRunBatchForJob(t *testing.T) {
	ctx := context.Background()

	t.Run("只评估尚未匹配的已分析档案", func(t *testing.T) {
		store := newFakeMatchStore()
		store.addJob(openJob("j1"))
		store.profiles = append(store.profiles,
			analyzedProfile("p1", "u1", "张大明"),
			analyzedProfile("p2", "u2", "李小红"),
		)
		pending := analyzedProfile("p3", "u3", "王五")
		pending.Status = constants.ProfileStatusPendingAnalysis
		pending.AnalysisResult = nil
		store.profiles = append(store.profiles, pending)
		store.records = append(store.records, models.MatchRecord{
			RecordID: 1, TenantID: testTenantID, JobID: "j1", ProfileID: "p1",
			Status: constants.MatchStatusMatched, MatchScore: 90,
		})
		store.nextRecord = 1
		matcher := &fakeMatcher{}
		o := newTestOrchestrator(store, matcher)

		report, err := o.RunBatchForJob(ctx, testTenantID, "j1")
		require.NoError(t, err)
		assert.Equal(t, 1, report.Total)
		assert.Equal(t, 1, report.Matched)
		assert.Equal(t, 0, report.Failed)
		assert.Equal(t, 1, matcher.calls, "已匹配与未分析的档案都不应再送评估")
		assert.Len(t, store.records, 2)
	})

	t.Run("重复执行是幂等的", func(t *testing.T) {
		store := newFakeMatchStore()
		store.addJob(openJob("j1"))
		store.profiles = append(store.profiles,
			analyzedProfile("p1", "u1", "张大明"),
			analyzedProfile("p2", "u2", "李小红"),
		)
		o := newTestOrchestrator(store, &fakeMatcher{})

		first, err := o.RunBatchForJob(ctx, testTenantID, "j1")
		require.NoError(t, err)
		assert.Equal(t, 2, first.Matched)

		second, err := o.RunBatchForJob(ctx, testTenantID, "j1")
		require.NoError(t, err)
		assert.Equal(t, 0, second.Total)
		assert.Equal(t, 0, second.Matched)
		assert.Len(t, store.records, 2)
	})

	t.Run("批量后单人匹配同一候选人返回重复", func(t *testing.T) {
		store := newFakeMatchStore()
		store.addJob(openJob("j1"))
		store.profiles = append(store.profiles, analyzedProfile("p1", "u1", "张大明"))
		o := newTestOrchestrator(store, &fakeMatcher{})

		_, err := o.RunBatchForJob(ctx, testTenantID, "j1")
		require.NoError(t, err)

		_, err = o.MatchOne(ctx, testTenantID, "j1", "p1")
		require.Error(t, err)
		assert.True(t, types.IsDuplicate(err))
		assert.Len(t, store.records, 1)
	})

	t.Run("单个候选人失败不中断整批", func(t *testing.T) {
		store := newFakeMatchStore()
		store.addJob(openJob("j1"))
		store.profiles = append(store.profiles,
			analyzedProfile("p1", "u1", "张大明"),
			analyzedProfile("p2", "u2", "李小红"),
			analyzedProfile("p3", "u3", "王建国"),
		)
		matcher := &fakeMatcher{errByName: map[string]error{"李小红": errors.New("llm timeout")}}
		o := newTestOrchestrator(store, matcher)

		report, err := o.RunBatchForJob(ctx, testTenantID, "j1")
		require.NoError(t, err)
		assert.Equal(t, 3, report.Total)
		assert.Equal(t, 2, report.Matched)
		assert.Equal(t, 1, report.Failed)
		assert.Len(t, store.records, 2)
	})

	t.Run("并发落库冲突以先写入者为准计入成功", func(t *testing.T) {
		store := newFakeMatchStore()
		store.addJob(openJob("j1"))
		store.profiles = append(store.profiles, analyzedProfile("p1", "u1", "张大明"))
		store.failCreate = gorm.ErrDuplicatedKey
		o := newTestOrchestrator(store, &fakeMatcher{})

		report, err := o.RunBatchForJob(ctx, testTenantID, "j1")
		require.NoError(t, err)
		assert.Equal(t, 1, report.Matched)
		assert.Equal(t, 0, report.Failed)
	})

	t.Run("非开放职位不参与批量匹配", func(t *testing.T) {
		store := newFakeMatchStore()
		job := openJob("j1")
		job.Status = constants.JobStatusClosed
		store.addJob(job)
		o := newTestOrchestrator(store, &fakeMatcher{})

		_, err := o.RunBatchForJob(ctx, testTenantID, "j1")
		require.Error(t, err)
		assert.True(t, types.IsValidation(err))
	})

	t.Run("关闭排除开关后非开放职位可批量匹配", func(t *testing.T) {
		store := newFakeMatchStore()
		job := openJob("j1")
		job.Status = constants.JobStatusClosed
		store.addJob(job)
		store.profiles = append(store.profiles, analyzedProfile("p1", "u1", "张大明"))
		cfg := &config.Config{}
		disabled := false
		cfg.Matching.SkipClosedJobs = &disabled
		o := NewOrchestrator(cfg, store, nil, &fakeMatcher{})

		report, err := o.RunBatchForJob(ctx, testTenantID, "j1")
		require.NoError(t, err)
		assert.Equal(t, 1, report.Matched)
	})
}

func TestReadCandidatesForJob(t *testing.T) {
	ctx := context.Background()

	t.Run("职位不存在", func(t *testing.T) {
		o := newTestOrchestrator(newFakeMatchStore(), &fakeMatcher{})
		_, err := o.ReadCandidatesForJob(ctx, testTenantID, "missing-job")
		require.Error(t, err)
		assert.True(t, types.IsNotFound(err))
	})

	t.Run("匹配结果按分数降序且同分保持写入顺序", func(t *testing.T) {
		store := newFakeMatchStore()
		store.addJob(openJob("j1"))
		store.profiles = append(store.profiles,
			analyzedProfile("p1", "u1", "张大明"),
			analyzedProfile("p2", "u2", "李小红"),
			analyzedProfile("p3", "u3", "王建国"),
			analyzedProfile("p4", "u4", "赵强"),
		)
		matcher := &fakeMatcher{scoreByName: map[string]int{"张大明": 70, "李小红": 92, "王建国": 70}}
		o := newTestOrchestrator(store, matcher)

		_, err := o.MatchOne(ctx, testTenantID, "j1", "p1")
		require.NoError(t, err)
		_, err = o.MatchOne(ctx, testTenantID, "j1", "p2")
		require.NoError(t, err)
		_, err = o.MatchOne(ctx, testTenantID, "j1", "p3")
		require.NoError(t, err)

		result, err := o.ReadCandidatesForJob(ctx, testTenantID, "j1")
		require.NoError(t, err)
		require.Len(t, result.Matched, 3)
		assert.Equal(t, "p2", result.Matched[0].ProfileID)
		assert.Equal(t, 92, result.Matched[0].Score)
		// p1 与 p3 同为 70 分, 先写入的 p1 在前
		assert.Equal(t, "p1", result.Matched[1].ProfileID)
		assert.Equal(t, "p3", result.Matched[2].ProfileID)
		assert.Equal(t, "李小红", result.Matched[0].FullName)

		require.Len(t, result.Unmatched, 1)
		assert.Equal(t, "p4", result.Unmatched[0].ProfileID)
		assert.Equal(t, "赵强", result.Unmatched[0].FullName)
		assert.Equal(t, []string{"Go", "MySQL"}, result.Unmatched[0].Skills)
	})

	t.Run("未分析的档案不进入任何列表", func(t *testing.T) {
		store := newFakeMatchStore()
		store.addJob(openJob("j1"))
		pending := analyzedProfile("p1", "u1", "张大明")
		pending.Status = constants.ProfileStatusPendingAnalysis
		pending.AnalysisResult = nil
		failed := analyzedProfile("p2", "u2", "李小红")
		failed.Status = constants.ProfileStatusError
		failed.AnalysisResult = nil
		store.profiles = append(store.profiles, pending, failed)
		o := newTestOrchestrator(store, &fakeMatcher{})

		result, err := o.ReadCandidatesForJob(ctx, testTenantID, "j1")
		require.NoError(t, err)
		assert.Empty(t, result.Matched)
		assert.Empty(t, result.Unmatched)
	})
}

func TestDecodeAnalysis(t *testing.T) {
	t.Run("已分析档案正常解码", func(t *testing.T) {
		profile := &models.CandidateProfile{
			Status:         constants.ProfileStatusAnalyzed,
			AnalysisResult: datatypes.JSON(validAnalysisJSON),
		}
		analysis, ok := decodeAnalysis(profile)
		require.True(t, ok)
		assert.Equal(t, "张大明", analysis.FullName)
		assert.Equal(t, "Senior", analysis.ExperienceLevel)
		assert.Len(t, analysis.Skills, 4)
	})

	t.Run("待分析状态不参与匹配", func(t *testing.T) {
		profile := &models.CandidateProfile{
			Status:         constants.ProfileStatusPendingAnalysis,
			AnalysisResult: datatypes.JSON(validAnalysisJSON),
		}
		_, ok := decodeAnalysis(profile)
		assert.False(t, ok)
	})

	t.Run("分析失败状态不参与匹配", func(t *testing.T) {
		profile := &models.CandidateProfile{
			Status:        constants.ProfileStatusError,
			AnalysisError: "简历中未找到联系邮箱",
		}
		_, ok := decodeAnalysis(profile)
		assert.False(t, ok)
	})

	t.Run("分析结果为空", func(t *testing.T) {
		profile := &models.CandidateProfile{Status: constants.ProfileStatusAnalyzed}
		_, ok := decodeAnalysis(profile)
		assert.False(t, ok)
	})

	t.Run("分析结果JSON损坏", func(t *testing.T) {
		profile := &models.CandidateProfile{
			Status:         constants.ProfileStatusAnalyzed,
			AnalysisResult: datatypes.JSON(`{"summary": `),
		}
		_, ok := decodeAnalysis(profile)
		assert.False(t, ok)
	})

	t.Run("摘要为空白不参与匹配", func(t *testing.T) {
		profile := &models.CandidateProfile{
			Status:         constants.ProfileStatusAnalyzed,
			AnalysisResult: datatypes.JSON(`{"summary": "   ", "experience_level": "Junior"}`),
		}
		_, ok := decodeAnalysis(profile)
		assert.False(t, ok)
	})
}

func TestCondenseJob(t *testing.T) {
	t.Run("含要求技能", func(t *testing.T) {
		job := &models.JobPosting{
			Title:              "资深后端开发工程师",
			Description:        "负责核心交易系统的设计和开发。",
			RequiredSkillsJSON: datatypes.JSON(`["Go", "MySQL", "Redis"]`),
		}
		text := condenseJob(job)
		assert.Contains(t, text, "职位: 资深后端开发工程师")
		assert.Contains(t, text, "要求技能: Go, MySQL, Redis")
		assert.Contains(t, text, "负责核心交易系统的设计和开发。")
	})

	t.Run("技能缺失时省略该段落", func(t *testing.T) {
		job := &models.JobPosting{
			Title:       "产品经理",
			Description: "负责产品规划。",
		}
		text := condenseJob(job)
		assert.NotContains(t, text, "要求技能")
		assert.Contains(t, text, "职位: 产品经理")
	})
}

func TestCondenseProfile(t *testing.T) {
	profile := &models.CandidateProfile{
		Status:         constants.ProfileStatusAnalyzed,
		AnalysisResult: datatypes.JSON(validAnalysisJSON),
	}
	analysis, ok := decodeAnalysis(profile)
	require.True(t, ok)

	t.Run("完整画像", func(t *testing.T) {
		text := condenseProfile(analysis)
		assert.Contains(t, text, "姓名: 张大明")
		assert.Contains(t, text, "经验级别: Senior")
		assert.Contains(t, text, "摘要: 5年Java/Go后端开发经验")
		assert.Contains(t, text, "技能: Go, Java, MySQL, Redis")
	})

	t.Run("姓名与技能缺失时省略对应段落", func(t *testing.T) {
		trimmed := *analysis
		trimmed.FullName = ""
		trimmed.Skills = nil
		text := condenseProfile(&trimmed)
		assert.NotContains(t, text, "姓名:")
		assert.NotContains(t, text, "技能:")
		assert.Contains(t, text, "经验级别: Senior")
	})
}
