package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// CandidateProfile 候选人档案表, 同一租户下每个用户至多一份
type CandidateProfile struct {
	ProfileID        string         `gorm:"type:char(36);primaryKey"`
	TenantID         string         `gorm:"type:char(36);not null;index:idx_cp_tenant_status,priority:1;uniqueIndex:idx_cp_tenant_user_unique,priority:1"`
	UserID           string         `gorm:"type:char(36);not null;uniqueIndex:idx_cp_tenant_user_unique,priority:2"`
	CVObjectKey      string         `gorm:"type:varchar(1024)"` // MinIO中的简历对象键, 重新上传时整体替换
	OriginalFilename string         `gorm:"type:varchar(255)"`
	Status           string         `gorm:"type:varchar(50);default:'pending_analysis';index:idx_cp_tenant_status,priority:2"`
	AnalysisResult   datatypes.JSON `gorm:"type:json"`  // types.CandidateAnalysis 序列化结果
	AnalysisError    string         `gorm:"type:text"`  // 分析失败时的可读原因
	AnalyzedAt       *time.Time     `gorm:"type:datetime(6)"`
	CreatedAt        time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt        time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (CandidateProfile) TableName() string {
	return "candidate_profiles"
}

// JobPosting 职位表
type JobPosting struct {
	JobID              string         `gorm:"type:char(36);primaryKey"`
	TenantID           string         `gorm:"type:char(36);not null;index:idx_jp_tenant_status,priority:1"`
	Title              string         `gorm:"type:varchar(255);not null"`
	Description        string         `gorm:"type:text;not null"`
	RequiredSkillsJSON datatypes.JSON `gorm:"type:json"`
	Status             string         `gorm:"type:varchar(50);default:'open';index:idx_jp_tenant_status,priority:2"`
	CreatedByUserID    string         `gorm:"type:char(36)"`
	CreatedAt          time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt          time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (JobPosting) TableName() string {
	return "job_postings"
}

// MatchRecord 职位-候选人匹配记录表
// (job_id, profile_id) 全局唯一, 记录一旦写入不再修改
// 自增主键保留写入顺序, 同分读取时用它做稳定排序
type MatchRecord struct {
	RecordID          uint64         `gorm:"primaryKey;autoIncrement"`
	TenantID          string         `gorm:"type:char(36);not null;index:idx_mr_tenant_id"`
	JobID             string         `gorm:"type:char(36);not null;index:idx_mr_job_score,priority:1;uniqueIndex:idx_mr_job_profile_unique,priority:1"`
	ProfileID         string         `gorm:"type:char(36);not null;index:idx_mr_profile_id;uniqueIndex:idx_mr_job_profile_unique,priority:2"`
	Status            string         `gorm:"type:varchar(50);default:'matched'"`
	MatchScore        int            `gorm:"type:int;not null;index:idx_mr_job_score,priority:2"`
	MatchExplanation  string         `gorm:"type:text"`
	MatchedSkillsJSON datatypes.JSON `gorm:"type:json"`
	CreatedAt         time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`

	JobPosting       *JobPosting       `gorm:"foreignKey:JobID;references:JobID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	CandidateProfile *CandidateProfile `gorm:"foreignKey:ProfileID;references:ProfileID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (MatchRecord) TableName() string {
	return "match_records"
}

// StringToJSON 将字符串转换为 datatypes.JSON
func StringToJSON(s string) datatypes.JSON {
	return datatypes.JSON(s)
}

// StructToJSON 将任意结构序列化为 datatypes.JSON
func StructToJSON(v interface{}) (datatypes.JSON, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}

// StringSliceToJSON 将字符串切片序列化为 datatypes.JSON, nil 序列化为空数组
func StringSliceToJSON(vals []string) (datatypes.JSON, error) {
	if vals == nil {
		vals = []string{}
	}
	bytes, err := json.Marshal(vals)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}

// JSONToStringSlice 反序列化 JSON 数组, 空值返回空切片
func JSONToStringSlice(data datatypes.JSON) []string {
	if len(data) == 0 {
		return []string{}
	}
	var vals []string
	if err := json.Unmarshal(data, &vals); err != nil {
		return []string{}
	}
	return vals
}
