package types

import "time"

// CandidateAnalysis 简历结构化分析结果, 以 JSON 形式整体落在档案上
type CandidateAnalysis struct {
	FullName        string   `json:"full_name"`
	Contact         Contact  `json:"contact"`
	Summary         string   `json:"summary" validate:"required"`
	Skills          []string `json:"skills"`
	ExperienceLevel string   `json:"experience_level" validate:"required,oneof=Junior Mid-level Senior Lead Unknown"`
}

// Contact 候选人联系方式
type Contact struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// MatchEvaluation 语义匹配模型的输出
type MatchEvaluation struct {
	Score         int      `json:"match_score" validate:"min=0,max=100"`
	Explanation   string   `json:"match_explanation" validate:"required"`
	MatchedSkills []string `json:"matched_skills"`
}

// UploadItem 批量上传中的单个文件, TaskID 由调用方提供用于进度追踪
type UploadItem struct {
	TaskID   string
	Filename string
	Data     []byte
}

// IngestItemResult 单个上传项的终态
type IngestItemResult struct {
	TaskID    string `json:"task_id"`
	Filename  string `json:"filename"`
	ProfileID string `json:"profile_id,omitempty"`
	Status    string `json:"status"` // success | error
	Error     string `json:"error,omitempty"`
}

// ProgressEvent 上传与分析进度事件, 尽力而为地推送给调用方
type ProgressEvent struct {
	TaskID    string    `json:"task_id"`
	ProfileID string    `json:"profile_id,omitempty"`
	Stage     string    `json:"stage"` // uploading | processing | success | error
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// BatchMatchReport 批量匹配的汇总结果
type BatchMatchReport struct {
	JobID      string    `json:"job_id"`
	Total      int       `json:"total"`
	Matched    int       `json:"matched"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// MatchedCandidate 已匹配列表中的一行, 按分数降序返回
type MatchedCandidate struct {
	ProfileID       string    `json:"profile_id"`
	UserID          string    `json:"user_id"`
	FullName        string    `json:"full_name"`
	ExperienceLevel string    `json:"experience_level"`
	Score           int       `json:"score"`
	Explanation     string    `json:"explanation"`
	MatchedSkills   []string  `json:"matched_skills"`
	MatchedAt       time.Time `json:"matched_at"`
}

// UnmatchedCandidate 已分析但尚未参与该职位匹配的候选人
type UnmatchedCandidate struct {
	ProfileID       string   `json:"profile_id"`
	UserID          string   `json:"user_id"`
	FullName        string   `json:"full_name"`
	ExperienceLevel string   `json:"experience_level"`
	Skills          []string `json:"skills"`
}

// JobCandidates readCandidatesForJob 的完整返回
type JobCandidates struct {
	Matched   []MatchedCandidate   `json:"matched"`
	Unmatched []UnmatchedCandidate `json:"unmatched"`
}
