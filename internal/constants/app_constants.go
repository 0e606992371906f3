package constants

// 候选人档案分析状态
const (
	ProfileStatusPendingAnalysis = "pending_analysis" // 简历已入库, 等待解析
	ProfileStatusAnalyzed        = "analyzed"         // 解析完成, 结构化结果可用
	ProfileStatusError           = "error"            // 解析失败, 原因记录在 analysis_error
)

// 职位状态
const (
	JobStatusOpen     = "open"
	JobStatusClosed   = "closed"
	JobStatusArchived = "archived"
)

// 匹配记录状态, 流水线只会写入 matched
const (
	MatchStatusMatched = "matched"
)

// 经验级别枚举, 由分析模型输出, 未知时回落到 Unknown
const (
	ExperienceLevelJunior  = "Junior"
	ExperienceLevelMid     = "Mid-level"
	ExperienceLevelSenior  = "Senior"
	ExperienceLevelLead    = "Lead"
	ExperienceLevelUnknown = "Unknown"
)

// 上传任务进度阶段, 通过通知通道推送给调用方
const (
	ProgressStageUploading  = "uploading"
	ProgressStageProcessing = "processing"
	ProgressStageSuccess    = "success"
	ProgressStageError      = "error"
)

// 匹配分数边界, 闭区间
const (
	MatchScoreMin = 0
	MatchScoreMax = 100
)

// MinIO 对象键前缀
const (
	CVObjectPrefix = "cv"
)

// RabbitMQ 交换机与队列
const (
	AnalysisExchange     = "profile.analysis.exchange"
	AnalysisQueue        = "profile.analysis.queue"
	AnalysisRoutingKey   = "profile.analysis.requested"
	AnalysisConsumerName = "profile-analysis-consumer"
)

// Outbox 事件类型
const (
	OutboxEventProfileAnalysis = "profile.analysis.requested"
)
