package constants

// Redis Key 前缀和格式常量
// 统一命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// NotifyModulePrefix 通知模块
	NotifyModulePrefix = "notify"
	// MatchModulePrefix 匹配模块
	MatchModulePrefix = "match"
	// FileModulePrefix 文件模块
	FileModulePrefix = "file"

	// EntityUser 通知接收用户实体
	EntityUser = "user"
	// EntityLock 分布式锁实体
	EntityLock = "lock"
	// EntityProgress 批量匹配进度实体
	EntityProgress = "progress"
	// EntityDedupSet 去重集合实体
	EntityDedupSet = "dedup_set"

	// KeyNotifyUserChannel 上传进度事件的发布通道 (PUB/SUB)
	// 格式: app:notify:user:{userID}
	KeyNotifyUserChannel = AppPrefix + ":" + NotifyModulePrefix + ":" + EntityUser + ":%s"

	// KeyBatchMatchLock 单职位批量匹配的分布式锁 (STRING)
	// 格式: app:match:lock:{tenantID}:{jobID}
	KeyBatchMatchLock = AppPrefix + ":" + MatchModulePrefix + ":" + EntityLock + ":%s:%s"

	// KeyBatchMatchProgress 批量匹配进度计数 (HASH, 字段 processed/total)
	// 格式: app:match:progress:{tenantID}:{jobID}
	KeyBatchMatchProgress = AppPrefix + ":" + MatchModulePrefix + ":" + EntityProgress + ":%s:%s"

	// KeyFileMD5Set 已上传简历MD5集合, 用于重复上传提示 (SET)
	// 格式: app:file:dedup_set
	KeyFileMD5Set = AppPrefix + ":" + FileModulePrefix + ":" + EntityDedupSet
)
