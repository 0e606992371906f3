package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"talent-match-go/internal/config"
	"talent-match-go/internal/constants"
	"talent-match-go/internal/storage/models"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("talent-match-go/storage/mysql")

type gormSpanKey struct{}

// GormTracingPlugin 是一个GORM插件, 为数据库操作生成OpenTelemetry追踪点
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	disableErrSkip bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 为各CRUD操作注册Before和After回调
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}

	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}

	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}

	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}

	if err := cb.Row().Before("gorm:row").Register("otel:before_row", p.before("ROW")); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Register("otel:after_row", p.after()); err != nil {
		return err
	}

	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after()); err != nil {
		return err
	}

	return nil
}

func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}

		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		spanName := fmt.Sprintf("%s %s", operation, tableName)
		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		}

		newCtx, span := p.tracer.Start(ctx, spanName, opts...)

		// span存进Statement上下文, after回调里取出结束
		db.Statement.Context = context.WithValue(newCtx, gormSpanKey{}, span)
	}
}

func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(gormSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))

		if db.Error != nil {
			switch {
			case errors.Is(db.Error, gorm.ErrRecordNotFound):
				// 未找到记录属于正常业务分支, 不按错误上报
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			case errors.Is(db.Error, gorm.ErrDuplicatedKey):
				// 唯一约束冲突是匹配记录去重的权威信号, 同样不算失败
				span.SetAttributes(attribute.String("error.type", "duplicated_key"))
				span.SetStatus(codes.Ok, "duplicated key")
			default:
				span.SetAttributes(attribute.String("error.type", "database_error"))
				span.RecordError(db.Error)
				span.SetStatus(codes.Error, db.Error.Error())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// NewGormTracingPlugin 创建GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		disableErrSkip: true,
	}
}

// MySQL 提供关系数据库功能
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端并迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	var logLevel logger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = logger.Silent
	case 2:
		logLevel = logger.Error
	case 3:
		logLevel = logger.Warn
	case 4:
		logLevel = logger.Info
	default:
		logLevel = logger.Info
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		// 唯一键冲突翻译成 gorm.ErrDuplicatedKey, 上层据此识别重复匹配
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	m := &MySQL{
		db:  db,
		cfg: cfg,
	}

	tracingPlugin := NewGormTracingPlugin(cfg.Database)
	if err := db.Use(tracingPlugin); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	if err := m.autoMigrateSchema(); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	log.Println("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

// autoMigrateSchema 静默迁移所有表结构
func (m *MySQL) autoMigrateSchema() error {
	silentLogger := logger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	silentDB := m.db.Session(&gorm.Session{Logger: silentLogger})

	err := silentDB.AutoMigrate(
		&models.CandidateProfile{},
		&models.JobPosting{},
		&models.MatchRecord{},
		&models.OutboxMessage{},
	)
	if err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Transact 在单个数据库事务中执行 fn, fn 返回错误时整体回滚
func (m *MySQL) Transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return m.db.WithContext(ctx).Transaction(fn)
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// FindOrCreateProfile 查找或创建候选人档案
// 同一租户下每个用户至多一份档案, 并发创建时由唯一索引兜底,
// 冲突后重新查询一次返回已有记录
func (m *MySQL) FindOrCreateProfile(ctx context.Context, tx *gorm.DB, tenantID, userID string) (*models.CandidateProfile, bool, error) {
	ctx, span := mysqlTracer.Start(ctx, "FindOrCreateProfile", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("user.id", userID),
	))
	defer span.End()

	if tenantID == "" || userID == "" {
		err := fmt.Errorf("租户ID和用户ID不能为空")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}

	db := m.db
	if tx != nil {
		db = tx
	}

	var profile models.CandidateProfile
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		First(&profile).Error
	if err == nil {
		span.SetAttributes(attribute.Bool("profile.found", true), attribute.String("profile.id", profile.ProfileID))
		return &profile, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to query profile")
		return nil, false, fmt.Errorf("查询候选人档案失败: %w", err)
	}

	newUUID, err := uuid.NewV7()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to generate UUIDv7")
		return nil, false, fmt.Errorf("生成UUIDv7失败: %w", err)
	}

	newProfile := &models.CandidateProfile{
		ProfileID: newUUID.String(),
		TenantID:  tenantID,
		UserID:    userID,
		Status:    constants.ProfileStatusPendingAnalysis,
	}

	if err := db.WithContext(ctx).Create(newProfile).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 并发竞争对方先建成, 读回已有档案
			var existing models.CandidateProfile
			if qErr := db.WithContext(ctx).
				Where("tenant_id = ? AND user_id = ?", tenantID, userID).
				First(&existing).Error; qErr != nil {
				span.RecordError(qErr)
				span.SetStatus(codes.Error, "failed to reload profile after conflict")
				return nil, false, fmt.Errorf("冲突后重查候选人档案失败: %w", qErr)
			}
			span.SetAttributes(attribute.Bool("profile.found", true), attribute.String("profile.id", existing.ProfileID))
			return &existing, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create profile")
		return nil, false, fmt.Errorf("创建候选人档案失败: %w", err)
	}

	span.SetAttributes(attribute.Bool("profile.found", false), attribute.String("profile.id", newProfile.ProfileID))
	return newProfile, true, nil
}

// GetProfileByID 按租户获取候选人档案, 跨租户访问表现为未找到
func (m *MySQL) GetProfileByID(ctx context.Context, tenantID, profileID string) (*models.CandidateProfile, error) {
	var profile models.CandidateProfile
	err := m.db.WithContext(ctx).
		Where("tenant_id = ? AND profile_id = ?", tenantID, profileID).
		First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetProfileAnyTenant 仅按档案ID获取, 供消费端使用(消息中已带租户信息)
func (m *MySQL) GetProfileAnyTenant(ctx context.Context, profileID string) (*models.CandidateProfile, error) {
	var profile models.CandidateProfile
	err := m.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// UpdateProfileFields 更新档案的多个字段 (可在事务中执行)
func (m *MySQL) UpdateProfileFields(ctx context.Context, tx *gorm.DB, profileID string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	db := m.db
	if tx != nil {
		db = tx
	}
	return db.WithContext(ctx).
		Model(&models.CandidateProfile{}).
		Where("profile_id = ?", profileID).
		Updates(updates).Error
}

// ListAnalyzedProfiles 列出租户下所有已完成分析的档案
func (m *MySQL) ListAnalyzedProfiles(ctx context.Context, tenantID string) ([]models.CandidateProfile, error) {
	var profiles []models.CandidateProfile
	err := m.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, constants.ProfileStatusAnalyzed).
		Order("created_at asc").
		Find(&profiles).Error
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

// GetProfilesByIDs 批量获取档案, 结果按档案ID索引
func (m *MySQL) GetProfilesByIDs(ctx context.Context, tenantID string, profileIDs []string) (map[string]models.CandidateProfile, error) {
	result := make(map[string]models.CandidateProfile, len(profileIDs))
	if len(profileIDs) == 0 {
		return result, nil
	}
	var profiles []models.CandidateProfile
	err := m.db.WithContext(ctx).
		Where("tenant_id = ? AND profile_id IN ?", tenantID, profileIDs).
		Find(&profiles).Error
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		result[p.ProfileID] = p
	}
	return result, nil
}

// CreateJobPosting 创建职位
func (m *MySQL) CreateJobPosting(ctx context.Context, job *models.JobPosting) error {
	return m.db.WithContext(ctx).Create(job).Error
}

// GetJobPostingByID 按租户获取职位
func (m *MySQL) GetJobPostingByID(ctx context.Context, tenantID, jobID string) (*models.JobPosting, error) {
	var job models.JobPosting
	err := m.db.WithContext(ctx).
		Where("tenant_id = ? AND job_id = ?", tenantID, jobID).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobPostings 列出租户下的职位
func (m *MySQL) ListJobPostings(ctx context.Context, tenantID string) ([]models.JobPosting, error) {
	var jobs []models.JobPosting
	err := m.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at desc").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpdateJobPostingStatus 更新职位状态, 返回是否命中记录
func (m *MySQL) UpdateJobPostingStatus(ctx context.Context, tenantID, jobID, status string) (bool, error) {
	result := m.db.WithContext(ctx).
		Model(&models.JobPosting{}).
		Where("tenant_id = ? AND job_id = ?", tenantID, jobID).
		Update("status", status)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CreateMatchRecord 创建匹配记录
// 重复的 (job_id, profile_id) 会返回 gorm.ErrDuplicatedKey
func (m *MySQL) CreateMatchRecord(ctx context.Context, record *models.MatchRecord) error {
	return m.db.WithContext(ctx).Create(record).Error
}

// HasMatchRecord 判断该职位和档案之间是否已有匹配记录
func (m *MySQL) HasMatchRecord(ctx context.Context, tenantID, jobID, profileID string) (bool, error) {
	var count int64
	err := m.db.WithContext(ctx).
		Model(&models.MatchRecord{}).
		Where("tenant_id = ? AND job_id = ? AND profile_id = ?", tenantID, jobID, profileID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MatchedProfileIDs 返回某职位已匹配的档案ID集合
func (m *MySQL) MatchedProfileIDs(ctx context.Context, tenantID, jobID string) (map[string]struct{}, error) {
	var ids []string
	err := m.db.WithContext(ctx).
		Model(&models.MatchRecord{}).
		Where("tenant_id = ? AND job_id = ?", tenantID, jobID).
		Pluck("profile_id", &ids).Error
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// ListMatchRecordsForJob 按分数降序返回某职位的全部匹配记录
// 同分时按写入顺序(自增主键)保持稳定
func (m *MySQL) ListMatchRecordsForJob(ctx context.Context, tenantID, jobID string) ([]models.MatchRecord, error) {
	var records []models.MatchRecord
	err := m.db.WithContext(ctx).
		Where("tenant_id = ? AND job_id = ?", tenantID, jobID).
		Order("match_score desc, record_id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// CreateOutboxMessage 在事务内写入待投递消息
func (m *MySQL) CreateOutboxMessage(ctx context.Context, tx *gorm.DB, msg *models.OutboxMessage) error {
	db := m.db
	if tx != nil {
		db = tx
	}
	return db.WithContext(ctx).Create(msg).Error
}
