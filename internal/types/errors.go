package types

import (
	"errors"
	"fmt"
)

// 错误分类哨兵, 全链路用 errors.Is 判断类别
var (
	// ErrValidation 输入不合法, 调用方可修正后重试
	ErrValidation = errors.New("validation failed")
	// ErrNotFound 实体不存在, 跨租户访问也归入此类
	ErrNotFound = errors.New("entity not found")
	// ErrNotReady 候选人档案还未完成分析
	ErrNotReady = errors.New("candidate profile not ready")
	// ErrDuplicate 唯一约束冲突, 如重复的匹配记录
	ErrDuplicate = errors.New("duplicate entity")
	// ErrUpstream 依赖的外部服务失败 (LLM、对象存储等)
	ErrUpstream = errors.New("upstream dependency failed")
)

// DomainError 携带类别哨兵与上下文信息的领域错误
type DomainError struct {
	Kind   error  // 上面的哨兵之一
	Entity string // 相关实体, 如 "job_posting"
	Ref    string // 实体标识, 可为空
	Msg    string // 人类可读的说明
	Cause  error  // 底层错误, 可为空
}

func (e *DomainError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Entity != "" && e.Ref != "" {
		msg = fmt.Sprintf("%s [%s=%s]", msg, e.Entity, e.Ref)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return e.Kind
}

// Is 同时匹配类别哨兵与底层错误链
func (e *DomainError) Is(target error) bool {
	if errors.Is(e.Kind, target) {
		return true
	}
	return e.Cause != nil && errors.Is(e.Cause, target)
}

// NewValidationError 输入校验失败
func NewValidationError(msg string) *DomainError {
	return &DomainError{Kind: ErrValidation, Msg: msg}
}

// NewNotFoundError 实体缺失
func NewNotFoundError(entity, ref string) *DomainError {
	return &DomainError{Kind: ErrNotFound, Entity: entity, Ref: ref, Msg: entity + " 不存在"}
}

// NewNotReadyError 档案尚未分析完成
func NewNotReadyError(profileID string) *DomainError {
	return &DomainError{Kind: ErrNotReady, Entity: "candidate_profile", Ref: profileID, Msg: "候选人档案尚未完成分析"}
}

// NewDuplicateError 唯一约束冲突
func NewDuplicateError(entity, ref string) *DomainError {
	return &DomainError{Kind: ErrDuplicate, Entity: entity, Ref: ref, Msg: entity + " 已存在"}
}

// NewUpstreamError 外部依赖失败
func NewUpstreamError(msg string, cause error) *DomainError {
	return &DomainError{Kind: ErrUpstream, Msg: msg, Cause: cause}
}

// IsValidation 判断是否为输入校验错误
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound 判断是否为实体缺失错误
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsNotReady 判断是否为档案未就绪错误
func IsNotReady(err error) bool { return errors.Is(err, ErrNotReady) }

// IsDuplicate 判断是否为唯一约束冲突
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicate) }

// IsUpstream 判断是否为外部依赖错误
func IsUpstream(err error) bool { return errors.Is(err, ErrUpstream) }
