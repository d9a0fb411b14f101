// Package apperr 定义业务错误分类，供 API 层映射 HTTP 状态码、
// 任务层判断是否重试。
package apperr

import (
	"errors"
	"fmt"
)

// Kind 表示错误类别。
type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindExternalUnavailable Kind = "external_unavailable" // 外部服务临时不可用，可重试
	KindExternalRejected    Kind = "external_rejected"    // 外部服务明确拒绝，不可重试
	KindFatal               Kind = "fatal"                // 写入时不变式被破坏，必须整体回滚
)

// Error 携带类别、对外消息与可选的字段级明细。
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable 表示该错误是否值得任务层退避重试。
func (e *Error) Retryable() bool { return e.Kind == KindExternalUnavailable }

// New 构造指定类别的错误。
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap 在保留原始错误的同时附加类别与消息。
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation 构造带字段明细的校验错误。
func Validation(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// NotFound 构造资源缺失错误。
func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

// Conflict 构造冲突错误。
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// KindOf 提取错误类别；非 apperr 错误归为 fatal 以外的未知系统错误。
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind 判断错误是否属于指定类别。
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Retryable 判断错误是否值得任务层退避重试。
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
