// Package errors 定义服务端与客户端共用的错误分类。
package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError 带错误码的业务错误
type AppError struct {
	Code    Code              `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"errors,omitempty"`
	Cause   error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is 对分类哨兵按错误码匹配（errors.Is(err, ErrConflict) 对任意 CONFLICT 成立），
// 对具体领域错误要求错误码与消息都相同。
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok || t.Code != e.Code {
		return false
	}
	if _, class := classes[t]; class {
		return true
	}
	return t.Message == e.Message
}

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func InvalidArg(msg string) error {
	return New(CodeInvalidArgument, msg)
}

// InvalidFields 携带字段级校验信息
func InvalidFields(msg string, fields map[string]string) error {
	return &AppError{Code: CodeInvalidArgument, Message: msg, Fields: fields}
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func Conflict(msg string) error {
	return New(CodeConflict, msg)
}

func Unauthorized(msg string) error {
	return New(CodeUnauthenticated, msg)
}

func Forbidden(msg string) error {
	return New(CodePermissionDenied, msg)
}

func NotReady(msg string) error {
	return New(CodeNotReady, msg)
}

func Transport(msg string, cause error) error {
	return Wrap(CodeUnavailable, msg, cause)
}

func Timeout(msg string) error {
	return New(CodeDeadlineExceeded, msg)
}

func Unimplemented(msg string) error {
	return New(CodeUnimplemented, msg)
}

func Internal(msg string) error {
	return New(CodeInternal, msg)
}

// CodeOf 返回错误链上第一个 AppError 的错误码
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *AppError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// As 是标准库 errors.As 的转发，避免调用方同时引入两个 errors 包
func As(err error, target any) bool { return stderrors.As(err, target) }

// Is 是标准库 errors.Is 的转发
func Is(err, target error) bool { return stderrors.Is(err, target) }
