package errors

import (
	"deltaflow/pkg/errors/ecode"
	"errors"
	"fmt"
)

// 带错误码的error，响应层通过 DecodeErr 解出 code 和 message
type CodedError struct {
	Code    int
	Message string
	cause   error
}

func (e *CodedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("code=%d message=%s cause=%v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("code=%d message=%s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error { return e.cause }

// New 创建一个带错误码的错误
func New(code int, message string) error {
	if message == "" {
		message = ecode.Text(code)
	}
	return &CodedError{Code: code, Message: message}
}

func Newf(code int, format string, args ...interface{}) error {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装一个底层错误并附加错误码
func Wrap(err error, code int, message string) error {
	if err == nil {
		return nil
	}
	if message == "" {
		message = ecode.Text(code)
	}
	return &CodedError{Code: code, Message: message, cause: err}
}

func Wrapf(err error, code int, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// DecodeErr 从错误中解出错误码和提示信息
// nil 返回 Success，未识别的错误统一归为 Unknown
func DecodeErr(err error) (int, string) {
	if err == nil {
		return ecode.Success, ecode.Text(ecode.Success)
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code, ce.Message
	}
	return ecode.Unknown, err.Error()
}

// IsCode 判断错误链上第一个 CodedError 的错误码是否为 code（更深层的 CodedError 不检查）
func IsCode(err error, code int) bool {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
