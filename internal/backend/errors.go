package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport 网络不可达、超时、非成功的 HTTP 状态码等传输层失败
	ErrTransport = errors.New("transport failure")
	// ErrValidation 后端明确拒绝了命令（例如认领竞争失败）
	ErrValidation = errors.New("validation failure")
)

// 校验失败的原因
const (
	ReasonAlreadyClaimed    = "already_claimed"
	ReasonNotFound          = "not_found"
	ReasonInvalidTransition = "invalid_transition"
	ReasonStaffNameRequired = "staff_name_required"
	ReasonInvalidID         = "invalid_id"
	ReasonInvalidStatus     = "invalid_status"
	ReasonRejected          = "rejected"
)

// TransportError 传输层失败，调用方可以提示用户重试
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transport failure (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ValidationError 后端（或本地前置校验）拒绝了请求
type ValidationError struct {
	Op         string
	StatusCode int
	Reason     string
	Message    string
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Reason
	}
	return fmt.Sprintf("%s: rejected (%s): %s", e.Op, e.Reason, msg)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// IsTransport 是否为传输层失败
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }

// IsValidation 是否为后端拒绝（校验失败）
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// ReasonOf 返回校验失败的原因，非校验错误返回空字符串
func ReasonOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}
