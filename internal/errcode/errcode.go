package errcode

import (
	"errors"
	"fmt"
	"strings"
)

// 错误码约定：
// - 0：无错误
// - 4xxx：业务可恢复/告警类错误（例如资源缺失但流程可继续）
// - 5xxx：系统错误（需要中断流程）
const (
	OK               = 0
	NotAuthenticated = 4001
	LimitExceeded    = 4003
	ResourceMissing  = 4004
	ValidationFailed = 4022
	SystemError      = 5000
	GenerationFailed = 5001
)

// 业务错误哨兵值，调用方通过 errors.Is 判断类别。
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotFound         = errors.New("not found")
	ErrNotPublic        = fmt.Errorf("resume is not public: %w", ErrNotFound)
	ErrLimitExceeded    = errors.New("resume limit reached, upgrade to premium")
	ErrGenerationFailed = errors.New("document generation failed")
	// ErrCancelled 表示被新任务取代或主动取消，属于良性结果，不应展示给用户。
	ErrCancelled = errors.New("operation cancelled")
)

// FieldError 描述单个字段的校验失败。
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError 聚合输入校验失败的字段。
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add 追加一个字段错误。
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// OrNil 在没有字段错误时返回 nil，便于直接作为 error 返回。
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// IsValidation 判断错误链中是否包含 ValidationError。
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Generation 将底层错误包装为 ErrGenerationFailed，取消类错误保持原样。
func Generation(stage string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCancelled) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", stage, ErrGenerationFailed, err)
}

// Code 将错误映射为对外错误码。
func Code(err error) int {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrNotAuthenticated):
		return NotAuthenticated
	case errors.Is(err, ErrLimitExceeded):
		return LimitExceeded
	case errors.Is(err, ErrNotFound):
		return ResourceMissing
	case IsValidation(err):
		return ValidationFailed
	case errors.Is(err, ErrGenerationFailed):
		return GenerationFailed
	default:
		return SystemError
	}
}
