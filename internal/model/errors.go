package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, backend, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInvalidStockCode   = "INVALID_STOCK_CODE"
	ErrCodeJobTimeout         = "JOB_TIMEOUT"
	ErrCodeJobFailed          = "JOB_FAILED"
	ErrCodeBackendTimeout     = "GATEWAY_TIMEOUT"
	ErrCodeBackendUnavailable = "BAD_GATEWAY"
)

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "login required",
		Category: "auth",
		Action:   "Please log in again.",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "admin privileges required",
		Category: "auth",
		Action:   "Log in with an admin account.",
	}
}

// NewInvalidStockCodeError は銘柄コードが不正な場合のエラーを生成する。
func NewInvalidStockCodeError(code string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStockCode,
		Message:  fmt.Sprintf("invalid stock code: %q", code),
		Category: "validation",
		Action:   "Use an alphanumeric stock code.",
	}
}

// NewJobTimeoutError はバックエンドジョブのタイムアウトエラーを生成する。
func NewJobTimeoutError() *APIError {
	return &APIError{
		Code:     ErrCodeJobTimeout,
		Message:  "request timed out",
		Category: "backend",
		Action:   "The job may still be running on the backend. Check its status later.",
	}
}

// NewJobFailedError はバックエンドジョブの呼び出し失敗エラーを生成する。
func NewJobFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeJobFailed,
		Message:  fmt.Sprintf("job failed: %s", reason),
		Category: "backend",
		Action:   "Please wait and retry.",
	}
}

// NewBackendTimeoutError はプロキシ先のタイムアウトエラーを生成する。
func NewBackendTimeoutError() *APIError {
	return &APIError{
		Code:     ErrCodeBackendTimeout,
		Message:  "backend timed out",
		Category: "backend",
		Action:   "Please wait and retry.",
	}
}

// NewBackendUnavailableError はプロキシ先に接続できない場合のエラーを生成する。
func NewBackendUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeBackendUnavailable,
		Message:  "backend unavailable",
		Category: "backend",
		Action:   "Please wait and retry.",
	}
}
