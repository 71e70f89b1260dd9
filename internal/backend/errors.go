package backend

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated はセッションに対応する有効なユーザーが存在しないことを表す。
var ErrUnauthenticated = errors.New("session is not authenticated")

// StatusError はバックエンドが非2xxを返したことを表す。
type StatusError struct {
	StatusCode int
	Detail     string // バックエンドのdetailフィールド（無ければ空）
	Body       []byte
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}
