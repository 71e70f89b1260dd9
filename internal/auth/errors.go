package auth

import (
	"errors"

	"github.com/hitoshi/craveny/internal/backend"
)

// Op はユーザー起点の認証操作の種別。
type Op string

const (
	OpLogin  Op = "login"
	OpLogout Op = "logout"
)

// 既定のエラーメッセージ
const (
	DefaultLoginMessage  = "login failed"
	DefaultLogoutMessage = "logout failed"
)

// Error はLogin/Logoutの失敗を表す。
// Messageは画面にそのまま表示できる文言で、ログインではバックエンドのdetailを優先する。
type Error struct {
	Op      Op
	Status  int // バックエンドのHTTPステータス。通信エラー時は0
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	return e.Message
}

// Unwrap は元のエラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// newError はバックエンドのエラーから *Error を生成する。
// ログアウトはバックエンドのdetailを使わず固定文言とする。
func newError(op Op, err error) *Error {
	e := &Error{Op: op, Err: err, Message: DefaultLoginMessage}
	if op == OpLogout {
		e.Message = DefaultLogoutMessage
	}

	var se *backend.StatusError
	if errors.As(err, &se) {
		e.Status = se.StatusCode
		if op == OpLogin && se.Detail != "" {
			e.Message = se.Detail
		}
	}
	return e
}
