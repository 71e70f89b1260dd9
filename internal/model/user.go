// Package model はドメインモデルを定義する。
package model

// Role はユーザーの権限ロールを表す。
type Role string

const (
	// RoleUser は一般ユーザー。
	RoleUser Role = "user"
	// RoleAdmin は管理者。
	RoleAdmin Role = "admin"
)

// IsAdmin はロールが管理者であるかを返す。
// "admin" 以外の値（未知の値や空文字を含む）はすべて非管理者として扱う。
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// User はバックエンドが返すユーザー情報のクライアント側射影。
// セッション確認レスポンスの有効期間内でのみ信頼し、永続化しない。
type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"is_active"`
}

// IsAdmin はユーザーが管理者であるかを返す。nilレシーバは非管理者。
func (u *User) IsAdmin() bool {
	return u != nil && u.Role.IsAdmin()
}
