// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/hitoshi/craveny/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はEdgeGuardが検証したユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// ErrNoUser はコンテキストに検証済みユーザーが存在しないことを表す。
var ErrNoUser = errors.New("user not found in context")

// SessionToken はリクエストからセッションCookieの値を取得する。
// Cookieが無い場合は空文字を返す。値は解釈せずそのまま扱う。
func SessionToken(r *http.Request, cookieName string) string {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// UserFromContext はEdgeGuardがコンテキストに注入したユーザーを取得する。
// EdgeGuardを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, error) {
	u, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || u == nil {
		return nil, ErrNoUser
	}
	return u, nil
}

// ContextWithUser はコンテキストにユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}
