package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/craveny/internal/auth"
)

// NewAuthProvider はリクエストごとにauth.Sessionを生成し、CheckAuthを1回だけ実行してから
// コンテキストに注入するミドルウェアを返す。
// 以降のハンドラーはauth.FromContextで同じSessionを参照する。
func NewAuthProvider(b auth.Backend, timeout time.Duration, logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := auth.NewSession(b, logger, SessionToken(r, b.CookieName()))

			ctx := r.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				session.CheckAuth(ctx)
				cancel()
			} else {
				session.CheckAuth(ctx)
			}

			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), session)))
		})
	}
}
