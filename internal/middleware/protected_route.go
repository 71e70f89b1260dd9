package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/craveny/internal/auth"
	"github.com/hitoshi/craveny/internal/model"
)

// GuardViews はProtectedRouteが描画する画面のインターフェース。
// handlerパッケージがレイアウト込みで実装する。
type GuardViews interface {
	Loading(w http.ResponseWriter, r *http.Request)
	AccessDenied(w http.ResponseWriter, r *http.Request, state auth.State)
}

// ProtectedRoute はコンテキスト中の認証状態に応じて描画を切り替えるミドルウェアを返す。
// バックエンドは呼ばず、AuthProviderが確定させた状態のみを参照する。
//
//   - Loading中 → ローディング画面（リダイレクトしない）
//   - 未認証 → 303でログイン画面へ（JSONクライアントには401）
//   - 管理者必須で管理者以外 → 403のアクセス拒否画面（JSONクライアントには403のJSON）
//   - それ以外 → 次のハンドラー
func ProtectedRoute(views GuardViews, loginPath string, requireAdmin bool, logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := auth.StateFromContext(r.Context())

			switch auth.Decide(state, requireAdmin) {
			case auth.DecisionLoading:
				views.Loading(w, r)
			case auth.DecisionRedirectLogin:
				if WantsJSON(r) {
					WriteAPIError(w, model.NewUnauthenticatedError())
					return
				}
				http.Redirect(w, r, loginRedirectURL(loginPath, r.URL.Path), http.StatusSeeOther)
			case auth.DecisionForbidden:
				logger.InfoContext(r.Context(), "access denied",
					slog.String("path", r.URL.Path),
					slog.Int64("user_id", state.User.ID),
				)
				if WantsJSON(r) {
					WriteAPIError(w, model.NewForbiddenError())
					return
				}
				views.AccessDenied(w, r, state)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
