package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/craveny/internal/metrics"
	"github.com/hitoshi/craveny/internal/model"
)

// UserVerifier はセッショントークンからユーザーを解決するインターフェース。
// backend.Clientの部分集合として定義する。
type UserVerifier interface {
	WhoAmI(ctx context.Context, token string) (*model.User, error)
}

// EdgeGuardConfig はEdgeGuardの設定。
type EdgeGuardConfig struct {
	CookieName  string
	LoginPath   string
	HomePath    string
	AdminPrefix string
	// Exclusions はガードを適用しないパス。"/"で終わるエントリは前方一致、それ以外はそのパスと配下に一致する。
	Exclusions []string
	Timeout    time.Duration
}

// EdgeGuardの判定結果（メトリクスのoutcomeラベル）
const (
	guardOutcomePass           = "pass"
	guardOutcomeNoCookie       = "no_cookie"
	guardOutcomeInvalidSession = "invalid_session"
	guardOutcomeTimeout        = "timeout"
	guardOutcomeForbidden      = "forbidden"
)

// DefaultExclusions はガード対象外とする技術的パスの既定値を返す。
func DefaultExclusions() []string {
	return []string{
		"/api/",
		"/static/",
		"/_next/static/",
		"/_next/image",
		"/favicon.ico",
		"/login",
		"/logout",
		"/health",
		"/metrics",
	}
}

// NewEdgeGuard はページハンドラーより前で認証と管理者権限を検査するミドルウェアを返す。
//
// 検査は次の順で行う。
//  1. セッションCookieが無い、または空 → ログイン画面へリダイレクト（バックエンドは呼ばない）
//  2. WhoAmIがタイムアウト・エラー・無効ユーザー → ログイン画面へリダイレクト
//  3. 管理者パス配下で管理者以外 → ホームへリダイレクト
//
// どの失敗も500にはならない。通過時は検証済みユーザーをコンテキストに注入する。
// 除外パスが管理者パスに一致する設定はエラーとする。
func NewEdgeGuard(config EdgeGuardConfig, verifier UserVerifier, logger *slog.Logger, mc metrics.MetricsCollector) (func(next http.Handler) http.Handler, error) {
	if verifier == nil {
		return nil, errors.New("edge guard: verifier is required")
	}
	if config.CookieName == "" {
		return nil, errors.New("edge guard: cookie name is required")
	}
	if config.Timeout <= 0 {
		return nil, fmt.Errorf("edge guard: timeout must be positive, got %s", config.Timeout)
	}
	if !strings.HasPrefix(config.AdminPrefix, "/") || config.AdminPrefix == "/" {
		return nil, fmt.Errorf("edge guard: invalid admin prefix %q", config.AdminPrefix)
	}
	config.AdminPrefix = strings.TrimSuffix(config.AdminPrefix, "/")
	if config.LoginPath == "" {
		config.LoginPath = "/login"
	}
	if config.HomePath == "" {
		config.HomePath = "/"
	}
	for _, e := range config.Exclusions {
		if exclusionCoversAdmin(e, config.AdminPrefix) {
			return nil, fmt.Errorf("edge guard: exclusion %q would bypass admin prefix %q", e, config.AdminPrefix)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path

			if isExcluded(path, config.Exclusions) {
				next.ServeHTTP(w, r)
				return
			}

			loginURL := loginRedirectURL(config.LoginPath, path)
			status := redirectStatus(r)

			// 1. Cookieの存在確認
			token := SessionToken(r, config.CookieName)
			if token == "" {
				mc.RecordGuardDecision(guardOutcomeNoCookie)
				http.Redirect(w, r, loginURL, status)
				return
			}

			// 2. セッションの有効性確認（タイムアウト付き）
			ctx, cancel := context.WithTimeout(r.Context(), config.Timeout)
			user, err := verifier.WhoAmI(ctx, token)
			cancel()
			if err != nil || user == nil || !user.IsActive {
				outcome := guardOutcomeInvalidSession
				if errors.Is(err, context.DeadlineExceeded) {
					outcome = guardOutcomeTimeout
				}
				attrs := []any{
					slog.String("path", path),
					slog.String("outcome", outcome),
				}
				if err != nil {
					attrs = append(attrs, slog.String("error", err.Error()))
				}
				logger.WarnContext(r.Context(), "session validation failed", attrs...)
				mc.RecordGuardDecision(outcome)
				http.Redirect(w, r, loginURL, status)
				return
			}

			// 3. 管理者パスの権限確認
			if inAdminArea(path, config.AdminPrefix) && !user.IsAdmin() {
				logger.InfoContext(r.Context(), "admin path denied",
					slog.String("path", path),
					slog.Int64("user_id", user.ID),
					slog.String("role", string(user.Role)),
				)
				mc.RecordGuardDecision(guardOutcomeForbidden)
				http.Redirect(w, r, config.HomePath, status)
				return
			}

			annotateUser(r.Context(), user.ID)
			mc.RecordGuardDecision(guardOutcomePass)
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}, nil
}

// loginRedirectURL はログイン画面のURLを元のパスをredirectクエリに付けて組み立てる。
// 空白は "+" ではなく "%20" にエンコードする。
func loginRedirectURL(loginPath, path string) string {
	return loginPath + "?redirect=" + strings.ReplaceAll(url.QueryEscape(path), "+", "%20")
}

// redirectStatus はGET/HEADには307を、それ以外には303を返す。
// 期限切れセッションでのPOSTが本文ごとログイン画面へ再送されないようにする。
func redirectStatus(r *http.Request) int {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return http.StatusTemporaryRedirect
	}
	return http.StatusSeeOther
}

// isExcluded はパスが除外リストのいずれかに一致するかを判定する。
func isExcluded(path string, exclusions []string) bool {
	for _, e := range exclusions {
		if matchExclusion(path, e) {
			return true
		}
	}
	return false
}

func matchExclusion(path, entry string) bool {
	if entry == "" {
		return false
	}
	if strings.HasSuffix(entry, "/") {
		return strings.HasPrefix(path, entry)
	}
	return path == entry || strings.HasPrefix(path, entry+"/")
}

// inAdminArea はパスが管理者パスそのもの、またはその配下かを判定する。
func inAdminArea(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// exclusionCoversAdmin は除外エントリが管理者パスのいずれかを素通りさせるかを判定する。
func exclusionCoversAdmin(entry, prefix string) bool {
	if matchExclusion(prefix, entry) || matchExclusion(prefix+"/", entry) {
		return true
	}
	return inAdminArea(strings.TrimSuffix(entry, "/"), prefix)
}
