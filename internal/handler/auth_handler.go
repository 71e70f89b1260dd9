package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/craveny/internal/auth"
	"github.com/hitoshi/craveny/internal/metrics"
	"github.com/hitoshi/craveny/internal/middleware"
	"github.com/hitoshi/craveny/internal/view"
)

// フォーム入力が欠けている場合の表示文言
const missingCredentialsMessage = "이메일과 비밀번호를 입력해 주세요."

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieName   string
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はログイン・ログアウトのHTTPハンドラー。
// 認証状態の変更はすべてコンテキスト中のauth.Sessionに委譲する。
type AuthHandler struct {
	pages   *PageHandler
	config  AuthHandlerConfig
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(pages *PageHandler, config AuthHandlerConfig, logger *slog.Logger, mc metrics.MetricsCollector) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &AuthHandler{
		pages:   pages,
		config:  config,
		logger:  logger,
		metrics: mc,
	}
}

// LoginPage はログイン画面を表示する。認証済みであればリダイレクト先へ遷移する。
// GET /login
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	target := SafeRedirect(r.URL.Query().Get("redirect"), h.pages.config.HomePath)

	if auth.StateFromContext(r.Context()).IsAuthenticated() {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}

	h.renderLogin(w, r, http.StatusOK, target, "", "")
}

// Login は認証情報をバックエンドへ送信し、成功時はセッションCookieを中継して遷移する。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	session, err := auth.FromContext(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "login without auth session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	target := SafeRedirect(r.PostFormValue("redirect"), h.pages.config.HomePath)

	if email == "" || password == "" {
		h.renderLogin(w, r, http.StatusBadRequest, target, email, missingCredentialsMessage)
		return
	}

	if err := session.Login(r.Context(), email, password); err != nil {
		h.metrics.RecordLoginAttempt(false)

		status := http.StatusBadGateway
		message := auth.DefaultLoginMessage
		var ae *auth.Error
		if errors.As(err, &ae) {
			message = ae.Message
			if ae.Status >= 400 && ae.Status < 500 {
				status = http.StatusUnauthorized
			}
		}
		h.logger.WarnContext(r.Context(), "login failed",
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		h.renderLogin(w, r, status, target, email, message)
		return
	}

	h.metrics.RecordLoginAttempt(true)
	h.relayCookies(w, session.Cookies())
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// Logout はバックエンドのセッションを終了し、ログイン画面へ遷移する。
// 失敗時は元の画面へ戻し、通知メッセージを表示させる。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session, err := auth.FromContext(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "logout without auth session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	if err := session.Logout(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "logout failed", slog.String("error", err.Error()))
		back := SafeRedirect(r.PostFormValue("redirect"), h.pages.config.HomePath)
		http.Redirect(w, r, withNotice(back, noticeLogoutFailed), http.StatusSeeOther)
		return
	}

	h.relayCookies(w, session.Cookies())
	h.expireSessionCookie(w)
	http.Redirect(w, r, h.pages.config.LoginPath, http.StatusSeeOther)
}

func (h *AuthHandler) renderLogin(w http.ResponseWriter, r *http.Request, status int, target, email, message string) {
	data := h.pages.layoutData(r, "로그인")
	data.ShowNav = false
	data.Redirect = target
	data.Email = email
	data.Error = message
	h.pages.render(w, r, status, view.PageLogin, data)
}

// relayCookies はバックエンドが発行したCookieをブラウザへ中継する。
// Domain・Secureはゲートウェイの設定で上書きする。
func (h *AuthHandler) relayCookies(w http.ResponseWriter, cookies []*http.Cookie) {
	for _, c := range cookies {
		relayed := *c
		relayed.Domain = h.config.CookieDomain
		relayed.Secure = h.config.CookieSecure
		if relayed.Path == "" {
			relayed.Path = "/"
		}
		http.SetCookie(w, &relayed)
	}
}

// expireSessionCookie はブラウザのセッションCookieを削除する。
func (h *AuthHandler) expireSessionCookie(w http.ResponseWriter) {
	if h.config.CookieName == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
