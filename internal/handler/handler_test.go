package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hitoshi/craveny/internal/auth"
	"github.com/hitoshi/craveny/internal/backend"
	"github.com/hitoshi/craveny/internal/model"
	"github.com/hitoshi/craveny/internal/view"
)

const testCookieName = "craveny_session"

// --- テスト用モック ---

// mockAuthBackend はauth.Backendのモック。
type mockAuthBackend struct {
	checkFn  func(ctx context.Context, token string) (*model.User, error)
	loginFn  func(ctx context.Context, email, password string) (*backend.LoginResult, error)
	logoutFn func(ctx context.Context, token string) ([]*http.Cookie, error)

	loginCalls atomic.Int32
}

func (m *mockAuthBackend) CookieName() string { return testCookieName }

func (m *mockAuthBackend) CheckSession(ctx context.Context, token string) (*model.User, error) {
	if m.checkFn != nil {
		return m.checkFn(ctx, token)
	}
	return nil, nil
}

func (m *mockAuthBackend) Login(ctx context.Context, email, password string) (*backend.LoginResult, error) {
	m.loginCalls.Add(1)
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, &backend.StatusError{StatusCode: http.StatusUnauthorized}
}

func (m *mockAuthBackend) Logout(ctx context.Context, token string) ([]*http.Cookie, error) {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return nil, nil
}

// mockStatusFetcher はStatusFetcherのモック。
type mockStatusFetcher struct {
	fn func(ctx context.Context, token string) (*model.PredictionStatus, error)
}

func (m *mockStatusFetcher) PredictionStatus(ctx context.Context, token string) (*model.PredictionStatus, error) {
	return m.fn(ctx, token)
}

// mockRefresher はReportRefresherのモック。
type mockRefresher struct {
	fn func(ctx context.Context, stockCode, token string) (*backend.JobResponse, error)
}

func (m *mockRefresher) RefreshReport(ctx context.Context, stockCode, token string) (*backend.JobResponse, error) {
	return m.fn(ctx, stockCode, token)
}

// --- ヘルパー ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPageConfig() PageConfig {
	return PageConfig{LoginPath: "/login", HomePath: "/"}
}

func newTestPageHandler(status StatusFetcher) *PageHandler {
	return NewPageHandler(view.MustNew(), status, testPageConfig(), discardLogger())
}

func testUser(id int64, role model.Role) *model.User {
	return &model.User{ID: id, Email: "kim@example.com", Nickname: "kim", Role: role, IsActive: true}
}

// withSession はCheckAuth済みのSessionをリクエストのコンテキストに注入する。
func withSession(t *testing.T, r *http.Request, b auth.Backend, token string) (*http.Request, *auth.Session) {
	t.Helper()
	s := auth.NewSession(b, discardLogger(), token)
	s.CheckAuth(r.Context())
	return r.WithContext(auth.WithSession(r.Context(), s)), s
}

// sessionFor は指定ユーザーとして認証済みのSessionを注入する。
func sessionFor(t *testing.T, r *http.Request, u *model.User) *http.Request {
	t.Helper()
	b := &mockAuthBackend{checkFn: func(context.Context, string) (*model.User, error) { return u, nil }}
	req, _ := withSession(t, r, b, "tok")
	return req
}

// formRequest はフォーム送信のリクエストを生成する。
func formRequest(method, target string, form url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// findCookie はレスポンスから指定名のSet-Cookieを返す。
func findCookie(res *http.Response, name string) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
