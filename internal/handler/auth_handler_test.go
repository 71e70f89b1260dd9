package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/craveny/internal/backend"
	"github.com/hitoshi/craveny/internal/model"
)

func newTestAuthHandler() *AuthHandler {
	return NewAuthHandler(newTestPageHandler(nil), AuthHandlerConfig{
		CookieName:   testCookieName,
		CookieDomain: "dash.example.com",
		CookieSecure: true,
	}, discardLogger(), nil)
}

func TestAuthHandler_LoginPage_RendersSafeRedirect(t *testing.T) {
	tests := []struct {
		name     string
		redirect string
		want     string
	}{
		{"local path kept", "/admin/stocks", "/admin/stocks"},
		{"protocol relative rejected", "//evil.example.com", "/"},
		{"absolute URL rejected", "https://evil.example.com/", "/"},
		{"missing falls back to home", "", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestAuthHandler()
			req, _ := withSession(t, httptest.NewRequest(http.MethodGet, "/login?redirect="+url.QueryEscape(tt.redirect), nil), &mockAuthBackend{}, "")

			w := httptest.NewRecorder()
			h.LoginPage(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			want := `name="redirect" value="` + tt.want + `"`
			if !strings.Contains(w.Body.String(), want) {
				t.Errorf("body does not contain %s", want)
			}
		})
	}
}

func TestAuthHandler_LoginPage_AuthenticatedRedirectsToTarget(t *testing.T) {
	h := newTestAuthHandler()
	req := sessionFor(t, httptest.NewRequest(http.MethodGet, "/login?redirect=%2Fstocks", nil), testUser(1, model.RoleUser))

	w := httptest.NewRecorder()
	h.LoginPage(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/stocks" {
		t.Errorf("Location = %q, want /stocks", loc)
	}
}

func TestAuthHandler_Login_MissingFields_Returns400WithoutBackendCall(t *testing.T) {
	h := newTestAuthHandler()
	b := &mockAuthBackend{}
	req, _ := withSession(t, formRequest(http.MethodPost, "/login", url.Values{"email": {"a@b.com"}}), b, "")

	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if b.loginCalls.Load() != 0 {
		t.Error("backend must not be called with missing credentials")
	}
	if !strings.Contains(w.Body.String(), `value="a@b.com"`) {
		t.Error("email should be kept in the form")
	}
}

func TestAuthHandler_Login_InvalidCredentials_ShowsBackendDetail(t *testing.T) {
	h := newTestAuthHandler()
	b := &mockAuthBackend{loginFn: func(context.Context, string, string) (*backend.LoginResult, error) {
		return nil, &backend.StatusError{StatusCode: http.StatusUnauthorized, Detail: "invalid credentials"}
	}}
	form := url.Values{"email": {"a@b.com"}, "password": {"wrongpass"}, "redirect": {"/stocks"}}
	req, _ := withSession(t, formRequest(http.MethodPost, "/login", form), b, "")

	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "invalid credentials") {
		t.Error("backend detail should be shown")
	}
	if !strings.Contains(body, `name="redirect" value="/stocks"`) {
		t.Error("redirect target should survive a failed login")
	}
}

func TestAuthHandler_Login_BackendUnreachable_Returns502(t *testing.T) {
	h := newTestAuthHandler()
	b := &mockAuthBackend{loginFn: func(context.Context, string, string) (*backend.LoginResult, error) {
		return nil, errors.New("dial tcp: connection refused")
	}}
	form := url.Values{"email": {"a@b.com"}, "password": {"pw"}}
	req, _ := withSession(t, formRequest(http.MethodPost, "/login", form), b, "")

	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	if !strings.Contains(w.Body.String(), "login failed") {
		t.Error("fallback message should be shown")
	}
}

func TestAuthHandler_Login_Success_RelaysCookieAndRedirects(t *testing.T) {
	h := newTestAuthHandler()
	b := &mockAuthBackend{loginFn: func(context.Context, string, string) (*backend.LoginResult, error) {
		return &backend.LoginResult{
			User:    testUser(7, model.RoleAdmin),
			Cookies: []*http.Cookie{{Name: testCookieName, Value: "new-token", HttpOnly: true, Domain: "backend.internal"}},
		}, nil
	}}
	form := url.Values{"email": {"a@b.com"}, "password": {"pw"}, "redirect": {"/admin/users"}}
	req, _ := withSession(t, formRequest(http.MethodPost, "/login", form), b, "")

	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/admin/users" {
		t.Errorf("Location = %q, want /admin/users", loc)
	}

	c := findCookie(w.Result(), testCookieName)
	if c == nil {
		t.Fatal("session cookie not relayed")
	}
	if c.Value != "new-token" {
		t.Errorf("cookie value = %q", c.Value)
	}
	if c.Domain != "dash.example.com" || !c.Secure || !c.HttpOnly {
		t.Errorf("cookie attributes not rewritten: %+v", c)
	}
}

func TestAuthHandler_Login_UnsafeRedirectFallsBackToHome(t *testing.T) {
	h := newTestAuthHandler()
	b := &mockAuthBackend{loginFn: func(context.Context, string, string) (*backend.LoginResult, error) {
		return &backend.LoginResult{User: testUser(7, model.RoleUser)}, nil
	}}
	form := url.Values{"email": {"a@b.com"}, "password": {"pw"}, "redirect": {"//evil.example.com"}}
	req, _ := withSession(t, formRequest(http.MethodPost, "/login", form), b, "")

	w := httptest.NewRecorder()
	h.Login(w, req)

	if loc := w.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
}

func TestAuthHandler_Logout_Success_ExpiresCookieAndRedirectsToLogin(t *testing.T) {
	h := newTestAuthHandler()
	var gotToken string
	b := &mockAuthBackend{
		checkFn: func(context.Context, string) (*model.User, error) { return testUser(1, model.RoleUser), nil },
		logoutFn: func(_ context.Context, token string) ([]*http.Cookie, error) {
			gotToken = token
			return nil, nil
		},
	}
	req, session := withSession(t, formRequest(http.MethodPost, "/logout", url.Values{"redirect": {"/stocks"}}), b, "tok")

	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/login" {
		t.Errorf("Location = %q, want /login", loc)
	}
	if gotToken != "tok" {
		t.Errorf("logout called with token %q, want tok", gotToken)
	}
	c := findCookie(w.Result(), testCookieName)
	if c == nil || c.MaxAge >= 0 {
		t.Errorf("session cookie should be expired, got %+v", c)
	}
	if session.State().IsAuthenticated() {
		t.Error("session should be cleared after logout")
	}
}

func TestAuthHandler_Logout_Failure_RedirectsBackWithNotice(t *testing.T) {
	h := newTestAuthHandler()
	b := &mockAuthBackend{
		checkFn: func(context.Context, string) (*model.User, error) { return testUser(1, model.RoleUser), nil },
		logoutFn: func(context.Context, string) ([]*http.Cookie, error) {
			return nil, &backend.StatusError{StatusCode: http.StatusInternalServerError}
		},
	}
	req, session := withSession(t, formRequest(http.MethodPost, "/logout", url.Values{"redirect": {"/stocks"}}), b, "tok")

	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/stocks?notice=logout_failed" {
		t.Errorf("Location = %q", loc)
	}
	if findCookie(w.Result(), testCookieName) != nil {
		t.Error("session cookie must be kept when logout fails")
	}
	if !session.State().IsAuthenticated() {
		t.Error("session should remain authenticated after failed logout")
	}
}
