package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/hitoshi/craveny/internal/backend"
	"github.com/hitoshi/craveny/internal/model"
)

// --- モック定義 ---

type mockBackend struct {
	checkFn  func(ctx context.Context, token string) (*model.User, error)
	loginFn  func(ctx context.Context, email, password string) (*backend.LoginResult, error)
	logoutFn func(ctx context.Context, token string) ([]*http.Cookie, error)

	mu         sync.Mutex
	checkCalls int
}

func (m *mockBackend) CookieName() string { return "craveny_session" }

func (m *mockBackend) CheckSession(ctx context.Context, token string) (*model.User, error) {
	m.mu.Lock()
	m.checkCalls++
	m.mu.Unlock()
	if m.checkFn != nil {
		return m.checkFn(ctx, token)
	}
	return nil, nil
}

func (m *mockBackend) Login(ctx context.Context, email, password string) (*backend.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockBackend) Logout(ctx context.Context, token string) ([]*http.Cookie, error) {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return nil, nil
}

func activeUser(id int64, role model.Role) *model.User {
	return &model.User{ID: id, Email: "a@b.com", Nickname: "a", Role: role, IsActive: true}
}

// tokenBackend はトークンとユーザーの対応を持つ簡易バックエンド。
func tokenBackend(sessions map[string]*model.User) *mockBackend {
	return &mockBackend{
		checkFn: func(ctx context.Context, token string) (*model.User, error) {
			return sessions[token], nil
		},
	}
}

// --- テスト ---

func TestNewSession_InitialStateIsLoading(t *testing.T) {
	s := NewSession(&mockBackend{}, nil, "")

	st := s.State()
	if !st.Loading {
		t.Error("initial Loading should be true")
	}
	if st.User != nil {
		t.Error("initial User should be nil")
	}
	if st.IsAuthenticated() || st.IsAdmin() {
		t.Error("initial state must be neither authenticated nor admin")
	}
}

func TestCheckAuth_Authenticated_SetsUser(t *testing.T) {
	b := tokenBackend(map[string]*model.User{"tok": activeUser(1, model.RoleAdmin)})
	s := NewSession(b, nil, "tok")

	s.CheckAuth(context.Background())

	st := s.State()
	if st.Loading {
		t.Error("Loading should be false after CheckAuth")
	}
	if !st.IsAuthenticated() {
		t.Fatal("should be authenticated")
	}
	if !st.IsAdmin() {
		t.Error("should be admin")
	}
}

func TestCheckAuth_NotAuthenticated_ClearsUser(t *testing.T) {
	b := tokenBackend(map[string]*model.User{})
	s := NewSession(b, nil, "stale")

	s.CheckAuth(context.Background())

	st := s.State()
	if st.Loading {
		t.Error("Loading should be false")
	}
	if st.User != nil {
		t.Errorf("User = %+v, want nil", st.User)
	}
}

func TestCheckAuth_NetworkFailure_FailsClosed(t *testing.T) {
	b := &mockBackend{
		checkFn: func(ctx context.Context, token string) (*model.User, error) {
			return nil, errors.New("dial tcp 127.0.0.1:8000: connection refused")
		},
	}
	s := NewSession(b, nil, "tok")

	s.CheckAuth(context.Background())

	st := s.State()
	if st.User != nil {
		t.Error("network failure must leave User nil (fail closed)")
	}
	if st.Loading {
		t.Error("network failure must not leave Loading stuck")
	}
}

func TestCheckAuth_Non2xx_FailsClosed(t *testing.T) {
	b := &mockBackend{
		checkFn: func(ctx context.Context, token string) (*model.User, error) {
			return nil, &backend.StatusError{StatusCode: http.StatusServiceUnavailable}
		},
	}
	s := NewSession(b, nil, "tok")

	s.CheckAuth(context.Background())

	if st := s.State(); st.User != nil || st.Loading {
		t.Errorf("state = %+v, want unauthenticated and loaded", st)
	}
}

func TestCheckAuth_InactiveUser_TreatedAsUnauthenticated(t *testing.T) {
	inactive := activeUser(5, model.RoleAdmin)
	inactive.IsActive = false
	b := tokenBackend(map[string]*model.User{"tok": inactive})
	s := NewSession(b, nil, "tok")

	s.CheckAuth(context.Background())

	if s.State().IsAuthenticated() {
		t.Error("inactive user must be treated as unauthenticated")
	}
}

func TestCheckAuth_NoToken_SkipsBackendCall(t *testing.T) {
	b := &mockBackend{}
	s := NewSession(b, nil, "")

	s.CheckAuth(context.Background())

	if b.checkCalls != 0 {
		t.Errorf("checkCalls = %d, want 0", b.checkCalls)
	}
	if st := s.State(); st.Loading || st.User != nil {
		t.Errorf("state = %+v, want unauthenticated and loaded", st)
	}
}

func TestCheckAuth_Idempotent(t *testing.T) {
	b := tokenBackend(map[string]*model.User{"tok": activeUser(9, model.RoleUser)})
	s := NewSession(b, nil, "tok")

	s.CheckAuth(context.Background())
	first := s.State()
	s.CheckAuth(context.Background())
	second := s.State()

	if first.User.ID != second.User.ID || first.Loading != second.Loading {
		t.Errorf("states differ: %+v vs %+v", first, second)
	}
}

func TestCheckAuth_UnknownRole_IsNotAdmin(t *testing.T) {
	u := activeUser(2, model.Role("superuser"))
	b := tokenBackend(map[string]*model.User{"tok": u})
	s := NewSession(b, nil, "tok")

	s.CheckAuth(context.Background())

	st := s.State()
	if !st.IsAuthenticated() {
		t.Fatal("unknown role must not be rejected outright")
	}
	if st.IsAdmin() {
		t.Error("unknown role must be treated as non-admin")
	}
}

func TestLogin_Success_SetsUserAndToken(t *testing.T) {
	b := &mockBackend{
		loginFn: func(ctx context.Context, email, password string) (*backend.LoginResult, error) {
			return &backend.LoginResult{
				User:    activeUser(42, model.RoleUser),
				Cookies: []*http.Cookie{{Name: "craveny_session", Value: "fresh"}},
			}, nil
		},
	}
	s := NewSession(b, nil, "")

	if err := s.Login(context.Background(), "a@b.com", "pw"); err != nil {
		t.Fatalf("Login returned error: %v", err)
	}

	st := s.State()
	if st.User == nil || st.User.ID != 42 {
		t.Errorf("User = %+v, want id 42", st.User)
	}
	if s.Token() != "fresh" {
		t.Errorf("Token = %q, want %q", s.Token(), "fresh")
	}
	if len(s.Cookies()) != 1 {
		t.Errorf("Cookies = %d, want 1", len(s.Cookies()))
	}
}

func TestLogin_InvalidCredentials_ReturnsBackendDetail(t *testing.T) {
	b := &mockBackend{
		loginFn: func(ctx context.Context, email, password string) (*backend.LoginResult, error) {
			return nil, &backend.StatusError{StatusCode: http.StatusUnauthorized, Detail: "invalid credentials"}
		},
	}
	s := NewSession(b, nil, "")

	err := s.Login(context.Background(), "a@b.com", "wrongpass")
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "invalid credentials" {
		t.Errorf("message = %q, want %q", err.Error(), "invalid credentials")
	}

	var ae *Error
	if !errors.As(err, &ae) {
		t.Fatalf("err = %T, want *Error", err)
	}
	if ae.Op != OpLogin || ae.Status != http.StatusUnauthorized {
		t.Errorf("Error = %+v", ae)
	}
	if s.State().User != nil {
		t.Error("failed login must not set User")
	}
}

func TestLogin_NoDetail_FallsBackToGenericMessage(t *testing.T) {
	b := &mockBackend{
		loginFn: func(ctx context.Context, email, password string) (*backend.LoginResult, error) {
			return nil, &backend.StatusError{StatusCode: http.StatusInternalServerError}
		},
	}
	s := NewSession(b, nil, "")

	err := s.Login(context.Background(), "a@b.com", "pw")
	if err == nil || err.Error() != DefaultLoginMessage {
		t.Errorf("err = %v, want %q", err, DefaultLoginMessage)
	}
}

func TestLogin_NetworkError_ReturnsGenericMessage(t *testing.T) {
	netErr := errors.New("connection reset")
	b := &mockBackend{
		loginFn: func(ctx context.Context, email, password string) (*backend.LoginResult, error) {
			return nil, netErr
		},
	}
	s := NewSession(b, nil, "")

	err := s.Login(context.Background(), "a@b.com", "pw")
	if err == nil || err.Error() != DefaultLoginMessage {
		t.Errorf("err = %v, want %q", err, DefaultLoginMessage)
	}
	if !errors.Is(err, netErr) {
		t.Error("error should wrap the transport error")
	}
}

func TestLogin_InactiveUser_Rejected(t *testing.T) {
	u := activeUser(3, model.RoleUser)
	u.IsActive = false
	b := &mockBackend{
		loginFn: func(ctx context.Context, email, password string) (*backend.LoginResult, error) {
			return &backend.LoginResult{User: u}, nil
		},
	}
	s := NewSession(b, nil, "")

	if err := s.Login(context.Background(), "a@b.com", "pw"); err == nil {
		t.Fatal("inactive user login should fail")
	}
	if s.State().IsAuthenticated() {
		t.Error("inactive user must not become authenticated")
	}
}

func TestLoginThenCheckAuth_SameUserID(t *testing.T) {
	sessions := map[string]*model.User{}
	b := tokenBackend(sessions)
	b.loginFn = func(ctx context.Context, email, password string) (*backend.LoginResult, error) {
		u := activeUser(77, model.RoleUser)
		sessions["issued"] = u
		return &backend.LoginResult{
			User:    u,
			Cookies: []*http.Cookie{{Name: "craveny_session", Value: "issued"}},
		}, nil
	}
	s := NewSession(b, nil, "")

	if err := s.Login(context.Background(), "a@b.com", "pw"); err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	loginID := s.State().User.ID

	s.CheckAuth(context.Background())

	st := s.State()
	if st.User == nil {
		t.Fatal("CheckAuth after Login should keep the user")
	}
	if st.User.ID != loginID {
		t.Errorf("user.ID = %d after CheckAuth, want %d", st.User.ID, loginID)
	}
}

func TestLogout_Success_ClearsUser(t *testing.T) {
	var gotToken string
	b := tokenBackend(map[string]*model.User{"tok": activeUser(1, model.RoleAdmin)})
	b.logoutFn = func(ctx context.Context, token string) ([]*http.Cookie, error) {
		gotToken = token
		return []*http.Cookie{{Name: "craveny_session", MaxAge: -1}}, nil
	}
	s := NewSession(b, nil, "tok")
	s.CheckAuth(context.Background())

	if err := s.Logout(context.Background()); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}

	if gotToken != "tok" {
		t.Errorf("logout forwarded token %q, want %q", gotToken, "tok")
	}
	if s.State().IsAuthenticated() {
		t.Error("User should be cleared after logout")
	}
	if s.Token() != "" {
		t.Error("token should be cleared after logout")
	}
}

func TestLogout_Failure_ReturnsErrorAndKeepsUser(t *testing.T) {
	b := tokenBackend(map[string]*model.User{"tok": activeUser(1, model.RoleUser)})
	b.logoutFn = func(ctx context.Context, token string) ([]*http.Cookie, error) {
		return nil, &backend.StatusError{StatusCode: http.StatusInternalServerError, Detail: "boom"}
	}
	s := NewSession(b, nil, "tok")
	s.CheckAuth(context.Background())

	err := s.Logout(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != DefaultLogoutMessage {
		t.Errorf("message = %q, want %q", err.Error(), DefaultLogoutMessage)
	}
	if !s.State().IsAuthenticated() {
		t.Error("failed logout must not clear User")
	}
}

func TestLogoutThenDecide_RedirectsRegardlessOfRequireAdmin(t *testing.T) {
	b := tokenBackend(map[string]*model.User{"tok": activeUser(1, model.RoleAdmin)})
	s := NewSession(b, nil, "tok")
	s.CheckAuth(context.Background())

	if err := s.Logout(context.Background()); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}

	for _, requireAdmin := range []bool{false, true} {
		if got := Decide(s.State(), requireAdmin); got != DecisionRedirectLogin {
			t.Errorf("Decide(requireAdmin=%v) = %v, want redirect_login", requireAdmin, got)
		}
	}
}

func TestLogin_Concurrent_LastWriterWins(t *testing.T) {
	b := &mockBackend{
		loginFn: func(ctx context.Context, email, password string) (*backend.LoginResult, error) {
			return &backend.LoginResult{User: activeUser(1, model.RoleUser)}, nil
		},
	}
	s := NewSession(b, nil, "")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Login(context.Background(), "a@b.com", "pw")
		}()
	}
	wg.Wait()

	if st := s.State(); st.User == nil || st.User.ID != 1 {
		t.Errorf("User = %+v, want id 1", st.User)
	}
}

func TestFromContext_Missing_ReturnsErrNoSession(t *testing.T) {
	_, err := FromContext(context.Background())
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}

	if st := StateFromContext(context.Background()); !st.Loading {
		t.Error("missing session should read as Loading")
	}
}

func TestWithSession_RoundTrip(t *testing.T) {
	s := NewSession(&mockBackend{}, nil, "")
	ctx := WithSession(context.Background(), s)

	got, err := FromContext(ctx)
	if err != nil {
		t.Fatalf("FromContext returned error: %v", err)
	}
	if got != s {
		t.Error("FromContext returned a different session")
	}
}
