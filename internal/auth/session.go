// Package auth はブラウザセッション単位の認証状態（AuthState）を管理する。
// Sessionは認証状態の唯一の所有者であり、CheckAuth・Login・Logoutのみが状態を変更する。
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/hitoshi/craveny/internal/backend"
	"github.com/hitoshi/craveny/internal/model"
)

// Backend はSessionが必要とするバックエンド操作のインターフェース。
// backend.Clientの部分集合として定義する。
type Backend interface {
	CookieName() string
	CheckSession(ctx context.Context, token string) (*model.User, error)
	Login(ctx context.Context, email, password string) (*backend.LoginResult, error)
	Logout(ctx context.Context, token string) ([]*http.Cookie, error)
}

// State は認証状態のスナップショット。
type State struct {
	User    *model.User
	Loading bool
}

// IsAuthenticated はユーザーが認証済みかを返す。
func (s State) IsAuthenticated() bool {
	return s.User != nil
}

// IsAdmin はユーザーが管理者かを返す。
func (s State) IsAdmin() bool {
	return s.User.IsAdmin()
}

// Session は1つのブラウザセッションに対する認証状態の所有者。
// ページリクエストごとに生成され、メモリ上にのみ状態を保持する。
type Session struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.RWMutex
	token   string
	user    *model.User
	loading bool
	cookies []*http.Cookie
}

// NewSession はSessionを生成する。初期状態はUser=nil, Loading=true。
// tokenにはブラウザから受け取ったセッションCookieの値を渡す（無ければ空文字）。
func NewSession(b Backend, logger *slog.Logger, token string) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		backend: b,
		logger:  logger,
		token:   token,
		loading: true,
	}
}

// State は現在の認証状態のスナップショットを返す。
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{User: s.user, Loading: s.loading}
}

// Token は現在のセッショントークンを返す。
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Cookies は直近のLogin/Logoutでバックエンドが発行したCookieを返す。
// ハンドラーはこれをブラウザへ中継する。
func (s *Session) Cookies() []*http.Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*http.Cookie, len(s.cookies))
	copy(out, s.cookies)
	return out
}

// CheckAuth はバックエンドにセッションの有効性を問い合わせ、認証状態を更新する。
// 通信エラー・非2xx・authenticated=false・無効化ユーザーはすべて未認証として扱う（fail-closed）。
// 結果にかかわらずLoadingは必ずfalseになる。繰り返し呼び出しても安全。
func (s *Session) CheckAuth(ctx context.Context) {
	token := s.Token()

	var user *model.User
	if token != "" {
		u, err := s.backend.CheckSession(ctx, token)
		if err != nil {
			s.logger.Warn("session check failed",
				slog.String("error", err.Error()),
			)
		} else if u != nil && u.IsActive {
			user = u
		}
	}

	s.mu.Lock()
	s.user = user
	s.loading = false
	s.mu.Unlock()
}

// Login は認証情報をバックエンドへ送信し、成功時にユーザーを設定する。
// 失敗時はバックエンドのdetailを含む *Error を返す。画面遷移は行わない。
func (s *Session) Login(ctx context.Context, email, password string) error {
	res, err := s.backend.Login(ctx, email, password)
	if err != nil {
		return newError(OpLogin, err)
	}
	if !res.User.IsActive {
		return &Error{Op: OpLogin, Message: DefaultLoginMessage}
	}

	token := ""
	for _, c := range res.Cookies {
		if c.Name == s.backend.CookieName() {
			token = c.Value
		}
	}

	// 同時ログインは最後に完了したレスポンスが勝つ
	s.mu.Lock()
	s.user = res.User
	s.loading = false
	s.cookies = res.Cookies
	if token != "" {
		s.token = token
	}
	s.mu.Unlock()

	return nil
}

// Logout はバックエンドのセッションを終了し、成功時にユーザーを無条件でクリアする。
// 失敗時は *Error を返し、状態は変更しない。画面遷移は行わない。
func (s *Session) Logout(ctx context.Context) error {
	cookies, err := s.backend.Logout(ctx, s.Token())
	if err != nil {
		return newError(OpLogout, err)
	}

	s.mu.Lock()
	s.user = nil
	s.loading = false
	s.token = ""
	s.cookies = cookies
	s.mu.Unlock()

	return nil
}

// sessionContextKey はコンテキストにSessionを格納するためのキー。
type sessionContextKey struct{}

// WithSession はコンテキストにSessionを注入する。
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// FromContext はコンテキストからSessionを取得する。
// AuthProviderミドルウェアを通過していない場合はErrNoSessionを返す。
func FromContext(ctx context.Context) (*Session, error) {
	s, ok := ctx.Value(sessionContextKey{}).(*Session)
	if !ok || s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}

// StateFromContext はコンテキスト中のSessionの状態を返す。
// Sessionが無い場合はLoading状態を返す（判定を保留させるため）。
func StateFromContext(ctx context.Context) State {
	s, err := FromContext(ctx)
	if err != nil {
		return State{Loading: true}
	}
	return s.State()
}

// ErrNoSession はコンテキストにSessionが存在しないことを表す。
var ErrNoSession = errors.New("auth session not found in context")
