// Package backend は予測バックエンドのREST APIクライアントを提供する。
// セッションCookieを転送し、認証・ジョブ起動・タスク状態取得のエンドポイントを呼び出す。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/craveny/internal/metrics"
	"github.com/hitoshi/craveny/internal/model"
)

// maxBodySize はバックエンドレスポンスの読み取り上限。
const maxBodySize = 1 << 20

// Paths はバックエンドの各エンドポイントのパス。
type Paths struct {
	Check            string
	WhoAmI           string
	Login            string
	Logout           string
	ForceUpdate      string // %s に銘柄コードが入る
	PredictionStatus string
}

// DefaultPaths はバックエンドのデフォルトのエンドポイントパスを返す。
func DefaultPaths() Paths {
	return Paths{
		Check:            "/api/auth/check",
		WhoAmI:           "/api/auth/me",
		Login:            "/api/auth/login",
		Logout:           "/api/auth/logout",
		ForceUpdate:      "/api/reports/force-update/%s",
		PredictionStatus: "/api/ab-test/prediction-status",
	}
}

// Config はClientの設定。
type Config struct {
	BaseURL    string
	CookieName string
	Paths      Paths
}

// Client は予測バックエンドのRESTクライアント。
// セッショントークンは呼び出しごとに受け取り、Client自身は状態を持たない。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	config     Config
	policy     *bluemonday.Policy
}

// NewClient はClientの新しいインスタンスを生成する。
// mcがnilの場合はメトリクスを記録しない。
func NewClient(httpClient *http.Client, logger *slog.Logger, mc metrics.MetricsCollector, config Config) *Client {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if config.Paths == (Paths{}) {
		config.Paths = DefaultPaths()
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    mc,
		config:     config,
		policy:     bluemonday.StrictPolicy(),
	}
}

// CookieName はセッションCookie名を返す。
func (c *Client) CookieName() string {
	return c.config.CookieName
}

// checkResponse は認証状態確認エンドポイントのレスポンス。
type checkResponse struct {
	Authenticated bool        `json:"authenticated"`
	User          *model.User `json:"user"`
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse はログイン成功時のレスポンス。
type loginResponse struct {
	User    *model.User `json:"user"`
	Message string      `json:"message"`
}

// LoginResult はログイン成功時の結果。
// Cookiesにはバックエンドが発行したSet-Cookieが含まれ、ブラウザへ中継する。
type LoginResult struct {
	User    *model.User
	Cookies []*http.Cookie
}

// CheckSession はセッションの認証状態を確認する。
// authenticated=falseの場合は (nil, nil) を返す。
// 非2xxや通信エラーの場合はエラーを返す（呼び出し側で未認証として扱う）。
func (c *Client) CheckSession(ctx context.Context, token string) (*model.User, error) {
	var body checkResponse
	if err := c.getJSON(ctx, "check", c.config.Paths.Check, token, &body); err != nil {
		return nil, err
	}
	if !body.Authenticated || body.User == nil {
		return nil, nil
	}
	return body.User, nil
}

// whoamiResponse はWhoAmIのレスポンス。
// is_activeは省略可能で、省略時は有効なユーザーとみなす。
type whoamiResponse struct {
	ID       int64      `json:"id"`
	Email    string     `json:"email"`
	Nickname string     `json:"nickname"`
	Role     model.Role `json:"role"`
	IsActive *bool      `json:"is_active"`
}

// WhoAmI は現在のセッションのユーザーを取得する。
// 非2xxの場合は *StatusError、is_activeが明示的にfalseの場合は ErrUnauthenticated を返す。
func (c *Client) WhoAmI(ctx context.Context, token string) (*model.User, error) {
	var body whoamiResponse
	if err := c.getJSON(ctx, "whoami", c.config.Paths.WhoAmI, token, &body); err != nil {
		return nil, err
	}
	if body.IsActive != nil && !*body.IsActive {
		return nil, ErrUnauthenticated
	}
	return &model.User{
		ID:       body.ID,
		Email:    body.Email,
		Nickname: body.Nickname,
		Role:     body.Role,
		IsActive: true,
	}, nil
}

// Login は認証情報をバックエンドへ送信する。
// 非2xxの場合はバックエンドのdetailを含む *StatusError を返す。
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	payload, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("ログインリクエストのエンコードに失敗しました: %w", err)
	}

	resp, body, err := c.do(ctx, "login", http.MethodPost, c.config.Paths.Login, "", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, fmt.Errorf("ログインレスポンスのパースに失敗しました: %w", err)
	}
	if lr.User == nil {
		return nil, errors.New("ログインレスポンスにユーザー情報がありません")
	}

	return &LoginResult{User: lr.User, Cookies: resp.Cookies()}, nil
}

// Logout はセッションを終了する。
// バックエンドが返したCookie削除用のSet-Cookieを返す。
func (c *Client) Logout(ctx context.Context, token string) ([]*http.Cookie, error) {
	resp, _, err := c.do(ctx, "logout", http.MethodPost, c.config.Paths.Logout, token, nil)
	if err != nil {
		return nil, err
	}
	return resp.Cookies(), nil
}

// JobResponse はバックエンドジョブ起動のレスポンス。
// ステータスとボディをそのままクライアントへ中継する。
type JobResponse struct {
	StatusCode int
	Body       []byte
}

// ForceReportUpdate は銘柄レポートの強制更新ジョブを起動する。
// 非2xxもエラーではなくJobResponseとして返す（バックエンドの応答を中継するため）。
func (c *Client) ForceReportUpdate(ctx context.Context, stockCode, token string) (*JobResponse, error) {
	path := fmt.Sprintf(c.config.Paths.ForceUpdate, url.PathEscape(stockCode))

	resp, body, err := c.do(ctx, "force_update", http.MethodPost, path, token, nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return &JobResponse{StatusCode: se.StatusCode, Body: se.Body}, nil
		}
		return nil, err
	}
	return &JobResponse{StatusCode: resp.StatusCode, Body: body}, nil
}

// PredictionStatus はバックグラウンド予測タスクの進捗を取得する。
func (c *Client) PredictionStatus(ctx context.Context, token string) (*model.PredictionStatus, error) {
	var st model.PredictionStatus
	if err := c.getJSON(ctx, "prediction_status", c.config.Paths.PredictionStatus, token, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, path, token string, out any) error {
	_, body, err := c.do(ctx, endpoint, http.MethodGet, path, token, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Error("バックエンドレスポンスのパースに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}

// do はバックエンドへリクエストを送信し、2xxの場合のみボディを返す。
// 非2xxの場合は *StatusError を返す。
func (c *Client) do(ctx context.Context, endpoint, method, path, token string, body io.Reader) (*http.Response, []byte, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		c.metrics.RecordBackendCall(endpoint, outcome, time.Since(start))
	}()

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: c.config.CookieName, Value: token})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		c.logger.Warn("バックエンドの呼び出しに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome = "status_" + statusClass(resp.StatusCode)
		c.logger.Debug("バックエンドがエラーステータスを返しました",
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.StatusCode),
		)
		return resp, nil, &StatusError{
			StatusCode: resp.StatusCode,
			Detail:     c.extractDetail(data),
			Body:       data,
		}
	}

	outcome = "ok"
	return resp, data, nil
}

// extractDetail はFastAPI形式のエラーボディ {"detail": "..."} からメッセージを取り出す。
// detailが文字列でない場合（バリデーションエラーの配列など）は空文字を返す。
// マークアップは除去し、エンティティはテキストに戻す。
func (c *Client) extractDetail(body []byte) string {
	var e struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err != nil || len(e.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Detail, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(c.policy.Sanitize(s)))
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
