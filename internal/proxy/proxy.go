// Package proxy は /api 配下のリクエストをバックエンドへ中継するリバースプロキシを提供する。
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/hitoshi/craveny/internal/metrics"
	"github.com/hitoshi/craveny/internal/middleware"
	"github.com/hitoshi/craveny/internal/model"
)

// SkipBrowserWarningHeader はngrok経由の公開時に警告画面を抑止するヘッダー。
const SkipBrowserWarningHeader = "ngrok-skip-browser-warning"

// Config はプロキシの設定。
type Config struct {
	BackendURL string
	Timeout    time.Duration
}

// Proxy はバックエンドへのリバースプロキシ。
// パス・クエリ・Cookieは変更せずに転送する。
type Proxy struct {
	rp      *httputil.ReverseProxy
	timeout time.Duration
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// New はProxyを生成する。BackendURLが絶対URLでない場合はエラーを返す。
func New(config Config, transport http.RoundTripper, logger *slog.Logger, mc metrics.MetricsCollector) (*Proxy, error) {
	target, err := url.Parse(config.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("backend URL must be absolute: %q", config.BackendURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if transport == nil {
		transport = newTransport()
	}

	p := &Proxy{
		timeout: config.Timeout,
		logger:  logger,
		metrics: mc,
	}
	p.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			if id := middleware.RequestIDFromContext(pr.In.Context()); id != "" {
				pr.Out.Header.Set(middleware.RequestIDHeader, id)
			}
		},
		Transport:      transport,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.handleError,
	}
	return p, nil
}

// newTransport はバックエンド向けのTransportを生成する。
func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// ServeHTTP はリクエストをタイムアウト付きでバックエンドへ転送する。
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.timeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
		defer cancel()
		r = r.WithContext(ctx)
	}
	p.rp.ServeHTTP(w, r)
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	resp.Header.Set(SkipBrowserWarningHeader, "true")
	p.metrics.RecordProxyStatus(resp.StatusCode)
	return nil
}

// handleError は転送失敗を統一エラーフォーマットで返す。
// タイムアウトは504、それ以外の接続失敗は502とする。
func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := model.NewBackendUnavailableError()
	status := http.StatusBadGateway
	if isTimeoutError(err) {
		apiErr = model.NewBackendTimeoutError()
		status = http.StatusGatewayTimeout
	}

	level := slog.LevelError
	if errors.Is(err, context.Canceled) {
		// クライアントの切断
		level = slog.LevelDebug
	}
	p.logger.Log(r.Context(), level, "proxy request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	p.metrics.RecordProxyStatus(status)
	w.Header().Set(SkipBrowserWarningHeader, "true")
	middleware.WriteErrorResponse(w, status, apiErr)
}

// isTimeoutError はタイムアウト由来のエラーかを判定する。
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
