// Package app はゲートウェイの起動処理（設定読み込み・依存関係のワイヤリング・サーバー起動）を提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/craveny/internal/backend"
	"github.com/hitoshi/craveny/internal/config"
	"github.com/hitoshi/craveny/internal/handler"
	"github.com/hitoshi/craveny/internal/jobs"
	"github.com/hitoshi/craveny/internal/logger"
	"github.com/hitoshi/craveny/internal/metrics"
	"github.com/hitoshi/craveny/internal/middleware"
	"github.com/hitoshi/craveny/internal/proxy"
	"github.com/hitoshi/craveny/internal/view"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("backend_url", cfg.BackendURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runServe(ctx, cfg, slog.Default())
}

// Server は構成済みのHTTPサーバーと後始末が必要なリソースをまとめたもの。
type Server struct {
	HTTP        *http.Server
	rateLimiter *middleware.RateLimiter
}

// Close はサーバー以外のリソースを解放する。
func (s *Server) Close() {
	s.rateLimiter.Stop()
}

// NewServer は設定から全依存関係をワイヤリングしたServerを生成する。
// regにはメトリクスの登録先を渡す。
func NewServer(cfg *config.Config, log *slog.Logger, reg *prometheus.Registry) (*Server, error) {
	mc := metrics.NewCollector(reg)

	// 1. バックエンドクライアント
	// 個々の呼び出しはcontextで期限を設定するため、ここでは上限のみ設定する
	httpClient := &http.Client{Timeout: cfg.JobTimeout + 10*time.Second}
	client := backend.NewClient(httpClient, log, mc, backend.Config{
		BaseURL:    cfg.BackendURL,
		CookieName: cfg.SessionCookieName,
	})

	// 2. APIプロキシ
	apiProxy, err := proxy.New(proxy.Config{
		BackendURL: cfg.BackendURL,
		Timeout:    cfg.ProxyTimeout,
	}, nil, log, mc)
	if err != nil {
		return nil, fmt.Errorf("failed to build api proxy: %w", err)
	}

	// 3. テンプレート
	renderer, err := view.New()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	// 4. レート制限（config値はreq/min）
	rlConfig := middleware.DefaultRateLimiterConfig()
	rlConfig.LoginRate, rlConfig.LoginBurst = middleware.PerMinute(cfg.RateLimitLogin)
	rateLimiter := middleware.NewRateLimiter(rlConfig)

	// 5. ルーター
	router, err := handler.NewRouter(&handler.RouterDeps{
		Logger:         log,
		Metrics:        mc,
		MetricsHandler: metrics.Handler(reg),

		AuthBackend: client,
		Verifier:    client,
		Status:      client,
		Jobs:        jobs.NewTrigger(client, cfg.JobTimeout, log, mc),
		APIProxy:    apiProxy,

		EdgeGuard: middleware.EdgeGuardConfig{
			CookieName:  cfg.SessionCookieName,
			LoginPath:   cfg.LoginPath,
			HomePath:    cfg.HomePath,
			AdminPrefix: cfg.AdminPathPrefix,
			Exclusions:  middleware.DefaultExclusions(),
			Timeout:     cfg.AuthCheckTimeout,
		},
		AuthCheckTimeout:  cfg.AuthCheckTimeout,
		RateLimiter:       rateLimiter,
		CSRF:              middleware.CSRFConfig{CookieSecure: cfg.CookieSecure, CookieDomain: cfg.CookieDomain},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,

		Renderer: renderer,
		Pages: handler.PageConfig{
			LoginPath:     cfg.LoginPath,
			HomePath:      cfg.HomePath,
			StatusTimeout: cfg.StatusTimeout,
		},
		Auth: handler.AuthHandlerConfig{
			CookieName:   cfg.SessionCookieName,
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},
	})
	if err != nil {
		rateLimiter.Stop()
		return nil, fmt.Errorf("failed to build router: %w", err)
	}

	return &Server{
		HTTP: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// ジョブ起動はJobTimeoutまで応答を待つ
			WriteTimeout: cfg.JobTimeout + 15*time.Second,
			IdleTimeout:  60 * time.Second,
		},
		rateLimiter: rateLimiter,
	}, nil
}

// runServe はゲートウェイサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	srv, err := NewServer(cfg, log, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer srv.Close()

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway server starting", slog.String("addr", srv.HTTP.Addr))
		if err := srv.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down gateway server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.HTTP.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("gateway server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
