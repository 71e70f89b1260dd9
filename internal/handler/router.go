package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/craveny/internal/auth"
	"github.com/hitoshi/craveny/internal/metrics"
	"github.com/hitoshi/craveny/internal/middleware"
	"github.com/hitoshi/craveny/internal/model"
	"github.com/hitoshi/craveny/internal/nav"
	"github.com/hitoshi/craveny/internal/proxy"
	"github.com/hitoshi/craveny/internal/view"
)

// pageDescriptions はメニュー画面の説明文。
var pageDescriptions = map[string]string{
	"/":                  "오늘의 뉴스 영향도와 예측 요약",
	"/stocks":            "종목별 뉴스 분석과 리포트",
	"/predictions":       "예측 실행 이력",
	"/models":            "예측 모델 등록과 활성화",
	"/ab-config":         "A/B 테스트 모델 조합 설정",
	"/admin/dashboard":   "시스템 상태와 작업 현황",
	"/admin/stocks":      "분석 대상 종목 관리",
	"/admin/evaluations": "모델 예측 결과 평가",
	"/admin/performance": "모델별 성능 지표",
	"/admin/users":       "사용자 계정과 권한 관리",
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger         *slog.Logger
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// バックエンド
	AuthBackend auth.Backend
	Verifier    middleware.UserVerifier
	Status      StatusFetcher
	Jobs        ReportRefresher
	APIProxy    http.Handler

	// ミドルウェア
	EdgeGuard         middleware.EdgeGuardConfig
	AuthCheckTimeout  time.Duration
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig
	CORSAllowedOrigin string

	// 画面
	Renderer *view.Renderer
	Pages    PageConfig
	Auth     AuthHandlerConfig
}

// NewRouter はゲートウェイ全体のルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging → SecurityHeaders → EdgeGuard
//
// 画面ルートではさらに AuthProvider → CSRF → ProtectedRoute を適用する。
// /api/* はEdgeGuardの除外対象で、CORSを適用してバックエンドへ中継する。
func NewRouter(deps *RouterDeps) (http.Handler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	edgeGuard, err := middleware.NewEdgeGuard(deps.EdgeGuard, deps.Verifier, logger, deps.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to build edge guard: %w", err)
	}

	pages := NewPageHandler(deps.Renderer, deps.Status, deps.Pages, logger)
	authHandler := NewAuthHandler(pages, deps.Auth, logger, deps.Metrics)
	jobHandler := NewJobHandler(deps.Jobs, logger)

	protected := func(requireAdmin bool) func(http.Handler) http.Handler {
		return middleware.ProtectedRoute(pages, deps.Pages.LoginPath, requireAdmin, logger)
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(chimw.SetHeader(proxy.SkipBrowserWarningHeader, "true"))
	r.Use(edgeGuard)

	// --- 技術的なルート（EdgeGuard除外） ---
	r.Get("/health", Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Handle("/static/*", view.StaticHandler())
	r.Get("/favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// --- バックエンドAPIの中継 ---
	if deps.APIProxy != nil {
		r.With(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin)).Handle("/api/*", deps.APIProxy)
	}

	// --- 画面ルート ---
	// ミドルウェアスタック: AuthProvider → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthProvider(deps.AuthBackend, deps.AuthCheckTimeout, logger))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get(deps.Pages.LoginPath, authHandler.LoginPage)
		r.With(deps.RateLimiter.LoginMiddleware()).Post(deps.Pages.LoginPath, authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

		for _, item := range nav.Menu {
			requireAdmin := !item.Allows(model.RoleUser)
			r.With(protected(requireAdmin)).Get(item.Href, pages.Page(item.Label, pageDescriptions[item.Href]))
		}

		r.With(protected(false)).Get("/stocks/{stockCode}", pages.StockDetail)
		r.With(protected(true)).Get("/ab-test", pages.Page("A/B 테스트", "모델 조합별 예측 비교"))
		r.With(protected(true)).Get("/admin/evaluations/model/{modelID}", pages.Page("모델 평가 상세", "모델별 평가 결과"))

		// 管理者ジョブ
		r.With(protected(true), deps.RateLimiter.JobMiddleware()).
			Post("/jobs/reports/{stockCode}/refresh", jobHandler.RefreshReport)
	})

	return r, nil
}
