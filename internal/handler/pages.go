// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/craveny/internal/auth"
	"github.com/hitoshi/craveny/internal/jobs"
	"github.com/hitoshi/craveny/internal/middleware"
	"github.com/hitoshi/craveny/internal/model"
	"github.com/hitoshi/craveny/internal/nav"
	"github.com/hitoshi/craveny/internal/view"
)

// 予測タスク実行中の自動更新間隔（秒）
const bannerRefreshSeconds = 5

// ローディング画面の自動更新間隔（秒）
const loadingRefreshSeconds = 1

// StatusFetcher は予測タスクの進捗を取得するインターフェース。
// backend.Clientの部分集合として定義する。
type StatusFetcher interface {
	PredictionStatus(ctx context.Context, token string) (*model.PredictionStatus, error)
}

// PageConfig はページハンドラーの設定。
type PageConfig struct {
	LoginPath     string
	HomePath      string
	StatusTimeout time.Duration
}

// PageHandler はダッシュボードの各画面を描画する。
// middleware.GuardViewsを実装し、ProtectedRouteのローディング・アクセス拒否画面も担う。
type PageHandler struct {
	renderer *view.Renderer
	status   StatusFetcher
	config   PageConfig
	logger   *slog.Logger
}

// NewPageHandler はPageHandlerを生成する。statusがnilの場合はバナーを表示しない。
func NewPageHandler(renderer *view.Renderer, status StatusFetcher, config PageConfig, logger *slog.Logger) *PageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageHandler{
		renderer: renderer,
		status:   status,
		config:   config,
		logger:   logger,
	}
}

// layoutData はレイアウト共通のPageDataを組み立てる。
func (h *PageHandler) layoutData(r *http.Request, title string) view.PageData {
	state := auth.StateFromContext(r.Context())
	return view.PageData{
		Title:     title,
		Path:      r.URL.Path,
		HomePath:  h.config.HomePath,
		ShowNav:   nav.ShowNavigation(r.URL.Path, h.config.LoginPath, state),
		User:      state.User,
		Role:      nav.RoleOf(state),
		IsAdmin:   state.IsAdmin(),
		Links:     nav.Links(state, r.URL.Path),
		CSRFToken: middleware.CSRFToken(r),
		Flash:     noticeMessage(r.URL.Query()),
	}
}

// render はページを描画し、失敗時はログに記録して500を返す。
func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, status int, page string, data view.PageData) {
	if err := h.renderer.Render(w, status, page, data); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to render page",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
	}
}

// Loading はセッション確認中のローディング画面を描画する。
func (h *PageHandler) Loading(w http.ResponseWriter, r *http.Request) {
	data := h.layoutData(r, "로딩 중")
	data.ShowNav = false
	data.RefreshSeconds = loadingRefreshSeconds
	h.render(w, r, http.StatusOK, view.PageLoading, data)
}

// AccessDenied は権限不足のアクセス拒否画面を描画する。
func (h *PageHandler) AccessDenied(w http.ResponseWriter, r *http.Request, state auth.State) {
	data := h.layoutData(r, "접근 권한이 없습니다")
	h.render(w, r, http.StatusForbidden, view.PageAccessDenied, data)
}

// Page は静的なタイトルと説明を持つダッシュボード画面のハンドラーを返す。
func (h *PageHandler) Page(title, description string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := h.layoutData(r, title)
		data.Description = description
		h.withBanner(r, &data)
		h.render(w, r, http.StatusOK, view.PageContent, data)
	}
}

// StockDetail は銘柄詳細画面を描画する。
// GET /stocks/{stockCode}
func (h *PageHandler) StockDetail(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "stockCode")
	if !jobs.ValidStockCode(code) {
		http.NotFound(w, r)
		return
	}

	data := h.layoutData(r, "종목 상세 · "+code)
	data.Description = "뉴스 영향도와 예측 리포트"
	data.StockCode = code
	h.withBanner(r, &data)
	h.render(w, r, http.StatusOK, view.PageContent, data)
}

// withBanner は予測タスクが進行中であればバナーと自動更新を設定する。
// 取得に失敗した場合はバナーを表示しない。
func (h *PageHandler) withBanner(r *http.Request, data *view.PageData) {
	if h.status == nil {
		return
	}
	session, err := auth.FromContext(r.Context())
	if err != nil {
		return
	}

	ctx := r.Context()
	if h.config.StatusTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.StatusTimeout)
		defer cancel()
	}

	st, err := h.status.PredictionStatus(ctx, session.Token())
	if err != nil {
		h.logger.DebugContext(r.Context(), "prediction status unavailable",
			slog.String("error", err.Error()),
		)
		return
	}

	if banner := view.NewBanner(st); banner != nil {
		data.Banner = banner
		data.RefreshSeconds = bannerRefreshSeconds
	}
}
