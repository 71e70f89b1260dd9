package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/craveny/internal/auth"
	"github.com/hitoshi/craveny/internal/backend"
	"github.com/hitoshi/craveny/internal/jobs"
	"github.com/hitoshi/craveny/internal/middleware"
	"github.com/hitoshi/craveny/internal/model"
)

// ReportRefresher は銘柄レポートの強制更新を起動するインターフェース。
// jobs.Triggerの部分集合として定義する。
type ReportRefresher interface {
	RefreshReport(ctx context.Context, stockCode, token string) (*backend.JobResponse, error)
}

// JobHandler は管理者ジョブのHTTPハンドラー。
type JobHandler struct {
	refresher ReportRefresher
	logger    *slog.Logger
}

// NewJobHandler はJobHandlerを生成する。
func NewJobHandler(refresher ReportRefresher, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{refresher: refresher, logger: logger}
}

// RefreshReport は銘柄レポートの強制更新を起動する。
// JSONを要求するクライアントにはバックエンドの応答を中継し、
// フォーム送信には銘柄詳細画面への遷移と通知で結果を返す。
// POST /jobs/reports/{stockCode}/refresh
func (h *JobHandler) RefreshReport(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "stockCode")

	token := ""
	if session, err := auth.FromContext(r.Context()); err == nil {
		token = session.Token()
	}

	resp, err := h.refresher.RefreshReport(r.Context(), code, token)

	if middleware.WantsJSON(r) {
		h.writeJSONResult(w, r, code, resp, err)
		return
	}

	if errors.Is(err, jobs.ErrInvalidStockCode) {
		http.NotFound(w, r)
		return
	}

	n := noticeJobStarted
	switch {
	case errors.Is(err, jobs.ErrJobTimeout):
		n = noticeJobTimeout
	case err != nil:
		n = noticeJobFailed
	case resp.StatusCode >= http.StatusBadRequest:
		n = noticeJobFailed
	}
	http.Redirect(w, r, withNotice("/stocks/"+code, n), http.StatusSeeOther)
}

func (h *JobHandler) writeJSONResult(w http.ResponseWriter, r *http.Request, code string, resp *backend.JobResponse, err error) {
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		if _, werr := w.Write(resp.Body); werr != nil {
			h.logger.WarnContext(r.Context(), "failed to relay job response", slog.String("error", werr.Error()))
		}
	case errors.Is(err, jobs.ErrInvalidStockCode):
		middleware.WriteAPIError(w, model.NewInvalidStockCodeError(code))
	case errors.Is(err, jobs.ErrJobTimeout):
		middleware.WriteAPIError(w, model.NewJobTimeoutError())
	default:
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewJobFailedError("backend request failed"))
	}
}
