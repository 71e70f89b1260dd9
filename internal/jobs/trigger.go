// Package jobs は管理者が起動するバックエンドジョブ（レポート強制更新など）を扱う。
// 長時間かかるジョブの呼び出しはタイムアウトを設定してから送信し、
// タイムアウトを通信エラーやHTTPエラーと区別して返す。
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/hitoshi/craveny/internal/backend"
	"github.com/hitoshi/craveny/internal/metrics"
)

// DefaultTimeout はジョブ呼び出しの既定タイムアウト。
const DefaultTimeout = 2 * time.Minute

var (
	// ErrJobTimeout はジョブ呼び出しが応答前にタイムアウトしたことを表す。
	// バックエンド側ではジョブが継続している可能性がある。
	ErrJobTimeout = errors.New("job request timed out")

	// ErrInvalidStockCode は銘柄コードの形式が不正であることを表す。
	ErrInvalidStockCode = errors.New("invalid stock code")
)

// stockCodePattern は受け付ける銘柄コードの形式（KRXの6桁コードやティッカー）。
var stockCodePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.\-]{0,19}$`)

// ReportUpdater はレポート強制更新を起動するインターフェース。
// backend.Clientの部分集合として定義する。
type ReportUpdater interface {
	ForceReportUpdate(ctx context.Context, stockCode, token string) (*backend.JobResponse, error)
}

// Trigger はバックエンドジョブの起動を担う。
type Trigger struct {
	updater ReportUpdater
	timeout time.Duration
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewTrigger はTriggerを生成する。timeoutが0以下の場合はDefaultTimeoutを使用する。
func NewTrigger(updater ReportUpdater, timeout time.Duration, logger *slog.Logger, mc metrics.MetricsCollector) *Trigger {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Trigger{
		updater: updater,
		timeout: timeout,
		logger:  logger,
		metrics: mc,
	}
}

// ValidStockCode は銘柄コードの形式が妥当かを返す。
func ValidStockCode(code string) bool {
	return stockCodePattern.MatchString(code)
}

// RefreshReport は銘柄レポートの強制更新を起動する。
// バックエンドの応答はステータスに関係なくJobResponseとして返す。
// タイムアウト時は ErrJobTimeout、その他の通信失敗はラップしたエラーを返す。
func (t *Trigger) RefreshReport(ctx context.Context, stockCode, token string) (*backend.JobResponse, error) {
	if !ValidStockCode(stockCode) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStockCode, stockCode)
	}

	// 送信前にタイムアウトを設定する
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	resp, err := t.updater.ForceReportUpdate(ctx, stockCode, token)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			t.logger.WarnContext(ctx, "レポート更新ジョブがタイムアウトしました",
				slog.String("stock_code", stockCode),
				slog.Duration("timeout", t.timeout),
			)
			t.metrics.RecordJobResult("timeout")
			return nil, ErrJobTimeout
		}
		t.logger.ErrorContext(ctx, "レポート更新ジョブの起動に失敗しました",
			slog.String("stock_code", stockCode),
			slog.String("error", err.Error()),
		)
		t.metrics.RecordJobResult("error")
		return nil, fmt.Errorf("failed to trigger report update for %s: %w", stockCode, err)
	}

	outcome := "ok"
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		outcome = fmt.Sprintf("status_%dxx", resp.StatusCode/100)
	}
	t.metrics.RecordJobResult(outcome)
	t.logger.InfoContext(ctx, "レポート更新ジョブを起動しました",
		slog.String("stock_code", stockCode),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", elapsed),
	)
	return resp, nil
}
