// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ガード、バックエンドクライアント、プロキシ、ジョブから利用する。
type MetricsCollector interface {
	RecordGuardDecision(outcome string)
	RecordBackendCall(endpoint string, outcome string, duration time.Duration)
	RecordProxyStatus(statusCode int)
	RecordJobResult(outcome string)
	RecordLoginAttempt(success bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	guardDecisions *prometheus.CounterVec
	backendCalls   *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	proxyStatus    *prometheus.CounterVec
	jobResults     *prometheus.CounterVec
	loginAttempts  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "craveny_guard_decisions_total",
			Help: "エッジガードの判定結果別の件数",
		}, []string{"outcome"}),
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "craveny_backend_calls_total",
			Help: "バックエンド呼び出しのエンドポイント・結果別の件数",
		}, []string{"endpoint", "outcome"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "craveny_backend_latency_seconds",
			Help:    "バックエンド呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		proxyStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "craveny_proxy_status_total",
			Help: "APIプロキシのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		jobResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "craveny_job_results_total",
			Help: "バックエンドジョブ起動の結果別の件数",
		}, []string{"outcome"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "craveny_login_attempts_total",
			Help: "ログイン試行の成否別の件数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.guardDecisions,
		c.backendCalls,
		c.backendLatency,
		c.proxyStatus,
		c.jobResults,
		c.loginAttempts,
	)

	return c
}

// RecordGuardDecision はエッジガードの判定結果を記録する。
func (c *Collector) RecordGuardDecision(outcome string) {
	c.guardDecisions.WithLabelValues(outcome).Inc()
}

// RecordBackendCall はバックエンド呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordBackendCall(endpoint string, outcome string, duration time.Duration) {
	c.backendCalls.WithLabelValues(endpoint, outcome).Inc()
	c.backendLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordProxyStatus はプロキシレスポンスのステータスコードを記録する。
func (c *Collector) RecordProxyStatus(statusCode int) {
	c.proxyStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordJobResult はジョブ起動の結果を記録する。
func (c *Collector) RecordJobResult(outcome string) {
	c.jobResults.WithLabelValues(outcome).Inc()
}

// RecordLoginAttempt はログイン試行の成否を記録する。
func (c *Collector) RecordLoginAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.loginAttempts.WithLabelValues(result).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordGuardDecision(string)                      {}
func (Nop) RecordBackendCall(string, string, time.Duration) {}
func (Nop) RecordProxyStatus(int)                           {}
func (Nop) RecordJobResult(string)                          {}
func (Nop) RecordLoginAttempt(bool)                         {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
