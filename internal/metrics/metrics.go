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
// ミドルウェアやサービス層から利用する。
type MetricsCollector interface {
	RecordLogin(result string)
	RecordGuardDecision(state string)
	RecordSessionExtended()
	RecordHTTPStatus(statusCode int)
	RecordAuthenticateLatency(duration time.Duration)
}

// ログイン結果のラベル値
const (
	LoginSuccess            = "success"
	LoginInvalidCredentials = "invalid_credentials"
	LoginError              = "error"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	login         *prometheus.CounterVec
	guardDecision *prometheus.CounterVec
	extensions    prometheus.Counter
	httpStatus    *prometheus.CounterVec
	authLatency   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		login: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantdesk_login_total",
			Help: "結果別のログイン試行数",
		}, []string{"result"}),
		guardDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantdesk_guard_decisions_total",
			Help: "ルートガードの判定結果別の件数",
		}, []string{"state"}),
		extensions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenantdesk_session_extensions_total",
			Help: "有効期限を延長したセッションの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantdesk_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		authLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tenantdesk_authenticate_latency_seconds",
			Help:    "リクエスト認証のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.login,
		c.guardDecision,
		c.extensions,
		c.httpStatus,
		c.authLatency,
	)

	return c
}

// RecordLogin はログイン試行を結果別に記録する。
func (c *Collector) RecordLogin(result string) {
	c.login.WithLabelValues(result).Inc()
}

// RecordGuardDecision はルートガードの終端状態を記録する。
func (c *Collector) RecordGuardDecision(state string) {
	c.guardDecision.WithLabelValues(state).Inc()
}

// RecordSessionExtended はセッション延長を記録する。
func (c *Collector) RecordSessionExtended() {
	c.extensions.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordAuthenticateLatency は認証処理のレイテンシを記録する。
func (c *Collector) RecordAuthenticateLatency(duration time.Duration) {
	c.authLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
