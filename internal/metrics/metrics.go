// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ベンダー呼び出し結果の分類（outcomeラベル）。
const (
	OutcomeOK        = "ok"
	OutcomeHTTPError = "http_error"
	OutcomeTransport = "transport_error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ベンダークライアントやミドルウェアから利用する。
type MetricsCollector interface {
	RecordUpstreamCall(operation, outcome string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordSalesBatch(size int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	httpStatus      *prometheus.CounterVec
	salesBatchSize  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teebox_upstream_requests_total",
			Help: "ベンダーAPI呼び出しの合計数（操作・結果別）",
		}, []string{"operation", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "teebox_upstream_latency_seconds",
			Help:    "ベンダーAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teebox_http_responses_total",
			Help: "プロキシが返したHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		salesBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "teebox_sales_batch_size",
			Help:    "販売明細一括取得1回あたりの件数",
			Buckets: []float64{1, 5, 10, 25, 50, 100},
		}),
	}

	reg.MustRegister(
		c.upstreamCalls,
		c.upstreamLatency,
		c.httpStatus,
		c.salesBatchSize,
	)

	return c
}

// RecordUpstreamCall はベンダー呼び出し1回の結果とレイテンシを記録する。
func (c *Collector) RecordUpstreamCall(operation, outcome string, duration time.Duration) {
	c.upstreamCalls.WithLabelValues(operation, outcome).Inc()
	c.upstreamLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSalesBatch は販売明細一括取得の件数を記録する。
func (c *Collector) RecordSalesBatch(size int) {
	c.salesBatchSize.Observe(float64(size))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordUpstreamCall(string, string, time.Duration) {}
func (Nop) RecordHTTPStatus(int)                             {}
func (Nop) RecordSalesBatch(int)                             {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
