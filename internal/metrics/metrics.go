// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeDuplicate    = "duplicate"
	OutcomeInvalidShape = "invalid_shape"
	OutcomeUnavailable  = "unavailable"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやサービス層から利用する。
type MetricsCollector interface {
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
	RecordLogin(success bool)
	RecordRegistration(outcome string)
	RecordScoreSubmission(level string)
	RecordPuzzleFetch(outcome string, attempts int, duration time.Duration)
	RecordRateLimited(limitType string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
	logins         *prometheus.CounterVec
	registrations  *prometheus.CounterVec
	scores         *prometheus.CounterVec
	puzzleFetches  *prometheus.CounterVec
	puzzleAttempts prometheus.Histogram
	puzzleLatency  prometheus.Histogram
	rateLimited    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bananaquiz_http_requests_total",
			Help: "ルート・ステータスコード別のHTTPリクエスト数",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bananaquiz_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bananaquiz_logins_total",
			Help: "ログイン試行の合計数",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bananaquiz_registrations_total",
			Help: "アカウント登録試行の合計数",
		}, []string{"outcome"}),
		scores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bananaquiz_score_submissions_total",
			Help: "難易度別のスコア送信数",
		}, []string{"level"}),
		puzzleFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bananaquiz_puzzle_fetches_total",
			Help: "パズル取得の合計数",
		}, []string{"outcome"}),
		puzzleAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bananaquiz_puzzle_fetch_attempts",
			Help:    "パズル取得1回あたりの上流呼び出し回数",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		puzzleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bananaquiz_puzzle_fetch_latency_seconds",
			Help:    "パズル取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bananaquiz_rate_limited_total",
			Help: "レート制限で拒否したリクエスト数",
		}, []string{"limit_type"}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.logins,
		c.registrations,
		c.scores,
		c.puzzleFetches,
		c.puzzleAttempts,
		c.puzzleLatency,
		c.rateLimited,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストの結果とレイテンシを記録する。
// routeにはchiのルートパターンを渡し、ラベルの濃度を抑える。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordLogin はログイン試行を記録する。
func (c *Collector) RecordLogin(success bool) {
	outcome := OutcomeFailure
	if success {
		outcome = OutcomeSuccess
	}
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordRegistration はアカウント登録試行を記録する。
func (c *Collector) RecordRegistration(outcome string) {
	c.registrations.WithLabelValues(outcome).Inc()
}

// RecordScoreSubmission はスコア送信を記録する。
func (c *Collector) RecordScoreSubmission(level string) {
	c.scores.WithLabelValues(level).Inc()
}

// RecordPuzzleFetch はパズル取得の結果を記録する。
func (c *Collector) RecordPuzzleFetch(outcome string, attempts int, duration time.Duration) {
	c.puzzleFetches.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		c.puzzleAttempts.Observe(float64(attempts))
	}
	c.puzzleLatency.Observe(duration.Seconds())
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(limitType string) {
	c.rateLimited.WithLabelValues(limitType).Inc()
}

// NopCollector は何も記録しないMetricsCollector実装。テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) RecordHTTPRequest(string, string, int, time.Duration) {}
func (NopCollector) RecordLogin(bool)                                      {}
func (NopCollector) RecordRegistration(string)                             {}
func (NopCollector) RecordScoreSubmission(string)                          {}
func (NopCollector) RecordPuzzleFetch(string, int, time.Duration)          {}
func (NopCollector) RecordRateLimited(string)                              {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
