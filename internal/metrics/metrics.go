// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 解釈器呼び出しの結果ラベル
const (
	InterpreterOK       = "ok"
	InterpreterDegraded = "degraded"
)

// 予約確定・辞退の結果ラベル
const (
	BookingConfirmed = "confirmed"
	BookingConflict  = "conflict"
	BookingDeclined  = "declined"
	BookingInvalid   = "invalid"
	BookingError     = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やミドルウェアから利用する。
type MetricsCollector interface {
	RecordMessage(role string)
	RecordInterpreterOutcome(source, outcome string)
	RecordInterpreterLatency(duration time.Duration)
	RecordBookingOutcome(outcome string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	messages           *prometheus.CounterVec
	interpreterOutcome *prometheus.CounterVec
	interpreterLatency prometheus.Histogram
	bookingOutcome     *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chairside_messages_total",
			Help: "ロール別の保存メッセージ数",
		}, []string{"role"}),
		interpreterOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chairside_interpreter_calls_total",
			Help: "解釈器の応答元と結果別の呼び出し数",
		}, []string{"source", "outcome"}),
		interpreterLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chairside_interpreter_latency_seconds",
			Help:    "解釈器呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		bookingOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chairside_booking_outcomes_total",
			Help: "予約確定・辞退の結果別の件数",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chairside_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.messages,
		c.interpreterOutcome,
		c.interpreterLatency,
		c.bookingOutcome,
		c.httpStatus,
	)

	return c
}

// RecordMessage は保存したメッセージを記録する。
func (c *Collector) RecordMessage(role string) {
	c.messages.WithLabelValues(role).Inc()
}

// RecordInterpreterOutcome は解釈器呼び出しの結果を記録する。
func (c *Collector) RecordInterpreterOutcome(source, outcome string) {
	c.interpreterOutcome.WithLabelValues(source, outcome).Inc()
}

// RecordInterpreterLatency は解釈器呼び出しのレイテンシを記録する。
func (c *Collector) RecordInterpreterLatency(duration time.Duration) {
	c.interpreterLatency.Observe(duration.Seconds())
}

// RecordBookingOutcome は予約確定・辞退の結果を記録する。
func (c *Collector) RecordBookingOutcome(outcome string) {
	c.bookingOutcome.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 収集中のエラーはログに出し、取得できたメトリクスだけを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
	})
}
