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
// リアルタイム配信層、HTTPミドルウェア、クリーンアップワーカーから利用する。
type MetricsCollector interface {
	ConnectionOpened()
	ConnectionClosed()
	EventRouted(family string)
	EventsDelivered(strategy string, n int)
	DeliveryFailed(reason string)
	AuthFailed(reason string)
	RecordHTTPStatus(statusCode int)
	RecordQueueItemsPruned(count int64)
	RecordCleanupLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	wsConnections    prometheus.Gauge
	eventsRouted     *prometheus.CounterVec
	eventDeliveries  *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	authFailures     *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	itemsPruned      prometheus.Counter
	cleanupLatency   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobhub_ws_connections",
			Help: "接続中のWebSocketクライアント数",
		}),
		eventsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobhub_events_routed_total",
			Help: "ルーティングしたイベントの合計数",
		}, []string{"family"}),
		eventDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobhub_event_deliveries_total",
			Help: "接続へ配信したイベントフレームの合計数",
		}, []string{"strategy"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobhub_event_delivery_failures_total",
			Help: "イベント配信失敗の合計数",
		}, []string{"reason"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobhub_auth_failures_total",
			Help: "認証失敗の合計数",
		}, []string{"reason"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobhub_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		itemsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobhub_queue_items_pruned_total",
			Help: "保持期間を過ぎて削除されたキューアイテムの合計数",
		}),
		cleanupLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobhub_cleanup_duration_seconds",
			Help:    "キュークリーンアップ1回あたりの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.wsConnections,
		c.eventsRouted,
		c.eventDeliveries,
		c.deliveryFailures,
		c.authFailures,
		c.httpStatus,
		c.itemsPruned,
		c.cleanupLatency,
	)

	return c
}

// ConnectionOpened は接続数を1増やす。
func (c *Collector) ConnectionOpened() {
	c.wsConnections.Inc()
}

// ConnectionClosed は接続数を1減らす。
func (c *Collector) ConnectionClosed() {
	c.wsConnections.Dec()
}

// EventRouted はイベントファミリー別のルーティング数を記録する。
func (c *Collector) EventRouted(family string) {
	c.eventsRouted.WithLabelValues(family).Inc()
}

// EventsDelivered は配信戦略別に配信先の接続数を加算する。
func (c *Collector) EventsDelivered(strategy string, n int) {
	if n <= 0 {
		return
	}
	c.eventDeliveries.WithLabelValues(strategy).Add(float64(n))
}

// DeliveryFailed は配信失敗を記録する。
func (c *Collector) DeliveryFailed(reason string) {
	c.deliveryFailures.WithLabelValues(reason).Inc()
}

// AuthFailed は認証失敗を記録する。
func (c *Collector) AuthFailed(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordQueueItemsPruned は削除したキューアイテム数を記録する。
func (c *Collector) RecordQueueItemsPruned(count int64) {
	c.itemsPruned.Add(float64(count))
}

// RecordCleanupLatency はクリーンアップの所要時間を記録する。
func (c *Collector) RecordCleanupLatency(duration time.Duration) {
	c.cleanupLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
