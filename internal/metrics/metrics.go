// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ポーリングワーカーや通知処理から利用する。
type MetricsCollector interface {
	RecordCycle(duration time.Duration, examined, changed, skipped, failed int)
	RecordSkip(platform, reason string)
	RecordStatusChange(platform, newStatus string)
	RecordTriggerSkipped()
	RecordNotification(success bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cycles          prometheus.Counter
	cycleDuration   prometheus.Histogram
	ordersProcessed *prometheus.CounterVec
	skips           *prometheus.CounterVec
	statusChanges   *prometheus.CounterVec
	triggerSkipped  prometheus.Counter
	notifications   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordertracker_poll_cycles_total",
			Help: "完了したポーリングサイクルの合計数",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ordertracker_poll_cycle_duration_seconds",
			Help:    "ポーリングサイクルの所要時間（秒）",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		}),
		ordersProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordertracker_poll_orders_total",
			Help: "ポーリングで確認した注文数（結果別）",
		}, []string{"outcome"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordertracker_poll_skips_total",
			Help: "スキップした注文数（プラットフォーム・理由別）",
		}, []string{"platform", "reason"}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordertracker_status_changes_total",
			Help: "検出した注文ステータス変更の合計数",
		}, []string{"platform", "status"}),
		triggerSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordertracker_poll_trigger_skipped_total",
			Help: "前回のサイクル実行中のためスキップした起動の合計数",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordertracker_notifications_total",
			Help: "ステータス変更通知の送信数（結果別）",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.cycles,
		c.cycleDuration,
		c.ordersProcessed,
		c.skips,
		c.statusChanges,
		c.triggerSkipped,
		c.notifications,
	)

	return c
}

// RecordCycle はポーリングサイクル1回分の集計を記録する。
func (c *Collector) RecordCycle(duration time.Duration, examined, changed, skipped, failed int) {
	c.cycles.Inc()
	c.cycleDuration.Observe(duration.Seconds())
	c.ordersProcessed.WithLabelValues("examined").Add(float64(examined))
	c.ordersProcessed.WithLabelValues("changed").Add(float64(changed))
	c.ordersProcessed.WithLabelValues("skipped").Add(float64(skipped))
	c.ordersProcessed.WithLabelValues("failed").Add(float64(failed))
}

// RecordSkip は注文のスキップを記録する。
func (c *Collector) RecordSkip(platform, reason string) {
	c.skips.WithLabelValues(platform, reason).Inc()
}

// RecordStatusChange はステータス変更の検出を記録する。
func (c *Collector) RecordStatusChange(platform, newStatus string) {
	c.statusChanges.WithLabelValues(platform, newStatus).Inc()
}

// RecordTriggerSkipped は多重起動の抑止を記録する。
func (c *Collector) RecordTriggerSkipped() {
	c.triggerSkipped.Inc()
}

// RecordNotification は通知送信の結果を記録する。
func (c *Collector) RecordNotification(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.notifications.WithLabelValues(result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
