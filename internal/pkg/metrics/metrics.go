package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はアプリケーションのメトリクスを管理する
type Metrics struct {
	// HTTPリクエストの総数（method, path, status_code）
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPリクエストのレイテンシ（method, path）
	HTTPRequestDuration *prometheus.HistogramVec

	// イベント操作の総数（operation: create/update/remove, status: success/invalid/conflict/error）
	EventOperationsTotal *prometheus.CounterVec

	// 投票の総数（status: success, already_voted, unknown_option, poll_not_found, error）
	PollVotesTotal *prometheus.CounterVec

	// アウトボックス配信の総数（kind: notification/mail, status: sent/failed）
	OutboxDeliveriesTotal *prometheus.CounterVec

	// 未送信のアウトボックス件数（直近の再送処理で検出した数）
	OutboxPending prometheus.Gauge

	// 分散ロックの操作時間（operation: acquire/release, status: success/failed）
	DistributedLockDuration *prometheus.HistogramVec
}

// New は新しいMetricsインスタンスを作成し、デフォルトレジストリに登録する
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry は指定したレジストリにメトリクスを登録する
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		EventOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_operations_total",
				Help: "Total number of event mutations by outcome",
			},
			[]string{"operation", "status"},
		),
		PollVotesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poll_votes_total",
				Help: "Total number of poll vote attempts",
			},
			[]string{"status"},
		),
		OutboxDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbox_deliveries_total",
				Help: "Total number of outbox delivery attempts",
			},
			[]string{"kind", "status"},
		),
		OutboxPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outbox_pending_messages",
				Help: "Number of undelivered outbox messages found by the last retry pass",
			},
		),
		DistributedLockDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "distributed_lock_duration_seconds",
				Help:    "Time spent on distributed lock operations",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "status"},
		),
	}

	// レジストリに登録
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EventOperationsTotal,
		m.PollVotesTotal,
		m.OutboxDeliveriesTotal,
		m.OutboxPending,
		m.DistributedLockDuration,
	)

	return m
}

// デフォルトのメトリクスインスタンス
var defaultMetrics *Metrics

// Init はデフォルトのメトリクスインスタンスを初期化する
func Init() *Metrics {
	defaultMetrics = New()
	return defaultMetrics
}

// Get はデフォルトのメトリクスインスタンスを返す
func Get() *Metrics {
	return defaultMetrics
}

// ObserveEventOperation はイベント操作の結果を記録する（nil の場合は何もしない）
func (m *Metrics) ObserveEventOperation(operation, status string) {
	if m == nil {
		return
	}
	m.EventOperationsTotal.WithLabelValues(operation, status).Inc()
}

// ObserveVote は投票の結果を記録する
func (m *Metrics) ObserveVote(status string) {
	if m == nil {
		return
	}
	m.PollVotesTotal.WithLabelValues(status).Inc()
}

// ObserveDelivery はアウトボックス配信の結果を記録する
func (m *Metrics) ObserveDelivery(kind, status string) {
	if m == nil {
		return
	}
	m.OutboxDeliveriesTotal.WithLabelValues(kind, status).Inc()
}

// SetOutboxPending は未送信件数を記録する
func (m *Metrics) SetOutboxPending(n int) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

// ObserveLock は分散ロック操作の所要時間を記録する
func (m *Metrics) ObserveLock(operation, status string, seconds float64) {
	if m == nil {
		return
	}
	m.DistributedLockDuration.WithLabelValues(operation, status).Observe(seconds)
}
