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
// ハンドラー、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordAuthAttempt(operation string, success bool)
	RecordAttendanceToggle(attending bool)
	RecordEventMutation(operation string)
	RecordListingQuery(duration time.Duration, superseded bool)
	SetActiveClientSessions(n int)
	RecordOrphanSignupsDeleted(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus      *prometheus.CounterVec
	authAttempts    *prometheus.CounterVec
	attendance      *prometheus.CounterVec
	eventMutations  *prometheus.CounterVec
	listingLatency  prometheus.Histogram
	listingStale    prometheus.Counter
	activeSessions  prometheus.Gauge
	orphanedSignups prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventboard_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventboard_auth_attempts_total",
			Help: "操作種別・結果別の認証試行数",
		}, []string{"operation", "result"}),
		attendance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventboard_attendance_toggles_total",
			Help: "切り替え後の状態別の参加登録切り替え数",
		}, []string{"attending"}),
		eventMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventboard_event_mutations_total",
			Help: "操作種別ごとのイベント作成・更新・削除数",
		}, []string{"operation"}),
		listingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventboard_listing_query_seconds",
			Help:    "イベント一覧取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		listingStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventboard_listing_superseded_total",
			Help: "新しい条件に追い越されて破棄された一覧取得の数",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventboard_active_client_sessions",
			Help: "現在保持しているクライアントセッション数",
		}),
		orphanedSignups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventboard_orphan_signups_deleted_total",
			Help: "クリーンアップで削除された孤立参加登録の合計数",
		}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.authAttempts,
		c.attendance,
		c.eventMutations,
		c.listingLatency,
		c.listingStale,
		c.activeSessions,
		c.orphanedSignups,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordAuthAttempt は認証操作（signin, signup, logout等）の結果を記録する。
func (c *Collector) RecordAuthAttempt(operation string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.authAttempts.WithLabelValues(operation, result).Inc()
}

// RecordAttendanceToggle は参加登録の切り替えを記録する。
func (c *Collector) RecordAttendanceToggle(attending bool) {
	c.attendance.WithLabelValues(strconv.FormatBool(attending)).Inc()
}

// RecordEventMutation はイベントの変更操作を記録する。
func (c *Collector) RecordEventMutation(operation string) {
	c.eventMutations.WithLabelValues(operation).Inc()
}

// RecordListingQuery は一覧取得のレイテンシを記録する。
// 追い越された取得はレイテンシに含めず破棄数として数える。
func (c *Collector) RecordListingQuery(duration time.Duration, superseded bool) {
	if superseded {
		c.listingStale.Inc()
		return
	}
	c.listingLatency.Observe(duration.Seconds())
}

// SetActiveClientSessions は現在のクライアントセッション数を設定する。
func (c *Collector) SetActiveClientSessions(n int) {
	c.activeSessions.Set(float64(n))
}

// RecordOrphanSignupsDeleted は削除された孤立参加登録の件数を記録する。
func (c *Collector) RecordOrphanSignupsDeleted(count int) {
	c.orphanedSignups.Add(float64(count))
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

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type NopCollector struct{}

func (NopCollector) RecordHTTPStatus(int)                   {}
func (NopCollector) RecordAuthAttempt(string, bool)         {}
func (NopCollector) RecordAttendanceToggle(bool)            {}
func (NopCollector) RecordEventMutation(string)             {}
func (NopCollector) RecordListingQuery(time.Duration, bool) {}
func (NopCollector) SetActiveClientSessions(int)            {}
func (NopCollector) RecordOrphanSignupsDeleted(int)         {}
