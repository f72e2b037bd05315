// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace はすべてのメトリクス名の接頭辞。
const namespace = "alumniportal"

// Collector はPrometheusメトリクスを収集する実装。
// session.Recorderを満たし、各セッションストアから呼ばれる。
type Collector struct {
	logins         *prometheus.CounterVec
	registrations  *prometheus.CounterVec
	profileInserts prometheus.Counter
	logouts        *prometheus.CounterVec
	sessionEvents  *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "ログイン試行の結果別合計数",
		}, []string{"result"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "アカウント登録の結果別合計数",
		}, []string{"outcome"}),
		profileInserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_insert_failures_total",
			Help:      "登録時のプロフィール作成失敗数",
		}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logouts_total",
			Help:      "ログアウト数（remote=failedはプロバイダー側の失敗）",
		}, []string{"remote"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "プロバイダーからのセッション変更通知数",
		}, []string{"event"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTPステータスコード別のレスポンス数",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTPリクエストの処理時間（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		c.logins,
		c.registrations,
		c.profileInserts,
		c.logouts,
		c.sessionEvents,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

// RegisterActiveStores は稼働中のセッションストア数を返すゲージを登録する。
func RegisterActiveStores(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_session_stores",
		Help:      "稼働中のブラウザセッションストア数",
	}, func() float64 {
		return float64(count())
	}))
}

// RecordLogin はログイン結果を記録する。resultは"success"またはエラー種別。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordRegistration は登録結果を記録する。
func (c *Collector) RecordRegistration(outcome string) {
	c.registrations.WithLabelValues(outcome).Inc()
}

// RecordProfileInsertFailure はプロフィール作成失敗を記録する。
func (c *Collector) RecordProfileInsertFailure() {
	c.profileInserts.Inc()
}

// RecordLogout はログアウトを記録する。
func (c *Collector) RecordLogout(remoteFailed bool) {
	label := "ok"
	if remoteFailed {
		label = "failed"
	}
	c.logouts.WithLabelValues(label).Inc()
}

// RecordSessionEvent はセッション変更通知を記録する。
func (c *Collector) RecordSessionEvent(event string) {
	c.sessionEvents.WithLabelValues(event).Inc()
}

// RecordHTTPRequest はHTTPレスポンスのステータスと処理時間を記録する。
func (c *Collector) RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 収集エラーがあっても取得できたメトリクスは返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
