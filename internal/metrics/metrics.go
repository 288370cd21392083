// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rovify/rovify/internal/model"
	"github.com/rovify/rovify/internal/route"
)

// Collector はPrometheusメトリクスを収集する実装。
// session.MetricsRecorderを実装する。
type Collector struct {
	transitions     *prometheus.CounterVec
	logins          *prometheus.CounterVec
	profilesCreated *prometheus.CounterVec
	gateRedirects   *prometheus.CounterVec
	providerEvents  *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rovify_session_transitions_total",
			Help: "認証状態の遷移回数（遷移先ステータス別）",
		}, []string{"status"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rovify_login_total",
			Help: "ログイン試行の合計数（認証経路・結果別）",
		}, []string{"method", "outcome"}),
		profilesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rovify_profile_created_total",
			Help: "初回ログイン時に作成したプロフィール数",
		}, []string{"method"}),
		gateRedirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rovify_route_gate_redirects_total",
			Help: "ルートゲートによるリダイレクト数（ルート分類別）",
		}, []string{"class"}),
		providerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rovify_provider_events_total",
			Help: "IdPから受け取った認証イベント数（処理結果別）",
		}, []string{"event", "outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rovify_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status_code"}),
	}

	reg.MustRegister(
		c.transitions,
		c.logins,
		c.profilesCreated,
		c.gateRedirects,
		c.providerEvents,
		c.httpDuration,
	)

	return c
}

// RecordTransition は認証状態の遷移を記録する。
func (c *Collector) RecordTransition(to model.Status) {
	c.transitions.WithLabelValues(string(to)).Inc()
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(method model.AuthMethod, outcome string) {
	c.logins.WithLabelValues(string(method), outcome).Inc()
}

// RecordProfileCreated はプロフィールの新規作成を記録する。
func (c *Collector) RecordProfileCreated(method model.AuthMethod) {
	c.profilesCreated.WithLabelValues(string(method)).Inc()
}

// RecordGateRedirect はルートゲートによるリダイレクトを記録する。
func (c *Collector) RecordGateRedirect(class route.Class) {
	c.gateRedirects.WithLabelValues(string(class)).Inc()
}

// RecordProviderEvent はIdPイベントの処理結果を記録する。
func (c *Collector) RecordProviderEvent(kind model.AuthEventKind, outcome string) {
	c.providerEvents.WithLabelValues(string(kind), outcome).Inc()
}

// RecordHTTPRequest はHTTPリクエストの処理時間を記録する。
// routeにはchiのルートパターンを渡し、ラベルの種類が増えすぎないようにする。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpDuration.WithLabelValues(method, route, strconv.Itoa(statusCode)).Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
