// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// サインイン完了の結果ラベル
const (
	SignInSuccess              = "success"
	SignInInvalidLink          = "invalid_link"
	SignInConfirmationRequired = "email_confirmation_required"
	SignInError                = "error"
)

// 投票の結果ラベル
const (
	VoteAccepted     = "accepted"
	VoteAlreadyVoted = "already_voted"
	VoteError        = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やミドルウェアから利用する。
type MetricsCollector interface {
	RecordSignInLinkIssued()
	RecordSignIn(outcome string)
	RecordVote(outcome string)
	RecordMeetingToggle(added bool)
	RecordRollupLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	linksIssued    prometheus.Counter
	signIns        *prometheus.CounterVec
	votes          *prometheus.CounterVec
	meetingToggles *prometheus.CounterVec
	rollupLatency  prometheus.Histogram
	httpStatus     *prometheus.CounterVec
}

// コンパイル時にインターフェースの実装を検証する。
var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		linksIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pitchday_sign_in_links_issued_total",
			Help: "発行したサインインリンクの合計数",
		}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchday_sign_ins_total",
			Help: "サインイン完了処理の結果別の件数",
		}, []string{"outcome"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchday_votes_total",
			Help: "投票処理の結果別の件数",
		}, []string{"outcome"}),
		meetingToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchday_meeting_request_toggles_total",
			Help: "面談リクエストの切り替え件数（added/removed）",
		}, []string{"direction"}),
		rollupLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pitchday_admin_rollup_latency_seconds",
			Help:    "管理画面集計のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchday_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.linksIssued,
		c.signIns,
		c.votes,
		c.meetingToggles,
		c.rollupLatency,
		c.httpStatus,
	)

	return c
}

// RegisterSubscriptionGauge は有効な変更フィード購読数のゲージを登録する。
func RegisterSubscriptionGauge(reg prometheus.Registerer, active func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pitchday_live_subscriptions",
		Help: "有効な変更フィード購読数",
	}, func() float64 {
		return float64(active())
	}))
}

// RecordSignInLinkIssued はサインインリンクの発行を記録する。
func (c *Collector) RecordSignInLinkIssued() {
	c.linksIssued.Inc()
}

// RecordSignIn はサインイン完了処理の結果を記録する。
func (c *Collector) RecordSignIn(outcome string) {
	c.signIns.WithLabelValues(outcome).Inc()
}

// RecordVote は投票処理の結果を記録する。
func (c *Collector) RecordVote(outcome string) {
	c.votes.WithLabelValues(outcome).Inc()
}

// RecordMeetingToggle は面談リクエストの切り替えを記録する。
func (c *Collector) RecordMeetingToggle(added bool) {
	direction := "removed"
	if added {
		direction = "added"
	}
	c.meetingToggles.WithLabelValues(direction).Inc()
}

// RecordRollupLatency は管理画面集計のレイテンシを記録する。
func (c *Collector) RecordRollupLatency(duration time.Duration) {
	c.rollupLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordSignInLinkIssued() {}
func (NopCollector) RecordSignIn(string) {}
func (NopCollector) RecordVote(string) {}
func (NopCollector) RecordMeetingToggle(bool) {}
func (NopCollector) RecordRollupLatency(time.Duration) {}
func (NopCollector) RecordHTTPStatus(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
