package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000}

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "regionsync_requests_total",
		Help: "Total number of local API requests",
	}, []string{"route"})
	RequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "regionsync_request_duration_ms",
		Help:    "Local API request duration in milliseconds",
		Buckets: durationBuckets,
	}, []string{"route"})
	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "regionsync_upstream_requests_total",
		Help: "Total upstream REST requests",
	}, []string{"op"})
	UpstreamFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "regionsync_upstream_fail_total",
		Help: "Total upstream REST failures",
	}, []string{"op"})
	UpstreamDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "regionsync_upstream_duration_ms",
		Help:    "Upstream REST call duration in milliseconds",
		Buckets: durationBuckets,
	}, []string{"op"})
	PushEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "regionsync_push_events_total",
		Help: "Push events delivered to subscribers by kind",
	}, []string{"kind"})
	PushDecodeErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "regionsync_push_decode_errors_total",
		Help: "Push events skipped because the payload did not decode",
	}, []string{"kind"})
	RealtimeConnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regionsync_realtime_connects_total",
		Help: "Successful realtime session establishments",
	})
	RealtimeDialFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regionsync_realtime_dial_fail_total",
		Help: "Failed realtime connection attempts",
	})
	RealtimeState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "regionsync_realtime_state",
		Help: "Realtime channel state (0 disconnected, 1 connecting, 2 connected)",
	})
	NormalizeWarningsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "regionsync_normalize_warnings_total",
		Help: "Boundary shapes that could not be normalized, by reason",
	}, []string{"reason"})
	StaleDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "regionsync_stale_dropped_total",
		Help: "Asynchronous results discarded because a newer request superseded them",
	}, []string{"component"})
	JournalWritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regionsync_journal_writes_total",
		Help: "Push events written to the journal",
	})
	JournalFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regionsync_journal_fail_total",
		Help: "Journal write failures",
	})
	JournalDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regionsync_journal_dropped_total",
		Help: "Push events dropped because the journal buffer was full",
	})
	SnapshotHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regionsync_snapshot_hits_total",
		Help: "Top-level snapshot cache hits",
	})
	SnapshotMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regionsync_snapshot_misses_total",
		Help: "Top-level snapshot cache misses",
	})
	LiveClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "regionsync_live_clients",
		Help: "Connected live feed clients",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(UpstreamRequestsTotal)
	prometheus.MustRegister(UpstreamFailTotal)
	prometheus.MustRegister(UpstreamDurationMs)
	prometheus.MustRegister(PushEventsTotal)
	prometheus.MustRegister(PushDecodeErrorsTotal)
	prometheus.MustRegister(RealtimeConnectsTotal)
	prometheus.MustRegister(RealtimeDialFailTotal)
	prometheus.MustRegister(RealtimeState)
	prometheus.MustRegister(NormalizeWarningsTotal)
	prometheus.MustRegister(StaleDroppedTotal)
	prometheus.MustRegister(JournalWritesTotal)
	prometheus.MustRegister(JournalFailTotal)
	prometheus.MustRegister(JournalDroppedTotal)
	prometheus.MustRegister(SnapshotHitsTotal)
	prometheus.MustRegister(SnapshotMissesTotal)
	prometheus.MustRegister(LiveClients)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
