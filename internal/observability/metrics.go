package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	SessionEvents  *prometheus.CounterVec
	WSMessages     *prometheus.CounterVec
	ChatEvents     *prometheus.CounterVec
	Translations   *prometheus.CounterVec
	CacheLookups   *prometheus.CounterVec
	Syntheses      *prometheus.CounterVec
	Playbacks      *prometheus.CounterVec
	QueueDepth     *prometheus.GaugeVec
	StageLatency   *prometheus.HistogramVec

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of connected feed sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Feed session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ChatEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_events_total",
			Help:      "Inbound chat events by outcome.",
		}, []string{"outcome"}),
		Translations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translations_total",
			Help:      "Translation attempts by engine and outcome.",
		}, []string{"engine", "outcome"}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Translation cache lookups by kind and result.",
		}, []string{"kind", "result"}),
		Syntheses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syntheses_total",
			Help:      "Speech synthesis jobs by engine and outcome.",
		}, []string{"engine", "outcome"}),
		Playbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playbacks_total",
			Help:      "Playback results by outcome.",
		}, []string{"outcome"}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current depth of the pipeline hand-off queues.",
		}, []string{"queue"}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Pipeline stage latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"stage"}),
		stages: newStageWindow(0),
	}
}

// ObserveStage records one stage latency in both the Prometheus histogram
// and the bounded window served by /api/status.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	ms := float64(d.Milliseconds())
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.stages.Observe(stage, ms)
}

func (m *Metrics) ObserveIndicator(name string) {
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	return m.stages.Snapshot()
}

func (m *Metrics) ResetStages() {
	m.stages.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
