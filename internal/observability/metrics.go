package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the server.
type Metrics struct {
	ActiveTasks    prometheus.Gauge
	BlockedTasks   prometheus.Gauge
	ActiveDevices  prometheus.Gauge
	TaskEvents     *prometheus.CounterVec
	RouteDecisions *prometheus.CounterVec
	JudgeFallbacks prometheus.Counter
	BrainErrors    *prometheus.CounterVec
	WSMessages     *prometheus.CounterVec
	BlockWait      prometheus.Histogram

	intake *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tasks",
			Help:      "Number of running agent tasks across all devices.",
		}),
		BlockedTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blocked_tasks",
			Help:      "Number of agent tasks blocked on a user response.",
		}),
		ActiveDevices: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_devices",
			Help:      "Number of devices with a live agent connection.",
		}),
		TaskEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_events_total",
			Help:      "Task lifecycle events by type.",
		}, []string{"event"}),
		RouteDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_decisions_total",
			Help:      "Injection routing decisions by method.",
		}, []string{"method"}),
		JudgeFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_fallbacks_total",
			Help:      "Blocked-task judge calls that fell back to the heuristic.",
		}),
		BrainErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "brain_errors_total",
			Help:      "Brain provider errors by provider and code.",
		}, []string{"provider", "code"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Device WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		BlockWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_wait_seconds",
			Help:      "Time a blocked task waited before resume, timeout, or cancel.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}),
		intake: newStageWindow(256),
	}
}

func (m *Metrics) SetActiveTasks(n int) {
	if m == nil {
		return
	}
	m.ActiveTasks.Set(float64(n))
}

func (m *Metrics) SetBlockedTasks(n int) {
	if m == nil {
		return
	}
	m.BlockedTasks.Set(float64(n))
}

func (m *Metrics) SetActiveDevices(n int) {
	if m == nil {
		return
	}
	m.ActiveDevices.Set(float64(n))
}

func (m *Metrics) ObserveTaskEvent(event string) {
	if m == nil || event == "" {
		return
	}
	m.TaskEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveRouteDecision(method string) {
	if m == nil || method == "" {
		return
	}
	m.RouteDecisions.WithLabelValues(method).Inc()
}

func (m *Metrics) ObserveJudgeFallback() {
	if m == nil {
		return
	}
	m.JudgeFallbacks.Inc()
}

func (m *Metrics) ObserveBrainError(provider, code string) {
	if m == nil {
		return
	}
	m.BrainErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, typ string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, typ).Inc()
}

func (m *Metrics) ObserveBlockWait(d time.Duration) {
	if m == nil || d < 0 {
		return
	}
	m.BlockWait.Observe(d.Seconds())
}

func (m *Metrics) ObserveIntakeStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.intake.Observe(stage, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveIntakeIndicator(name string) {
	if m == nil {
		return
	}
	m.intake.ObserveIndicator(name)
}

func (m *Metrics) SnapshotIntakeStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{}
	}
	return m.intake.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
