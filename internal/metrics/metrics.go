package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the research engine's collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	PhaseRuns       *prometheus.CounterVec
	PhaseDuration   *prometheus.HistogramVec
	TasksGenerated  *prometheus.CounterVec
	TaskResults     *prometheus.CounterVec
	TasksInFlight   prometheus.Gauge
	EarlyStops      prometheus.Counter
	StreamFragments *prometheus.CounterVec
	ResolverLookups *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PhaseRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deepresearch_phase_runs_total",
				Help: "Total number of research phase runs",
			},
			[]string{"phase", "status"},
		),
		PhaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deepresearch_phase_duration_seconds",
				Help:    "Research phase duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"phase"},
		),
		TasksGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deepresearch_tasks_generated_total",
				Help: "Total number of research tasks generated",
			},
			[]string{"kind"},
		),
		TaskResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deepresearch_task_results_total",
				Help: "Total number of research task executions by outcome",
			},
			[]string{"status"},
		),
		TasksInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "deepresearch_tasks_in_flight",
				Help: "Research tasks currently executing",
			},
		),
		EarlyStops: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "deepresearch_early_stops_total",
				Help: "Total number of task loops ended because a tier produced no tasks",
			},
		),
		StreamFragments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deepresearch_stream_fragments_total",
				Help: "Total number of streamed fragments by kind",
			},
			[]string{"kind"},
		),
		ResolverLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deepresearch_resolver_lookups_total",
				Help: "Total number of source URL resolutions by result",
			},
			[]string{"result"},
		),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordPhase(phase, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PhaseRuns.WithLabelValues(phase, status).Inc()
	m.PhaseDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordTasksGenerated(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TasksGenerated.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.TasksInFlight.Inc()
}

func (m *Metrics) TaskFinished(status string) {
	if m == nil {
		return
	}
	m.TasksInFlight.Dec()
	m.TaskResults.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordEarlyStop() {
	if m == nil {
		return
	}
	m.EarlyStops.Inc()
}

func (m *Metrics) RecordFragment(kind string) {
	if m == nil {
		return
	}
	m.StreamFragments.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordResolve(result string) {
	if m == nil {
		return
	}
	m.ResolverLookups.WithLabelValues(result).Inc()
}
