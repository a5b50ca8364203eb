// v0
// internal/observability/metrics.go
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service collectors under a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	recordsIngested   *prometheus.CounterVec
	recordsDropped    *prometheus.CounterVec
	seriesAppends     *prometheus.CounterVec
	connTransitions   *prometheus.CounterVec
	connState         *prometheus.GaugeVec
	connCandidate     prometheus.Gauge
	qcPulls           *prometheus.CounterVec
	scheduleLoads     *prometheus.CounterVec
	forwarded         *prometheus.CounterVec
	cbState           *prometheus.GaugeVec
	subscribers       prometheus.Gauge
}

// connStates enumerates the connection gauge labels.
var connStates = []string{"idle", "connecting", "connected", "exhausted", "disconnected"}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		recordsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sctk_records_ingested_total",
			Help: "Normalized records applied by the engine, by origin.",
		}, []string{"origin"}),
		recordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sctk_records_dropped_total",
			Help: "Inbound events dropped before reaching the series, by reason.",
		}, []string{"reason"}),
		seriesAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sctk_series_appends_total",
			Help: "Tile appends by outcome (pushed, overwritten, dropped).",
		}, []string{"outcome"}),
		connTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sctk_connection_transitions_total",
			Help: "Connection state transitions by source and target state.",
		}, []string{"source", "state"}),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sctk_connection_state",
			Help: "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		connCandidate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sctk_connection_candidate_index",
			Help: "Index of the candidate endpoint currently in use.",
		}),
		qcPulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sctk_qc_pulls_total",
			Help: "Tabular feed pulls by outcome.",
		}, []string{"outcome"}),
		scheduleLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sctk_schedule_loads_total",
			Help: "Staff schedule file reloads by outcome.",
		}, []string{"outcome"}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sctk_forward_total",
			Help: "Outbound forwarding attempts by sink and outcome.",
		}, []string{"sink", "outcome"}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cb_state",
			Help: "Circuit breaker state gauge (0 closed, 1 open, 2 half-open).",
		}, []string{"target"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sctk_event_subscribers",
			Help: "Open server-sent event streams.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.recordsIngested,
		m.recordsDropped,
		m.seriesAppends,
		m.connTransitions,
		m.connState,
		m.connCandidate,
		m.qcPulls,
		m.scheduleLoads,
		m.forwarded,
		m.cbState,
		m.subscribers,
	)
	for _, s := range connStates {
		m.connState.WithLabelValues(s).Set(0)
	}
	m.connState.WithLabelValues("idle").Set(1)

	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Flush keeps streaming handlers working behind the recorder.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		duration := time.Since(start).Seconds()
		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(duration)
		}
	})
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordIngested(origin string) {
	if m == nil {
		return
	}
	m.recordsIngested.WithLabelValues(origin).Inc()
}

func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.recordsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SeriesAppend(outcome string) {
	if m == nil {
		return
	}
	m.seriesAppends.WithLabelValues(outcome).Inc()
}

// ConnectionState records a transition of the named source.
func (m *Metrics) ConnectionState(source, state string, candidate int) {
	if m == nil {
		return
	}
	m.connTransitions.WithLabelValues(source, state).Inc()
	for _, s := range connStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connState.WithLabelValues(s).Set(v)
	}
	m.connCandidate.Set(float64(candidate))
}

func (m *Metrics) QCPull(outcome string) {
	if m == nil {
		return
	}
	m.qcPulls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ScheduleLoad(outcome string) {
	if m == nil {
		return
	}
	m.scheduleLoads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Forwarded(sink string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.forwarded.WithLabelValues(sink, outcome).Inc()
}

// BreakerState mirrors a circuit breaker state as 0 closed, 1 open, 2 half-open.
func (m *Metrics) BreakerState(target string, state int) {
	if m == nil {
		return
	}
	m.cbState.WithLabelValues(target).Set(float64(state))
}

func (m *Metrics) SubscriberDelta(delta int) {
	if m == nil {
		return
	}
	m.subscribers.Add(float64(delta))
}
