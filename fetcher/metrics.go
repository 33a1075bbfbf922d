package fetcher

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/models"
)

// Metrics bundles Prometheus collectors for the fetcher. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry      *prometheus.Registry
	AttemptsTotal *prometheus.CounterVec
	RetriesTotal  *prometheus.CounterVec
	Escalations   *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	ErrorsTotal   *prometheus.CounterVec
}

// NewMetrics constructs and registers the fetcher metrics on a dedicated
// registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	attempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_fetch_attempts_total",
			Help: "Fetch attempts by method and outcome.",
		},
		[]string{"method", "outcome"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_fetch_retries_total",
			Help: "Retries scheduled after a failed attempt.",
		},
		[]string{"method"},
	)
	escalations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_fetch_escalations_total",
			Help: "Static fetches re-routed to the browser, by reason.",
		},
		[]string{"reason"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_fetch_duration_seconds",
			Help:    "End-to-end fetch latency by the method that produced the result.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"method"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_fetch_errors_total",
			Help: "Failed fetches by error label.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(attempts, retries, escalations, duration, errorsTotal)

	return &Metrics{
		Registry:      registry,
		AttemptsTotal: attempts,
		RetriesTotal:  retries,
		Escalations:   escalations,
		FetchDuration: duration,
		ErrorsTotal:   errorsTotal,
	}
}

// RegisterPool exports browser pool gauges read from pool.Stats at scrape
// time.
func (m *Metrics) RegisterPool(pool *engine.BrowserPool) {
	if m == nil || pool == nil {
		return
	}
	gauge := func(name, help string, read func(engine.PoolStats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			func() float64 { return read(pool.Stats()) },
		)
	}
	m.Registry.MustRegister(
		gauge("harvest_pool_idle_sessions", "Idle browser sessions.",
			func(s engine.PoolStats) float64 { return float64(s.Idle) }),
		gauge("harvest_pool_checked_out_sessions", "Browser sessions currently in use.",
			func(s engine.PoolStats) float64 { return float64(s.CheckedOut) }),
		gauge("harvest_pool_sessions_created", "Browser sessions launched since start.",
			func(s engine.PoolStats) float64 { return float64(s.Created) }),
		gauge("harvest_pool_sessions_destroyed", "Browser sessions destroyed since start.",
			func(s engine.PoolStats) float64 { return float64(s.Destroyed) }),
	)
}

func (m *Metrics) attempt(method models.Method, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.AttemptsTotal.WithLabelValues(string(method), outcome).Inc()
}

func (m *Metrics) retry(method models.Method) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(string(method)).Inc()
}

func (m *Metrics) escalation(reason string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(reason).Inc()
}

func (m *Metrics) finished(res *models.FetchResult) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(string(res.Method)).Observe(res.Elapsed.Seconds())
	if res.Err != nil {
		m.ErrorsTotal.WithLabelValues(models.ErrorLabel(res.Err)).Inc()
	}
}
