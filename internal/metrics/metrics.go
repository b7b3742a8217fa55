package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates orchestration metrics for the /metrics endpoint.
// All methods are nil-safe so components can run without one.
type Collector struct {
	cyclesTotal       prometheus.Counter
	transactionsTotal *prometheus.CounterVec
	providerCalls     *prometheus.CounterVec
	commandsTotal     *prometheus.CounterVec
	workersActive     prometheus.Gauge
	cycleDuration     prometheus.Histogram
}

func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Collector{
		cyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "orch_cycles_total",
			Help: "Completed worker cycles.",
		}),
		transactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orch_transactions_total",
			Help: "Transactions by terminal status.",
		}, []string{"status"}),
		providerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orch_provider_calls_total",
			Help: "Provider calls by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orch_commands_total",
			Help: "Control commands applied by workers.",
		}, []string{"kind"}),
		workersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "orch_workers_active",
			Help: "Workers currently running in this process.",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "orch_cycle_duration_seconds",
			Help:    "Wall time of one engine cycle.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}

func (c *Collector) RecordCycle(seconds float64) {
	if c == nil {
		return
	}
	c.cyclesTotal.Inc()
	c.cycleDuration.Observe(seconds)
}

func (c *Collector) RecordTransaction(status string) {
	if c == nil {
		return
	}
	c.transactionsTotal.WithLabelValues(status).Inc()
}

func (c *Collector) RecordProviderCall(endpoint, outcome string) {
	if c == nil {
		return
	}
	c.providerCalls.WithLabelValues(endpoint, outcome).Inc()
}

func (c *Collector) RecordCommand(kind string) {
	if c == nil {
		return
	}
	c.commandsTotal.WithLabelValues(kind).Inc()
}

func (c *Collector) WorkerStarted() {
	if c == nil {
		return
	}
	c.workersActive.Inc()
}

func (c *Collector) WorkerExited() {
	if c == nil {
		return
	}
	c.workersActive.Dec()
}
