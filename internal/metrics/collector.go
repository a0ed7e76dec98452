// Package metrics exposes migration and sync engine telemetry to
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "davsync"

// Collector is a prometheus.Collector fed by the orchestrator and the
// sync engines.
type Collector struct {
	migrationState *prometheus.GaugeVec
	runs           *prometheus.CounterVec
	stepFailures   *prometheus.CounterVec
	reverts        *prometheus.CounterVec
	enginePasses   *prometheus.CounterVec
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		migrationState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "migration_state",
				Help:      "The persisted migration state of an account.",
			}, []string{"account"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migration_runs_total",
				Help:      "The number of orchestrator runs.",
			}, []string{"account"},
		),
		stepFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migration_step_failures_total",
				Help:      "The number of failed migration steps.",
			}, []string{"step", "kind"},
		),
		reverts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migration_reverts_total",
				Help:      "The number of reverts to the synced state.",
			}, []string{"account"},
		),
		enginePasses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_passes_total",
				Help:      "The number of sync engine passes by outcome.",
			}, []string{"domain", "result"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.migrationState.Describe(ch)
	c.runs.Describe(ch)
	c.stepFailures.Describe(ch)
	c.reverts.Describe(ch)
	c.enginePasses.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.migrationState.Collect(ch)
	c.runs.Collect(ch)
	c.stepFailures.Collect(ch)
	c.reverts.Collect(ch)
	c.enginePasses.Collect(ch)
}

func (c *Collector) MigrationState(account string, s int) {
	c.migrationState.WithLabelValues(account).Set(float64(s))
}

func (c *Collector) StepFailed(step string, transient bool) {
	kind := "permanent"
	if transient {
		kind = "transient"
	}

	c.stepFailures.WithLabelValues(step, kind).Inc()
}

func (c *Collector) Reverted(account string) {
	c.reverts.WithLabelValues(account).Inc()
}

func (c *Collector) Run(account string) {
	c.runs.WithLabelValues(account).Inc()
}

func (c *Collector) EnginePass(domain, result string) {
	c.enginePasses.WithLabelValues(domain, result).Inc()
}

// Handler serves c alongside the Go runtime and process collectors
// from a dedicated registry.
func Handler(c *Collector) (http.Handler, error) {
	reg := prometheus.NewRegistry()

	for _, col := range []prometheus.Collector{
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}

	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
