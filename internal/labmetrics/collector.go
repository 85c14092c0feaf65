// Package labmetrics exposes Prometheus metrics for topology provisioning
// and convergence. The collector is optional everywhere it is consumed: a
// nil *Collector disables instrumentation without nil checks at call
// sites.
package labmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "bgplab"
	subsystem = "lab"
)

// Label names for lab metrics.
const (
	labelOp        = "op"
	labelContainer = "container"
	labelKind      = "kind"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Lab Metrics
// -------------------------------------------------------------------------

// Collector holds all bgplab Prometheus metrics.
//
// Provisioning counters surface flaky-host symptoms (retries per
// operation kind), the gauges track live topology size, and the
// convergence histogram records how long peerings take to reach the
// expected FSM state.
type Collector struct {
	// Commands counts provisioning commands executed, labeled by
	// operation kind (bridge, container, wire, exec).
	Commands *prometheus.CounterVec

	// CommandRetries counts re-invocations after a transient failure.
	// The first attempt of an operation is not a retry.
	CommandRetries *prometheus.CounterVec

	// CommandFailures counts operations whose retry budget was
	// exhausted.
	CommandFailures *prometheus.CounterVec

	// Bridges tracks the number of bridges currently provisioned.
	Bridges prometheus.Gauge

	// Containers tracks the number of containers currently running.
	Containers prometheus.Gauge

	// ConvergenceSeconds observes the time WaitForState spent polling
	// until the expected peering state was reached, labeled by
	// container and waited-for state.
	ConvergenceSeconds *prometheus.HistogramVec
}

// NewCollector creates a Collector with all lab metrics registered against
// the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// All metrics are created with the "bgplab_lab_" prefix
// (namespace_subsystem) to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Commands,
		c.CommandRetries,
		c.CommandFailures,
		c.Bridges,
		c.Containers,
		c.ConvergenceSeconds,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	opLabels := []string{labelOp}

	return &Collector{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commands_total",
			Help:      "Total provisioning commands executed.",
		}, opLabels),

		CommandRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "command_retries_total",
			Help:      "Total command re-invocations after a transient failure.",
		}, opLabels),

		CommandFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "command_failures_total",
			Help:      "Total operations that exhausted their retry budget.",
		}, opLabels),

		Bridges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bridges",
			Help:      "Number of bridges currently provisioned.",
		}),

		Containers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "containers",
			Help:      "Number of containers currently running.",
		}),

		ConvergenceSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "convergence_seconds",
			Help:      "Time until a peering reached the waited-for FSM state.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. 256s
		}, []string{labelContainer, labelKind}),
	}
}

// -------------------------------------------------------------------------
// Nil-safe recording helpers
// -------------------------------------------------------------------------

// RecordCommand counts one executed provisioning command of the given kind.
func (c *Collector) RecordCommand(op string) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(op).Inc()
}

// RecordRetry counts one re-invocation of an operation.
func (c *Collector) RecordRetry(op string) {
	if c == nil {
		return
	}
	c.CommandRetries.WithLabelValues(op).Inc()
}

// RecordFailure counts one operation whose retries were exhausted.
func (c *Collector) RecordFailure(op string) {
	if c == nil {
		return
	}
	c.CommandFailures.WithLabelValues(op).Inc()
}

// BridgeUp / BridgeDown adjust the live bridge gauge.
func (c *Collector) BridgeUp() {
	if c == nil {
		return
	}
	c.Bridges.Inc()
}

func (c *Collector) BridgeDown() {
	if c == nil {
		return
	}
	c.Bridges.Dec()
}

// ContainerUp / ContainerDown adjust the running container gauge.
func (c *Collector) ContainerUp() {
	if c == nil {
		return
	}
	c.Containers.Inc()
}

func (c *Collector) ContainerDown() {
	if c == nil {
		return
	}
	c.Containers.Dec()
}

// ObserveConvergence records how long a container's peering took to reach
// the waited-for state.
func (c *Collector) ObserveConvergence(container, kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.ConvergenceSeconds.WithLabelValues(container, kind).Observe(d.Seconds())
}
