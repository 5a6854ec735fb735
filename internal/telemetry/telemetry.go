// Package telemetry exports the live Prometheus gauges and counters for a
// running simulation, grounded on ghjramos-aistore's client_golang wiring:
// a process-wide registry, typed collectors constructed once, and a
// promhttp handler mounted at /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/trandavy/sard/internal/sim"
)

// Telemetry holds the live exported metrics for one Driver. The message and
// handoff figures are cumulative-count gauges rather than counters: the
// Driver's observer hook only hands us the bus's running totals
// (sim.BusStats.BySentType) once per tick, not individual publish events, so
// there is nothing to Inc() against.
type Telemetry struct {
	registry *prometheus.Registry

	messagesByType *prometheus.GaugeVec
	coverage       prometheus.Gauge
	activeDrones   prometheus.Gauge
	deadDrones     prometheus.Gauge
	handoffs       prometheus.Gauge
	tick           prometheus.Counter
}

// New constructs a Telemetry with its own registry, so multiple Drivers in
// the same process (e.g. under test) don't collide on collector names.
func New() *Telemetry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Telemetry{
		registry: reg,
		messagesByType: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sard",
			Name:      "messages_total",
			Help:      "Cumulative messages published on the agent-to-agent bus, by kind.",
		}, []string{"kind"}),
		coverage: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sard",
			Name:      "coverage_percent",
			Help:      "Percentage of grid tiles visited by at least one drone.",
		}),
		activeDrones: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sard",
			Name:      "active_drones",
			Help:      "Number of drones not in the DEAD state.",
		}),
		deadDrones: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sard",
			Name:      "dead_drones",
			Help:      "Number of drones in the DEAD state.",
		}),
		handoffs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sard",
			Name:      "handoffs_total",
			Help:      "Cumulative completed ACCEPT_HANDOFF exchanges.",
		}),
		tick: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sard",
			Name:      "ticks_total",
			Help:      "Simulation ticks processed.",
		}),
	}
}

// Observe installs itself as the Driver's per-tick state-update callback,
// updating every gauge/counter from the FullState it receives.
func (t *Telemetry) Observe(d *sim.Driver) {
	d.SetOnStateUpdate(func(state sim.FullState) {
		t.tick.Inc()
		t.coverage.Set(state.CoveragePercent)

		active, dead := 0, 0
		for _, a := range state.Agents {
			if a.State == sim.StateDead {
				dead++
			} else {
				active++
			}
		}
		t.activeDrones.Set(float64(active))
		t.deadDrones.Set(float64(dead))

		for kind, count := range state.MessageStats.BySentType {
			t.messagesByType.WithLabelValues(string(kind)).Set(float64(count))
		}
		t.handoffs.Set(float64(state.MessageStats.BySentType[sim.KindAcceptHandoff]))
	})
}

// Gather returns the underlying registry's Gatherer, for mounting a
// promhttp.HandlerFor in the HTTP control surface.
func (t *Telemetry) Gather() prometheus.Gatherer {
	return t.registry
}
