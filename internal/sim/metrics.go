package sim

import "time"

// MetricsSnapshot is one point in a run's coverage/handoff/battery timeline
// (supplemented from original_source's sim/metrics.py, not present in the
// distilled spec).
type MetricsSnapshot struct {
	Elapsed         time.Duration
	Tick            int
	CoveragePercent float64
	TargetsFound    int
	TotalTargets    int
	ActiveAgents    int
	TotalAgents     int
	Handoffs        int
	MessagesSent    int
	AvgBattery      float64
}

// Metrics tracks time-to-first-detection, coverage, handoffs, battery, and
// message volume across a run, independent of the live Prometheus gauges in
// internal/telemetry: this is a timeline a CLI run prints a summary of at
// the end, not a continuously-scraped export.
type Metrics struct {
	totalTargets int
	totalTiles   int
	totalAgents  int

	startedAt          time.Duration
	started            bool
	firstDetectionTime *time.Duration
	handoffCount       int

	history []MetricsSnapshot
}

// NewMetrics constructs a Metrics tracker for a run with the given totals.
func NewMetrics(totalTargets, totalTiles, totalAgents int) *Metrics {
	return &Metrics{totalTargets: totalTargets, totalTiles: totalTiles, totalAgents: totalAgents}
}

// Start resets the tracker's clock at the beginning of a run.
func (m *Metrics) Start(now time.Duration) {
	m.startedAt = now
	m.started = true
	m.firstDetectionTime = nil
	m.handoffCount = 0
	m.history = nil
}

// RecordMessage bumps the handoff counter for ACCEPT_HANDOFF; messages of
// every other kind are not counted here.
func (m *Metrics) RecordMessage(kind MessageKind) {
	if kind == KindAcceptHandoff {
		m.handoffCount++
	}
}

// Update appends a MetricsSnapshot for the current tick.
func (m *Metrics) Update(now time.Duration, tick int, agents []DroneSnapshot, visitedCount int, targetsFound int, messagesSent int) {
	if !m.started {
		return
	}
	elapsed := now - m.startedAt

	active := 0
	var batterySum float64
	for _, a := range agents {
		if a.State != StateDead {
			active++
		}
		batterySum += a.Battery
	}
	avgBattery := 0.0
	if len(agents) > 0 {
		avgBattery = batterySum / float64(len(agents))
	}

	if targetsFound > 0 && m.firstDetectionTime == nil {
		t := elapsed
		m.firstDetectionTime = &t
	}

	coverage := 0.0
	if m.totalTiles > 0 {
		coverage = float64(visitedCount) / float64(m.totalTiles) * 100
	}

	m.history = append(m.history, MetricsSnapshot{
		Elapsed:         elapsed,
		Tick:            tick,
		CoveragePercent: coverage,
		TargetsFound:    targetsFound,
		TotalTargets:    m.totalTargets,
		ActiveAgents:    active,
		TotalAgents:     m.totalAgents,
		Handoffs:        m.handoffCount,
		MessagesSent:    messagesSent,
		AvgBattery:      avgBattery,
	})
}

// History returns the full metrics timeline.
func (m *Metrics) History() []MetricsSnapshot {
	out := make([]MetricsSnapshot, len(m.history))
	copy(out, m.history)
	return out
}

// Summary returns the final snapshot's headline numbers, or, if no ticks have
// run yet, a summary carrying only TotalTargets and TotalAgents.
func (m *Metrics) Summary() MetricsSnapshot {
	if len(m.history) == 0 {
		return MetricsSnapshot{TotalTargets: m.totalTargets, TotalAgents: m.totalAgents}
	}
	return m.history[len(m.history)-1]
}

// FirstDetectionTime returns the elapsed time to the first TARGET_FOUND, if
// any target has been found yet.
func (m *Metrics) FirstDetectionTime() (time.Duration, bool) {
	if m.firstDetectionTime == nil {
		return 0, false
	}
	return *m.firstDetectionTime, true
}
