package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/trandavy/sard/internal/sarerr"
)

// Config is the enumerated, bounds-checked configuration for one run (§6
// "Configuration (enumerated)").
type Config struct {
	GridWidth            int           `yaml:"grid_width"`
	GridHeight           int           `yaml:"grid_height"`
	NumAgents            int           `yaml:"num_agents"`
	NumTargets           int           `yaml:"num_targets"`
	DurationSeconds      int           `yaml:"duration_seconds"`
	Seed                 int64         `yaml:"seed"`
	TickInterval         time.Duration `yaml:"tick_interval"`
	DetectionProbability float64       `yaml:"detection_probability"`

	// MinReallocInterval overrides the allocator's minimum-ticks-between-
	// reallocations gate (§6 "Allocator: min reallocation interval 20
	// ticks"). Zero means "use the default".
	MinReallocInterval int `yaml:"min_realloc_interval"`
}

// Validate enforces the ranges from §6. It returns a sarerr sentinel wrapped
// with the offending field so config.Load can report exactly what was out of
// bounds.
func (c Config) Validate() error {
	switch {
	case c.GridWidth < 5 || c.GridWidth > 50:
		return fmt.Errorf("grid_width=%d: %w", c.GridWidth, sarerr.ErrConfigOutOfRange)
	case c.GridHeight < 5 || c.GridHeight > 50:
		return fmt.Errorf("grid_height=%d: %w", c.GridHeight, sarerr.ErrConfigOutOfRange)
	case c.NumAgents < 2 || c.NumAgents > 10:
		return fmt.Errorf("num_agents=%d: %w", c.NumAgents, sarerr.ErrConfigOutOfRange)
	case c.NumTargets < 1 || c.NumTargets > 20:
		return fmt.Errorf("num_targets=%d: %w", c.NumTargets, sarerr.ErrConfigOutOfRange)
	case c.DurationSeconds < 30 || c.DurationSeconds > 600:
		return fmt.Errorf("duration_seconds=%d: %w", c.DurationSeconds, sarerr.ErrConfigOutOfRange)
	case c.TickInterval < 100*time.Millisecond || c.TickInterval > 2*time.Second:
		return fmt.Errorf("tick_interval=%s: %w", c.TickInterval, sarerr.ErrConfigOutOfRange)
	case c.DetectionProbability < 0.1 || c.DetectionProbability > 1.0:
		return fmt.Errorf("detection_probability=%g: %w", c.DetectionProbability, sarerr.ErrConfigOutOfRange)
	}
	return nil
}

// canonicalStartPositions returns the corner/midpoint/center points a Driver
// places drones at, in a fixed declaration order later shuffled by the same
// seeded RNG used for target placement (§4.5).
func canonicalStartPositions(w, h int) []Position {
	return []Position{
		{X: 0, Y: 0}, {X: w - 1, Y: 0}, {X: 0, Y: h - 1}, {X: w - 1, Y: h - 1},
		{X: w / 2, Y: 0}, {X: 0, Y: h / 2}, {X: w - 1, Y: h / 2}, {X: w / 2, Y: h - 1},
		{X: w / 2, Y: h / 2},
	}
}

// FullState is the observer hook payload (§6 "Driver observer hook"), handed
// to the optional OnStateUpdate callback once per tick and appended verbatim
// to a recording.
type FullState struct {
	Tick            int                    `json:"tick"`
	SimTime         time.Duration          `json:"sim_time"`
	Running         bool                   `json:"running"`
	Paused          bool                   `json:"paused"`
	CoveragePercent float64                `json:"coverage_percent"`
	Agents          []DroneSnapshot        `json:"agents"`
	Grid            GridState              `json:"grid"`
	MessageStats    BusStats               `json:"message_stats"`
	Ground          GroundStats            `json:"ground_agent"`
	GroundStatuses  map[string]DroneStatus `json:"ground_statuses"`
}

// GridState is the grid view embedded in FullState.
type GridState struct {
	Width           int        `json:"width"`
	Height          int        `json:"height"`
	VisitedTiles    []Position `json:"visited_tiles"`
	TargetPositions []Position `json:"target_positions"`
	AllTargetsFound bool       `json:"all_targets_found"`
}

// ReplayState is one recorded {tick, timestamp, state} entry (§6 "Replay
// file").
type ReplayState struct {
	Tick      int       `json:"tick"`
	Timestamp time.Time `json:"timestamp"`
	State     FullState `json:"state"`
}

// Driver owns the world: grid, bus, drones, ground, allocator, metrics, and
// the tick loop that drives them (§4.5).
type Driver struct {
	mu sync.Mutex

	cfg    Config
	logger *slog.Logger
	oracle DetectionOracle

	grid      Grid
	bus       *Bus
	allocator Allocator
	ground    *Ground
	drones    []*Drone
	droneIDs  []string

	metrics *Metrics

	tick            int
	simTime         time.Duration
	ticksSinceAlloc int
	running         bool
	paused          bool

	recording     bool
	recordedMsgs  []Message
	recordedState []ReplayState

	onStateUpdate func(FullState)

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDriver validates cfg and builds the initial world. oracle may be nil,
// in which case every drone falls back to its seeded Bernoulli draw.
func NewDriver(cfg Config, oracle DetectionOracle, logger *slog.Logger) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sim: invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{
		cfg:    cfg,
		logger: logger.With("component", "driver"),
		oracle: oracle,
	}
	d.reset()
	return d, nil
}

// reset rebuilds the world from d.cfg and the original seed (§4.5 "init").
// Callers must hold d.mu.
func (d *Driver) reset() {
	initRNG := newRNG(d.cfg.Seed)
	d.grid = NewGrid(d.cfg.GridWidth, d.cfg.GridHeight, d.cfg.NumTargets, initRNG)

	starts := canonicalStartPositions(d.cfg.GridWidth, d.cfg.GridHeight)
	initRNG.shuffle(len(starts), func(i, j int) { starts[i], starts[j] = starts[j], starts[i] })

	if d.bus != nil {
		d.bus.Stop(context.Background())
	}
	d.bus = NewBus(d.logger)

	d.ground = NewGround("ground", d.logger)
	d.bus.Register(d.ground.id, d.ground.Deliver)

	d.drones = make([]*Drone, d.cfg.NumAgents)
	d.droneIDs = make([]string, d.cfg.NumAgents)
	for i := 0; i < d.cfg.NumAgents; i++ {
		id := fmt.Sprintf("drone-%d", i)
		start := starts[i%len(starts)]
		drone := NewDrone(id, start, d.grid, d.cfg.Seed, d.oracle, d.cfg.DetectionProbability, d.logger)
		d.drones[i] = drone
		d.droneIDs[i] = id
		d.bus.Register(id, drone.Deliver)
	}

	d.applyAllocation(d.unvisitedTiles())

	d.metrics = NewMetrics(len(d.grid.TargetPositions), len(AllTiles(d.cfg.GridWidth, d.cfg.GridHeight)), len(d.drones))
	d.metrics.Start(0)

	d.tick = 0
	d.simTime = 0
	d.ticksSinceAlloc = 0
	d.running = false
	d.paused = false
	d.recordedMsgs = nil
	d.recordedState = nil
}

// Reset rebuilds the world from the original seed and configuration (§4.5
// "reset"), stopping any in-flight run first.
func (d *Driver) Reset() {
	d.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
}

func (d *Driver) unvisitedTiles() []Position {
	visited := make(map[Position]struct{})
	for _, dr := range d.drones {
		for t := range dr.visitedTiles {
			visited[t] = struct{}{}
		}
	}
	all := AllTiles(d.cfg.GridWidth, d.cfg.GridHeight)
	out := make([]Position, 0, len(all))
	for _, t := range all {
		if _, ok := visited[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}

// applyAllocation computes a fresh partition over tiles and reassigns every
// drone, boustrophedon-ordered (§4.3, §4.5).
func (d *Driver) applyAllocation(tiles []Position) {
	positions := make(map[string]Position, len(d.drones))
	batteries := make(map[string]float64, len(d.drones))
	for _, dr := range d.drones {
		positions[dr.id] = dr.position
		batteries[dr.id] = dr.battery
	}
	allocation := d.allocator.Allocate(positions, tiles, batteries)
	ordered := d.allocator.OptimizeForSpeed(allocation, positions)
	for _, dr := range d.drones {
		dr.Reassign(ordered[dr.id], ordered[dr.id])
	}
	d.ticksSinceAlloc = 0
}

// SetOnStateUpdate installs the optional per-tick observer hook (§6).
func (d *Driver) SetOnStateUpdate(cb func(FullState)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStateUpdate = cb
}

// Start runs the tick loop at cfg.TickInterval until duration_seconds
// elapses or Stop is called (§4.5 "start"). It blocks the calling goroutine;
// callers that want a background run should invoke it in its own goroutine.
func (d *Driver) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	interval := d.cfg.TickInterval
	maxDuration := time.Duration(d.cfg.DurationSeconds) * time.Second
	d.mu.Unlock()

	defer close(d.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.mu.Lock()
			if d.paused {
				d.mu.Unlock()
				continue
			}
			d.stepLocked()
			elapsed := d.simTime
			d.mu.Unlock()
			if elapsed >= maxDuration {
				return
			}
		}
	}
}

// stepLocked runs exactly one tick in the §4.5 order. Callers must hold d.mu.
func (d *Driver) stepLocked() {
	d.tick++
	d.simTime += d.cfg.TickInterval
	now := d.simTime
	wallNow := time.Now()

	peerPositions := make(map[string]Position, len(d.drones))
	for _, dr := range d.drones {
		peerPositions[dr.id] = dr.position
	}

	totalTargetsFound := 0
	for _, dr := range d.drones {
		emitted := dr.Tick(now, peerPositions)
		for _, msg := range emitted {
			d.publish(msg)
		}
		totalTargetsFound += len(dr.targetsFound)
	}

	for _, msg := range d.ground.Drain(wallNow) {
		d.publish(msg)
	}
	d.ground.TickCoordination(now, wallNow)

	for _, dr := range d.drones {
		d.ground.ObserveDrone(dr.Snapshot(), wallNow)
	}

	d.ticksSinceAlloc++
	if d.shouldReallocate() {
		d.applyAllocation(d.unvisitedTiles())
	}

	visited := d.visitedCount()
	total := len(AllTiles(d.cfg.GridWidth, d.cfg.GridHeight))
	d.ground.SetCoverage(visited, total)

	stats := d.bus.Stats()
	d.metrics.Update(now, d.tick, d.snapshotsLocked(), visited, totalTargetsFound, stats.TotalSent)

	if d.recording {
		state := d.fullStateLocked()
		d.recordedState = append(d.recordedState, ReplayState{Tick: d.tick, Timestamp: wallNow, State: state})
	}

	if d.onStateUpdate != nil {
		d.onStateUpdate(d.fullStateLocked())
	}
}

// StepN runs n ticks synchronously with no wall-clock sleeping between
// them, for offline scoring (the trainer) and tests that need a completed
// run without waiting out cfg.TickInterval in real time.
func (d *Driver) StepN(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		d.stepLocked()
	}
}

func (d *Driver) publish(msg Message) {
	d.metrics.RecordMessage(msg.Kind)
	if d.recording {
		d.recordedMsgs = append(d.recordedMsgs, msg)
	}
	d.bus.Publish(msg)
}

func (d *Driver) shouldReallocate() bool {
	current := make(map[string][]Position, len(d.drones))
	batteries := make(map[string]float64, len(d.drones))
	for _, dr := range d.drones {
		current[dr.id] = dr.assignedTilesList()
		batteries[dr.id] = dr.battery
	}
	return d.allocator.ShouldReallocate(current, batteries, d.ticksSinceAlloc, d.cfg.MinReallocInterval)
}

func (d *Driver) visitedCount() int {
	union := make(map[Position]struct{})
	for _, dr := range d.drones {
		for t := range dr.visitedTiles {
			union[t] = struct{}{}
		}
	}
	return len(union)
}

func (d *Driver) snapshotsLocked() []DroneSnapshot {
	out := make([]DroneSnapshot, len(d.drones))
	for i, dr := range d.drones {
		out[i] = dr.Snapshot()
	}
	return out
}

func (d *Driver) fullStateLocked() FullState {
	visited := make([]Position, 0)
	seen := make(map[Position]struct{})
	found := make(map[Position]struct{})
	allFound := true
	for _, dr := range d.drones {
		for t := range dr.visitedTiles {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				visited = append(visited, t)
			}
		}
		for _, t := range dr.targetsFound {
			found[t] = struct{}{}
		}
	}
	targets := make([]Position, 0, len(d.grid.TargetPositions))
	for t := range d.grid.TargetPositions {
		targets = append(targets, t)
		if _, ok := found[t]; !ok {
			allFound = false
		}
	}

	return FullState{
		Tick:            d.tick,
		SimTime:         d.simTime,
		Running:         d.running,
		Paused:          d.paused,
		CoveragePercent: d.ground.Stats().CoveragePercent,
		Agents:          d.snapshotsLocked(),
		Grid: GridState{
			Width:           d.grid.Width,
			Height:          d.grid.Height,
			VisitedTiles:    visited,
			TargetPositions: targets,
			AllTargetsFound: allFound,
		},
		MessageStats:   d.bus.Stats(),
		Ground:         d.ground.Stats(),
		GroundStatuses: d.ground.Statuses(),
	}
}

// Stop cancels the tick loop cooperatively and idempotently, draining final
// state and closing the bus (§5, §7 "driver shutdown").
func (d *Driver) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	stopCh := d.stopCh
	doneCh := d.doneCh
	d.mu.Unlock()

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-doneCh

	d.mu.Lock()
	d.running = false
	bus := d.bus
	d.mu.Unlock()
	bus.Stop(context.Background())
}

// Pause toggles the paused flag; paused ticks sleep without advancing the
// clock (§4.5).
func (d *Driver) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
}

// Resume clears the paused flag.
func (d *Driver) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
}

// State returns a snapshot of the full observable state (§6 "Introspection").
func (d *Driver) State() FullState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fullStateLocked()
}

// Metrics returns the current metrics summary and full history.
func (d *Driver) Metrics() (MetricsSnapshot, []MetricsSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metrics.Summary(), d.metrics.History()
}

// RecentMessages returns up to the bus's observer ring capacity of recently
// delivered messages.
func (d *Driver) RecentMessages() []Message {
	d.mu.Lock()
	bus := d.bus
	d.mu.Unlock()
	return bus.RecentMessages()
}

// GroundState returns Ground's stats and per-drone status mirror.
func (d *Driver) GroundState() (GroundStats, map[string]DroneStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ground.Stats(), d.ground.Statuses()
}

// OracleStats returns each drone's cumulative oracle-vs-fallback detection
// call counts, keyed by drone id (§6 "oracle stats").
func (d *Driver) OracleStats() map[string]OracleStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]OracleStats, len(d.drones))
	for _, dr := range d.drones {
		out[dr.id] = dr.Oracle()
	}
	return out
}

// StartRecording begins capturing delivered messages and per-tick state
// snapshots for a later SaveReplay (§6 "Recording").
func (d *Driver) StartRecording() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recording = true
	d.recordedMsgs = nil
	d.recordedState = nil
	d.bus.StartRecording()
}

// ReplayFile is the JSON-serializable replay document (§6 "Replay file").
type ReplayFile struct {
	Config   Config        `json:"config"`
	Messages []Message     `json:"messages"`
	States   []ReplayState `json:"states"`
}

// Replay builds the replay document for the current recording, without
// writing it anywhere; callers decide how to persist it (e.g. as JSON via
// encoding/json, consistent with the teacher's writeJSON helper).
func (d *Driver) Replay() ReplayFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return ReplayFile{
		Config:   d.cfg,
		Messages: append([]Message(nil), d.recordedMsgs...),
		States:   append([]ReplayState(nil), d.recordedState...),
	}
}

// SaveReplay writes the current recording to path as indented JSON (§6
// "Recording: ... save_replay(path)"), mirroring the teacher's writeJSON
// formatting.
func (d *Driver) SaveReplay(path string) error {
	replay := d.Replay()
	data, err := json.MarshalIndent(replay, "", "  ")
	if err != nil {
		return fmt.Errorf("sim: marshal replay: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("sim: write replay %s: %w", path, err)
	}
	return nil
}

// LoadReplay reads a replay file written by SaveReplay, tolerating unknown
// fields per §6 "Forward-compatible".
func LoadReplay(path string) (ReplayFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ReplayFile{}, fmt.Errorf("sim: read replay %s: %w", path, err)
	}
	var replay ReplayFile
	if err := json.Unmarshal(data, &replay); err != nil {
		return ReplayFile{}, fmt.Errorf("%w: %s: %v", sarerr.ErrReplayUnreadable, path, err)
	}
	return replay, nil
}
