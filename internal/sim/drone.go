package sim

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DroneState is the closed drone lifecycle variant (§3).
type DroneState string

const (
	StateIdle      DroneState = "IDLE"
	StateSearching DroneState = "SEARCHING"
	StateReturning DroneState = "RETURNING"
	StateDead      DroneState = "DEAD"
)

// Tunable battery and protocol constants (§6 "Tunable constants of the
// Drone").
const (
	BatteryDrainMove = 0.5
	BatteryDrainIdle = 0.1
	BatteryDrainScan = 0.3

	BatteryLow      = 20.0
	BatteryHandoff  = 40.0
	BatteryCritical = 5.0

	HeartbeatInterval = 2 * time.Second

	offloadThresholdTiles = 10
	offloadProbability    = 0.1
	offloadBatch          = 3
	handoffMaxTiles       = 10
)

// DroneSnapshot is the externally observable view of a Drone returned by
// Snapshot — no internal pathfinding or pending-offer state leaks out, so
// Ground (and anything serializing state for the command surface) never
// aliases Drone internals.
type DroneSnapshot struct {
	ID             string
	Position       Position
	Battery        float64
	State          DroneState
	AssignedTiles  int
	VisitedTiles   int
	TargetsFound   int
	HandoffPending bool
}

// Drone is an autonomous SAR searcher (§4.1).
type Drone struct {
	id       string
	grid     Grid
	rng      *rngSource
	oracle   DetectionOracle
	detectFB float64 // Bernoulli fallback probability when the oracle is unavailable

	position Position
	battery  float64
	state    DroneState

	assignedTiles map[Position]struct{}
	visitedTiles  map[Position]struct{}
	orderedTiles  []Position

	inboxMu sync.Mutex
	inbox   []Message

	pendingOffers map[string][]Position

	targetsFound []Position
	targetsSeen  map[Position]struct{}

	currentTarget *Position
	currentPath   []Position

	handoffPending bool
	lastHeartbeat  time.Duration

	oracleCalls   int
	fallbackCalls int

	logger *slog.Logger
}

// OracleStats reports how many detection scans this drone served from its
// DetectionOracle versus its seeded Bernoulli fallback, per §6's "oracle
// stats" introspection.
type OracleStats struct {
	OracleCalls   int
	FallbackCalls int
}

// NewDrone constructs a drone at start, seeded from (globalSeed, agentID) per
// §9.
func NewDrone(id string, start Position, grid Grid, globalSeed int64, oracle DetectionOracle, detectionProbability float64, logger *slog.Logger) *Drone {
	if logger == nil {
		logger = slog.Default()
	}
	return &Drone{
		id:            id,
		grid:          grid,
		rng:           newRNG(droneSeed(globalSeed, id)),
		oracle:        oracle,
		detectFB:      detectionProbability,
		position:      start,
		battery:       100.0,
		state:         StateIdle,
		assignedTiles: make(map[Position]struct{}),
		visitedTiles:  make(map[Position]struct{}),
		pendingOffers: make(map[string][]Position),
		targetsSeen:   make(map[Position]struct{}),
		logger:        logger.With("drone", id),
	}
}

// ID returns the drone's stable agent id.
func (d *Drone) ID() string { return d.id }

// Snapshot returns the drone's externally observable state.
func (d *Drone) Snapshot() DroneSnapshot {
	return DroneSnapshot{
		ID:             d.id,
		Position:       d.position,
		Battery:        d.battery,
		State:          d.state,
		AssignedTiles:  len(d.assignedTiles),
		VisitedTiles:   len(d.visitedTiles),
		TargetsFound:   len(d.targetsFound),
		HandoffPending: d.handoffPending,
	}
}

// Assign appends tiles to the drone's assignment. If ordered, orderedTiles is
// replaced with the given sweep sequence (§4.1).
func (d *Drone) Assign(tiles []Position, ordered []Position) {
	for _, t := range tiles {
		d.assignedTiles[t] = struct{}{}
	}
	if ordered != nil {
		d.orderedTiles = append([]Position(nil), ordered...)
	}
	if d.state == StateIdle && len(d.assignedTiles) > 0 {
		d.state = StateSearching
	}
}

// Reassign clears the current assignment, path, and target, then assigns the
// new tiles (§4.1, used by dynamic zone reallocation).
func (d *Drone) Reassign(tiles []Position, ordered []Position) {
	d.assignedTiles = make(map[Position]struct{})
	d.orderedTiles = nil
	d.currentPath = nil
	d.currentTarget = nil
	d.Assign(tiles, ordered)
}

// Deliver appends msg to the inbox unless the drone is its own sender. It is
// called from the Bus's fan-out goroutine, concurrently with Tick running on
// the driver's logical thread, so it only ever touches inbox under inboxMu
// (§5: handlers must not mutate state directly, only enqueue).
func (d *Drone) Deliver(msg Message) {
	if msg.SenderID == d.id {
		return
	}
	d.inboxMu.Lock()
	d.inbox = append(d.inbox, msg)
	d.inboxMu.Unlock()
}

// Tick runs one simulated step and returns every message the drone emitted.
// Order of operations follows §4.1 exactly.
func (d *Drone) Tick(now time.Duration, peerPositions map[string]Position) []Message {
	var emitted []Message

	if d.state == StateDead {
		return emitted
	}
	if d.battery <= BatteryCritical {
		d.state = StateDead
		return emitted
	}

	emitted = append(emitted, d.processInbox()...)

	if now-d.lastHeartbeat >= HeartbeatInterval {
		msg := newMessage(KindHeartbeat, d.id, wallClock(now))
		msg.Heartbeat = &HeartbeatPayload{Position: d.position, Battery: d.battery}
		emitted = append(emitted, msg)
		d.lastHeartbeat = now
	}

	if d.battery < BatteryLow && !d.handoffPending && len(d.assignedTiles) > 0 {
		msg := newMessage(KindHandoffRequest, d.id, wallClock(now))
		msg.HandoffRequest = &HandoffRequestPayload{
			Tiles:    d.assignedTilesList(),
			Position: d.position,
			Battery:  d.battery,
		}
		emitted = append(emitted, msg)
		d.handoffPending = true
	}

	if d.state == StateIdle && len(d.assignedTiles) > 0 {
		d.state = StateSearching
	}

	if d.state == StateSearching {
		emitted = append(emitted, d.tickSearching(now, peerPositions)...)
	}

	if len(d.assignedTiles) > offloadThresholdTiles && d.rng.Float64() < offloadProbability {
		emitted = append(emitted, d.offerTiles(now))
	}

	return emitted
}

func (d *Drone) tickSearching(now time.Duration, peerPositions map[string]Position) []Message {
	var emitted []Message

	target := d.nextTarget()
	if target == nil {
		d.state = StateIdle
		d.battery -= BatteryDrainIdle
		return emitted
	}

	if d.position != *target {
		occupied := occupiedPositions(peerPositions, d.id)
		if d.moveToward(*target, occupied) {
			d.battery -= BatteryDrainMove
		}
	}

	if d.position == *target {
		d.visitedTiles[*target] = struct{}{}
		d.battery -= BatteryDrainScan

		result := d.detect(*target)
		if result.PersonDetected {
			if _, seen := d.targetsSeen[*target]; !seen {
				d.targetsSeen[*target] = struct{}{}
				d.targetsFound = append(d.targetsFound, *target)
				msg := newMessage(KindTargetFound, d.id, wallClock(now))
				msg.TargetFound = &TargetFoundPayload{
					Position:   *target,
					Confidence: result.Confidence,
					Detections: result.Detections,
					Method:     result.Method,
				}
				emitted = append(emitted, msg)
			}
		}
	}

	return emitted
}

// detect queries the DetectionOracle, falling back to a seeded Bernoulli
// draw against the grid's fixed target positions if the oracle is missing or
// panics (§4.1 "Failure semantics").
func (d *Drone) detect(tile Position) (result DetectionResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("detection oracle unavailable, using fallback", "recover", r)
			result = d.fallbackDetect(tile)
		}
	}()
	if d.oracle == nil {
		return d.fallbackDetect(tile)
	}
	d.oracleCalls++
	return d.oracle.Detect(tile, d.grid.TargetPositions)
}

func (d *Drone) fallbackDetect(tile Position) DetectionResult {
	d.fallbackCalls++
	if !d.grid.IsTarget(tile) {
		return DetectionResult{Method: "probability_fallback"}
	}
	if d.rng.Float64() < d.detectFB {
		return DetectionResult{PersonDetected: true, Confidence: 0.92, Detections: 1, Method: "probability_fallback"}
	}
	return DetectionResult{Method: "probability_fallback"}
}

// Oracle returns this drone's cumulative oracle-vs-fallback call counts.
func (d *Drone) Oracle() OracleStats {
	return OracleStats{OracleCalls: d.oracleCalls, FallbackCalls: d.fallbackCalls}
}

// nextTarget selects the next tile to visit: first unvisited tile in
// orderedTiles order, else the Manhattan-nearest unvisited tile, ties broken
// lexically (§4.1.3).
func (d *Drone) nextTarget() *Position {
	unvisited := make(map[Position]struct{})
	for t := range d.assignedTiles {
		if _, visited := d.visitedTiles[t]; !visited {
			unvisited[t] = struct{}{}
		}
	}
	if len(unvisited) == 0 {
		return nil
	}

	for _, t := range d.orderedTiles {
		if _, ok := unvisited[t]; ok {
			tile := t
			return &tile
		}
	}

	var best *Position
	bestDist := -1
	for t := range unvisited {
		dist := d.position.Manhattan(t)
		if best == nil || dist < bestDist || (dist == bestDist && t.Less(*best)) {
			tile := t
			best = &tile
			bestDist = dist
		}
	}
	return best
}

// assignedTilesList returns the assignment as a deterministically ordered
// slice, used when serializing HANDOFF_REQUEST payloads.
func (d *Drone) assignedTilesList() []Position {
	out := make([]Position, 0, len(d.assignedTiles))
	for t := range d.assignedTiles {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (d *Drone) offerTiles(now time.Duration) Message {
	all := d.assignedTilesList()
	n := offloadBatch
	if n > len(all) {
		n = len(all)
	}
	offered := append([]Position(nil), all[:n]...)

	msg := newMessage(KindOfferTile, d.id, wallClock(now))
	msg.OfferTile = &OfferTilePayload{Tiles: offered}
	d.pendingOffers[msg.ID] = offered
	return msg
}

func occupiedPositions(peers map[string]Position, self string) map[Position]struct{} {
	occupied := make(map[Position]struct{}, len(peers))
	for id, pos := range peers {
		if id != self {
			occupied[pos] = struct{}{}
		}
	}
	return occupied
}

func wallClock(d time.Duration) time.Time {
	return time.Unix(0, d.Nanoseconds())
}
