package sim

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

const (
	GroundHeartbeatTimeout   = 10 * time.Second
	GroundCoordinationPeriod = 5 * time.Second

	groundLowBattery      = 25.0
	groundCriticalBattery = 15.0
	groundHandoffMinScore = 40.0
)

// DroneStatus is Ground's externally observable mirror of a Drone (§3). It
// holds no reference into drone internals — every field is copied by value,
// either from a HEARTBEAT payload or from a DroneSnapshot pushed by the
// Driver each tick.
type DroneStatus struct {
	ID                    string
	Position              Position
	Battery               float64
	State                 DroneState
	AssignedTiles         int
	VisitedTiles          int
	TargetsFound          int
	LastHeartbeatWallTime time.Time
	IsActive              bool
}

// GroundStats are the rolling statistics Ground exposes for introspection.
type GroundStats struct {
	CommandsSent       int
	MessagesReceived   int
	TargetsFound       int
	ActiveDrones       int
	CoordinationCycles int
	CoveragePercent    float64
}

// Ground is the supervisory ground controller (§4.2). It never mutates a
// drone directly; all influence flows out as GROUND_COMMAND messages.
type Ground struct {
	id string

	statuses          map[string]*DroneStatus
	discoveredTargets map[Position]struct{}
	priorityAreas     []Position

	lastCoordination time.Duration
	stats            GroundStats

	inboxMu sync.Mutex
	inbox   []Message

	logger *slog.Logger
}

// NewGround constructs a Ground controller.
func NewGround(id string, logger *slog.Logger) *Ground {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ground{
		id:                id,
		statuses:          make(map[string]*DroneStatus),
		discoveredTargets: make(map[Position]struct{}),
		logger:            logger.With("component", "ground"),
	}
}

// Deliver appends msg to Ground's inbox, mirroring how a Drone's bus handler
// only appends; processing happens on the next Drain, keeping Ground's state
// mutation confined to the driver's logical thread (§5). Called from the
// Bus's fan-out goroutine, so it only touches inbox under inboxMu.
func (g *Ground) Deliver(msg Message) {
	g.inboxMu.Lock()
	g.inbox = append(g.inbox, msg)
	g.inboxMu.Unlock()
}

// Drain processes every message queued since the last Drain, in FIFO order,
// and returns the GROUND_COMMAND messages produced in response.
func (g *Ground) Drain(now time.Time) []Message {
	g.inboxMu.Lock()
	pending := g.inbox
	g.inbox = nil
	g.inboxMu.Unlock()

	var emitted []Message
	for _, msg := range pending {
		emitted = append(emitted, g.HandleMessage(msg, now)...)
	}
	return emitted
}

// HandleMessage processes one inbound message and returns any GROUND_COMMAND
// messages it produces in response (§4.2 "Per received message").
func (g *Ground) HandleMessage(msg Message, now time.Time) []Message {
	g.stats.MessagesReceived++

	switch msg.Kind {
	case KindHeartbeat:
		return g.handleHeartbeat(msg, now)
	case KindTargetFound:
		g.handleTargetFound(msg)
	case KindHandoffRequest:
		return g.handleHandoffRequest(msg, now)
	}
	return nil
}

func (g *Ground) handleHeartbeat(msg Message, now time.Time) []Message {
	if msg.Heartbeat == nil {
		return nil
	}
	status, ok := g.statuses[msg.SenderID]
	if !ok {
		status = &DroneStatus{ID: msg.SenderID, State: StateSearching}
		g.statuses[msg.SenderID] = status
	}
	status.Position = msg.Heartbeat.Position
	status.Battery = msg.Heartbeat.Battery
	status.LastHeartbeatWallTime = now
	status.IsActive = true

	var emitted []Message
	switch {
	case status.Battery < groundCriticalBattery:
		emitted = append(emitted, g.sendCommand(msg.SenderID, CommandLevel(LevelCritical), ActionRecall, nil, now))
	case status.Battery < groundLowBattery:
		emitted = append(emitted, g.sendCommand(msg.SenderID, CommandLevel(LevelLow), ActionCoordinateHandoff, nil, now))
	}
	return emitted
}

func (g *Ground) handleTargetFound(msg Message) {
	if msg.TargetFound == nil {
		return
	}
	pos := msg.TargetFound.Position
	if _, ok := g.discoveredTargets[pos]; ok {
		return
	}
	g.discoveredTargets[pos] = struct{}{}
	g.stats.TargetsFound++
	if status, ok := g.statuses[msg.SenderID]; ok {
		status.TargetsFound++
	}
	g.logger.Info("target found", "by", msg.SenderID, "position", pos, "total", g.stats.TargetsFound)
}

func (g *Ground) handleHandoffRequest(msg Message, now time.Time) []Message {
	if msg.HandoffRequest == nil {
		return nil
	}
	best := g.bestHandoffCandidate(msg.SenderID)
	if best == "" {
		return nil
	}
	half := msg.HandoffRequest.Tiles[:len(msg.HandoffRequest.Tiles)/2]
	return []Message{g.sendCommand(best, LevelNone, ActionAssignTiles, half, now)}
}

// bestHandoffCandidate picks the active peer maximizing
// battery - 0.5*assigned_tiles among those with battery > 40, ties broken by
// lexically smallest id (§4.2).
func (g *Ground) bestHandoffCandidate(requester string) string {
	ids := make([]string, 0, len(g.statuses))
	for id := range g.statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	best := ""
	bestScore := math.Inf(-1)
	for _, id := range ids {
		if id == requester {
			continue
		}
		status := g.statuses[id]
		if !status.IsActive || status.Battery <= groundHandoffMinScore {
			continue
		}
		score := status.Battery - 0.5*float64(status.AssignedTiles)
		if best == "" || score > bestScore {
			bestScore = score
			best = id
		}
	}
	return best
}

func (g *Ground) sendCommand(target string, level CommandLevel, action CommandAction, tiles []Position, now time.Time) Message {
	msg := newMessage(KindGroundCommand, g.id, now)
	msg.GroundCommand = &GroundCommandPayload{
		Level:  level,
		Action: action,
		Target: target,
		Tiles:  tiles,
	}
	g.stats.CommandsSent++
	return msg
}

// ObserveDrone mirrors a drone's snapshot into Ground's status table by
// value, matching "Ground never holds references into Drone internals"
// (§9).
func (g *Ground) ObserveDrone(snap DroneSnapshot, now time.Time) {
	status, ok := g.statuses[snap.ID]
	if !ok {
		status = &DroneStatus{ID: snap.ID, LastHeartbeatWallTime: now, IsActive: true}
		g.statuses[snap.ID] = status
	}
	status.AssignedTiles = snap.AssignedTiles
	status.VisitedTiles = snap.VisitedTiles
	status.State = snap.State
	status.Battery = snap.Battery
	status.Position = snap.Position
	status.TargetsFound = snap.TargetsFound
}

// TickCoordination runs the periodic coordination pass: every
// GroundCoordinationPeriod, mark timed-out drones inactive and recompute the
// active count (§4.2). The Ground never interferes directly; this only
// updates observable state.
func (g *Ground) TickCoordination(now time.Duration, wallNow time.Time) {
	if now-g.lastCoordination < GroundCoordinationPeriod {
		return
	}
	g.lastCoordination = now
	g.stats.CoordinationCycles++

	active := 0
	for id, status := range g.statuses {
		if wallNow.Sub(status.LastHeartbeatWallTime) > GroundHeartbeatTimeout {
			if status.IsActive {
				g.logger.Warn("drone stopped responding", "drone", id)
			}
			status.IsActive = false
		} else {
			active++
		}
	}
	g.stats.ActiveDrones = active
}

// SetCoverage updates the coverage percentage statistic from the grid's
// visited-tile count.
func (g *Ground) SetCoverage(visited, total int) {
	if total <= 0 {
		return
	}
	g.stats.CoveragePercent = float64(visited) / float64(total) * 100
}

// DiscoveredTargets returns the set-union of all drones' TARGET_FOUND
// reports.
func (g *Ground) DiscoveredTargets() []Position {
	out := make([]Position, 0, len(g.discoveredTargets))
	for p := range g.discoveredTargets {
		out = append(out, p)
	}
	return out
}

// Stats returns Ground's rolling statistics.
func (g *Ground) Stats() GroundStats { return g.stats }

// Statuses returns a copy of the per-drone status table.
func (g *Ground) Statuses() map[string]DroneStatus {
	out := make(map[string]DroneStatus, len(g.statuses))
	for id, s := range g.statuses {
		out[id] = *s
	}
	return out
}
