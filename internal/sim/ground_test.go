package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGroundHandleHeartbeatTracksStatus(t *testing.T) {
	g := NewGround("ground", nil)
	now := time.Now()

	msg := newMessage(KindHeartbeat, "drone-0", now)
	msg.Heartbeat = &HeartbeatPayload{Position: Position{X: 1, Y: 2}, Battery: 80}

	emitted := g.HandleMessage(msg, now)
	require.Empty(t, emitted)

	statuses := g.Statuses()
	require.Contains(t, statuses, "drone-0")
	require.Equal(t, Position{X: 1, Y: 2}, statuses["drone-0"].Position)
	require.InDelta(t, 80.0, statuses["drone-0"].Battery, 0.001)
}

func TestGroundSendsCriticalRecallBelowThreshold(t *testing.T) {
	g := NewGround("ground", nil)
	now := time.Now()

	msg := newMessage(KindHeartbeat, "drone-0", now)
	msg.Heartbeat = &HeartbeatPayload{Position: Position{}, Battery: groundCriticalBattery - 1}

	emitted := g.HandleMessage(msg, now)
	require.Len(t, emitted, 1)
	require.Equal(t, KindGroundCommand, emitted[0].Kind)
	require.Equal(t, ActionRecall, emitted[0].GroundCommand.Action)
}

func TestGroundBestHandoffCandidateExcludesRequesterAndLowBattery(t *testing.T) {
	g := NewGround("ground", nil)
	now := time.Now()

	for id, battery := range map[string]float64{"drone-0": 100, "drone-1": 20, "drone-2": 90} {
		msg := newMessage(KindHeartbeat, id, now)
		msg.Heartbeat = &HeartbeatPayload{Battery: battery}
		g.HandleMessage(msg, now)
	}

	require.Equal(t, "drone-2", g.bestHandoffCandidate("drone-0"))
}

func TestGroundDeliverDrainIsFIFO(t *testing.T) {
	g := NewGround("ground", nil)
	now := time.Now()

	first := newMessage(KindHeartbeat, "drone-0", now)
	first.Heartbeat = &HeartbeatPayload{Battery: 50}
	second := newMessage(KindTargetFound, "drone-0", now)
	second.TargetFound = &TargetFoundPayload{Position: Position{X: 1, Y: 1}}

	g.Deliver(first)
	g.Deliver(second)

	g.Drain(now)
	require.Equal(t, 1, g.Stats().TargetsFound)
	require.Equal(t, 2, g.Stats().MessagesReceived)
	// The heartbeat created drone-0's status before the target report was
	// handled, so the report was credited to it.
	require.Equal(t, 1, g.Statuses()["drone-0"].TargetsFound)
}

func TestGroundMarksDroneInactiveAfterHeartbeatTimeout(t *testing.T) {
	g := NewGround("ground", nil)
	start := time.Now()

	msg := newMessage(KindHeartbeat, "drone-0", start)
	msg.Heartbeat = &HeartbeatPayload{Battery: 90}
	g.HandleMessage(msg, start)
	g.ObserveDrone(DroneSnapshot{ID: "drone-0", Battery: 90}, start)

	g.TickCoordination(GroundCoordinationPeriod, start)
	require.True(t, g.Statuses()["drone-0"].IsActive)

	later := start.Add(GroundHeartbeatTimeout + time.Second)
	g.TickCoordination(2*GroundCoordinationPeriod, later)
	require.False(t, g.Statuses()["drone-0"].IsActive)
}
