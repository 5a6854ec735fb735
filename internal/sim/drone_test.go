package sim

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestDrone(id string, start Position, grid Grid) *Drone {
	return NewDrone(id, start, grid, 42, &SimulatedOracle{}, 0.8, nil)
}

func newTestDroneWithLogBuf(id string, start Position, grid Grid) (*Drone, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return NewDrone(id, start, grid, 42, &SimulatedOracle{}, 0.8, logger), &buf
}

func TestDroneTransitionsIdleToSearchingOnAssign(t *testing.T) {
	grid := Grid{Width: 5, Height: 5}
	d := newTestDrone("drone-0", Position{X: 0, Y: 0}, grid)
	require.Equal(t, StateIdle, d.state)

	d.Assign([]Position{{X: 1, Y: 0}}, nil)
	require.Equal(t, StateSearching, d.state)
}

// TestDroneBatteryDeathWithinTwoTicks is scenario 4 from §8: a single drone on
// a 5x5 grid with battery 5.5, fully assigned, dies within 2 ticks and emits
// nothing thereafter. The drone starts away from its first sweep tile, so
// tick 1 spends a move (5.5 -> 5.0) and tick 2 finds it at the critical level.
func TestDroneBatteryDeathWithinTwoTicks(t *testing.T) {
	grid := NewGrid(5, 5, 1, newRNG(1))
	d := newTestDrone("drone-0", Position{X: 4, Y: 4}, grid)
	d.battery = 5.5
	d.Assign(AllTiles(5, 5), BoustrophedonOrder(AllTiles(5, 5), Position{X: 0, Y: 0}))

	died := false
	for i := 0; i < 2; i++ {
		now := time.Duration(i+1) * time.Second
		d.Tick(now, nil)
		if d.state == StateDead {
			died = true
			break
		}
	}
	require.True(t, died, "drone should be dead within 2 ticks at battery 5.5")

	emitted := d.Tick(3*time.Second, nil)
	require.Empty(t, emitted, "a dead drone must emit nothing")
	require.Equal(t, StateDead, d.state)
}

func TestDroneDeadDroneDoesNotMove(t *testing.T) {
	grid := Grid{Width: 5, Height: 5}
	d := newTestDrone("drone-0", Position{X: 2, Y: 2}, grid)
	d.state = StateDead
	d.Assign([]Position{{X: 4, Y: 4}}, nil)
	d.state = StateDead // Assign may flip to SEARCHING; force back to DEAD

	before := d.position
	d.Tick(time.Second, nil)
	require.Equal(t, before, d.position)
}

// TestDroneHandoffRequestEmittedOncePerLowBatteryEpisode checks the
// handoff_pending gate: a drone under BatteryLow with tiles assigned emits
// HANDOFF_REQUEST on the first tick it crosses the threshold, then stays
// silent on subsequent ticks until the pending flag is cleared.
func TestDroneHandoffRequestEmittedOncePerLowBatteryEpisode(t *testing.T) {
	grid := Grid{Width: 10, Height: 10}
	d := newTestDrone("drone-0", Position{X: 0, Y: 0}, grid)
	d.battery = BatteryLow - 1
	d.Assign([]Position{{X: 5, Y: 5}}, nil)

	first := d.Tick(time.Second, nil)
	require.True(t, containsKind(first, KindHandoffRequest))
	require.True(t, d.handoffPending)

	second := d.Tick(2*time.Second, nil)
	require.False(t, containsKind(second, KindHandoffRequest), "must not re-emit while handoff_pending is set")
}

// TestDroneHandoffRequestAcceptedByPeer is scenario 3 from §8: drone A
// (battery 22, all tiles assigned) and drone B (battery 100, no tiles) on a
// 6x6 grid. Within 10 ticks A emits HANDOFF_REQUEST and B replies with
// ACCEPT_HANDOFF carrying <=10 tiles; applying that reply shrinks A's
// assignment and grows B's by the same count.
func TestDroneHandoffRequestAcceptedByPeer(t *testing.T) {
	grid := NewGrid(6, 6, 7, newRNG(7))
	a := newTestDrone("drone-a", Position{X: 0, Y: 0}, grid)
	b := newTestDrone("drone-b", Position{X: 5, Y: 5}, grid)
	a.battery = 22
	tiles := AllTiles(6, 6)
	a.Assign(tiles, BoustrophedonOrder(tiles, Position{X: 0, Y: 0}))

	var handoffReq *Message
	for i := 1; i <= 10 && handoffReq == nil; i++ {
		now := time.Duration(i) * time.Second
		emitted := a.Tick(now, map[string]Position{"drone-a": a.position, "drone-b": b.position})
		for i := range emitted {
			if emitted[i].Kind == KindHandoffRequest {
				handoffReq = &emitted[i]
			}
		}
	}
	require.NotNil(t, handoffReq, "drone A should emit a HANDOFF_REQUEST within 10 ticks")

	before := len(a.assignedTiles)
	b.Deliver(*handoffReq)
	replies := b.processInbox()
	require.Len(t, replies, 1)
	require.Equal(t, KindAcceptHandoff, replies[0].Kind)
	require.LessOrEqual(t, len(replies[0].AcceptHandoff.Tiles), handoffMaxTiles)

	accepted := len(replies[0].AcceptHandoff.Tiles)
	require.Equal(t, accepted, len(b.assignedTiles))

	a.Deliver(replies[0])
	a.processInbox()
	require.Equal(t, before-accepted, len(a.assignedTiles))
	require.False(t, a.handoffPending)
}

func TestDroneAcceptOfferTracksOnlyOnePendingEntryPerMessageID(t *testing.T) {
	grid := Grid{Width: 10, Height: 10}
	d := newTestDrone("drone-0", Position{X: 0, Y: 0}, grid)
	tiles := []Position{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}}
	d.Assign(append(tiles, make([]Position, offloadThresholdTiles)...), nil)

	offerMsg := d.offerTiles(time.Second)
	require.Len(t, d.pendingOffers, 1)

	// The offer's three tiles sit under one pending entry keyed by the
	// message id (§9), so a single accept for that id clears it.
	accept := newMessage(KindAcceptOffer, "peer", time.Unix(1, 0))
	accept.AcceptOffer = &AcceptOfferPayload{OriginalMessageID: offerMsg.ID, Tiles: offerMsg.OfferTile.Tiles}
	d.handleAcceptOffer(accept)
	require.Empty(t, d.pendingOffers)
}

// TestDroneAcceptHandoffQuirkAcceptsWhenPendingEvenForOtherAgent documents the
// §9 quirk: ACCEPT_HANDOFF is admitted if from_agent matches self OR
// handoff_pending happens to be set, even when the message was addressed to
// a different requester.
func TestDroneAcceptHandoffQuirkAcceptsWhenPendingEvenForOtherAgent(t *testing.T) {
	grid := Grid{Width: 10, Height: 10}
	d := newTestDrone("drone-0", Position{X: 0, Y: 0}, grid)
	d.handoffPending = true

	msg := newMessage(KindAcceptHandoff, "peer", time.Unix(0, 0))
	msg.AcceptHandoff = &AcceptHandoffPayload{FromAgent: "someone-else", Tiles: []Position{{X: 1, Y: 1}}}

	d.handleAcceptHandoff(msg)
	require.False(t, d.handoffPending, "pending flag clears even though FromAgent didn't match self")
}

// TestDroneAcceptOfferWarnsOnDoubleTileRemoval exercises §7's "tile removed
// twice" invariant check: an ACCEPT_OFFER naming a tile the drone no longer
// holds must log a warning instead of silently no-oping the delete.
func TestDroneAcceptOfferWarnsOnDoubleTileRemoval(t *testing.T) {
	grid := Grid{Width: 10, Height: 10}
	d, logbuf := newTestDroneWithLogBuf("drone-0", Position{X: 0, Y: 0}, grid)

	msg := newMessage(KindAcceptOffer, "peer", time.Unix(0, 0))
	msg.AcceptOffer = &AcceptOfferPayload{OriginalMessageID: "missing", Tiles: []Position{{X: 3, Y: 3}}}

	d.handleAcceptOffer(msg)
	require.Contains(t, logbuf.String(), "tile removed twice from assignment")
}

// TestDroneAcceptHandoffWarnsOnDoubleTileRemoval is the ACCEPT_HANDOFF analog
// of the above.
func TestDroneAcceptHandoffWarnsOnDoubleTileRemoval(t *testing.T) {
	grid := Grid{Width: 10, Height: 10}
	d, logbuf := newTestDroneWithLogBuf("drone-0", Position{X: 0, Y: 0}, grid)
	d.handoffPending = true

	msg := newMessage(KindAcceptHandoff, "peer", time.Unix(0, 0))
	msg.AcceptHandoff = &AcceptHandoffPayload{FromAgent: "drone-0", Tiles: []Position{{X: 4, Y: 4}}}

	d.handleAcceptHandoff(msg)
	require.Contains(t, logbuf.String(), "tile removed twice from assignment")
}

// TestDroneMalformedPayloadsWarnAndDrop covers §7's "malformed message
// payload -> log at warn, take fallback, continue" for every inbound kind
// that carries a payload pointer.
func TestDroneMalformedPayloadsWarnAndDrop(t *testing.T) {
	grid := Grid{Width: 10, Height: 10}

	cases := []struct {
		name string
		kind MessageKind
		want string
	}{
		{"offer_tile", KindOfferTile, "malformed OFFER_TILE payload"},
		{"accept_offer", KindAcceptOffer, "malformed ACCEPT_OFFER payload"},
		{"handoff_request", KindHandoffRequest, "malformed HANDOFF_REQUEST payload"},
		{"accept_handoff", KindAcceptHandoff, "malformed ACCEPT_HANDOFF payload"},
	}

	for _, c := range cases {
		d, logbuf := newTestDroneWithLogBuf("drone-0", Position{X: 0, Y: 0}, grid)
		msg := newMessage(c.kind, "peer", time.Unix(0, 0)) // payload left nil
		d.handleMessage(msg)
		require.Contains(t, logbuf.String(), c.want, c.name)
	}
}

func containsKind(msgs []Message, kind MessageKind) bool {
	for _, m := range msgs {
		if m.Kind == kind {
			return true
		}
	}
	return false
}
