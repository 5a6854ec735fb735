package sim

import "github.com/trandavy/sard/internal/sarerr"

// processInbox drains the inbox in FIFO order, applying §4.1.2's handling
// rules. Some inbound kinds cause the drone to emit a reply message. The
// swap-with-nil under inboxMu keeps the drain itself lock-free so a handler
// reply can't deadlock against a concurrent Deliver.
func (d *Drone) processInbox() []Message {
	d.inboxMu.Lock()
	pending := d.inbox
	d.inbox = nil
	d.inboxMu.Unlock()

	var emitted []Message
	for _, msg := range pending {
		if reply := d.handleMessage(msg); reply != nil {
			emitted = append(emitted, *reply)
		}
	}
	return emitted
}

func (d *Drone) handleMessage(msg Message) *Message {
	switch msg.Kind {
	case KindOfferTile:
		return d.handleOfferTile(msg)
	case KindAcceptOffer:
		d.handleAcceptOffer(msg)
	case KindHandoffRequest:
		return d.handleHandoffRequest(msg)
	case KindAcceptHandoff:
		d.handleAcceptHandoff(msg)
	case KindHeartbeat:
		// no local effect
	}
	return nil
}

func (d *Drone) handleOfferTile(msg Message) *Message {
	if msg.OfferTile == nil {
		d.logger.Warn("malformed OFFER_TILE payload, dropping", "from", msg.SenderID)
		return nil
	}
	if d.battery <= BatteryHandoff {
		return nil
	}
	for _, t := range msg.OfferTile.Tiles {
		d.assignedTiles[t] = struct{}{}
	}
	reply := newMessage(KindAcceptOffer, d.id, msg.Timestamp)
	reply.AcceptOffer = &AcceptOfferPayload{
		OriginalMessageID: msg.ID,
		Tiles:             msg.OfferTile.Tiles,
	}
	return &reply
}

// handleAcceptOffer removes each specified tile, asserting §7's "tile
// removed twice" invariant before each delete, then drops the pending entry
// for the original message id. Per §9's documented open question, only one
// pending entry is tracked per message id even for a multi-tile offer; this
// is the spec-mandated behavior, not a bug we're asked to fix.
func (d *Drone) handleAcceptOffer(msg Message) {
	if msg.AcceptOffer == nil {
		d.logger.Warn("malformed ACCEPT_OFFER payload, dropping", "from", msg.SenderID)
		return
	}
	for _, t := range msg.AcceptOffer.Tiles {
		if _, ok := d.assignedTiles[t]; !ok {
			d.logger.Warn("tile removed twice from assignment", "tile", t, "error", sarerr.ErrTileDoubleRemoved)
			continue
		}
		delete(d.assignedTiles, t)
	}
	delete(d.pendingOffers, msg.AcceptOffer.OriginalMessageID)
}

func (d *Drone) handleHandoffRequest(msg Message) *Message {
	if msg.HandoffRequest == nil {
		d.logger.Warn("malformed HANDOFF_REQUEST payload, dropping", "from", msg.SenderID)
		return nil
	}
	if d.battery <= BatteryHandoff || d.handoffPending {
		return nil
	}
	tiles := msg.HandoffRequest.Tiles
	n := len(tiles)
	if n > handoffMaxTiles {
		n = handoffMaxTiles
	}
	accepted := append([]Position(nil), tiles[:n]...)
	for _, t := range accepted {
		d.assignedTiles[t] = struct{}{}
	}
	reply := newMessage(KindAcceptHandoff, d.id, msg.Timestamp)
	reply.AcceptHandoff = &AcceptHandoffPayload{
		FromAgent: msg.SenderID,
		Tiles:     accepted,
	}
	return &reply
}

// handleAcceptHandoff admits the documented quirk in §9: a requester acts if
// either from_agent matches self, or handoff_pending happens to be set,
// which can (rarely) accept a handoff aimed at another drone. Left as-is per
// spec. Each delete is still guarded by §7's "tile removed twice" check.
func (d *Drone) handleAcceptHandoff(msg Message) {
	if msg.AcceptHandoff == nil {
		d.logger.Warn("malformed ACCEPT_HANDOFF payload, dropping", "from", msg.SenderID)
		return
	}
	if msg.AcceptHandoff.FromAgent != d.id && !d.handoffPending {
		return
	}
	for _, t := range msg.AcceptHandoff.Tiles {
		if _, ok := d.assignedTiles[t]; !ok {
			d.logger.Warn("tile removed twice from assignment", "tile", t, "error", sarerr.ErrTileDoubleRemoved)
			continue
		}
		delete(d.assignedTiles, t)
	}
	d.handoffPending = false
}
