package sim

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind is the closed set of A2A wire message variants (§3).
type MessageKind string

const (
	KindOfferTile      MessageKind = "OFFER_TILE"
	KindAcceptOffer    MessageKind = "ACCEPT_OFFER"
	KindHandoffRequest MessageKind = "HANDOFF_REQUEST"
	KindAcceptHandoff  MessageKind = "ACCEPT_HANDOFF"
	KindHeartbeat      MessageKind = "HEARTBEAT"
	KindTargetFound    MessageKind = "TARGET_FOUND"
	KindGroundCommand  MessageKind = "GROUND_COMMAND"
)

// Message is the self-describing wire record every agent publishes.
// Payload is a tagged variant: exactly one of the *Payload fields below is
// populated, selected by Kind. This keeps the wire form JSON-friendly (each
// payload marshals as a plain object) while giving producers and consumers a
// typed accessor instead of a loose map.
type Message struct {
	ID        string      `json:"id"`
	Kind      MessageKind `json:"kind"`
	SenderID  string      `json:"sender_id"`
	Timestamp time.Time   `json:"timestamp"`

	OfferTile      *OfferTilePayload      `json:"offer_tile,omitempty"`
	AcceptOffer    *AcceptOfferPayload    `json:"accept_offer,omitempty"`
	HandoffRequest *HandoffRequestPayload `json:"handoff_request,omitempty"`
	AcceptHandoff  *AcceptHandoffPayload  `json:"accept_handoff,omitempty"`
	Heartbeat      *HeartbeatPayload      `json:"heartbeat,omitempty"`
	TargetFound    *TargetFoundPayload    `json:"target_found,omitempty"`
	GroundCommand  *GroundCommandPayload  `json:"ground_command,omitempty"`
}

type OfferTilePayload struct {
	Tiles []Position `json:"tiles"`
}

type AcceptOfferPayload struct {
	OriginalMessageID string     `json:"original_message_id"`
	Tiles             []Position `json:"tiles"`
}

type HandoffRequestPayload struct {
	Tiles    []Position `json:"tiles"`
	Position Position   `json:"position"`
	Battery  float64    `json:"battery"`
}

type AcceptHandoffPayload struct {
	FromAgent string     `json:"from_agent"`
	Tiles     []Position `json:"tiles"`
}

type HeartbeatPayload struct {
	Position Position `json:"position"`
	Battery  float64  `json:"battery"`
}

type TargetFoundPayload struct {
	Position   Position `json:"position"`
	Confidence float64  `json:"confidence"`
	Detections int      `json:"detections"`
	Method     string   `json:"detection_method"`
}

// CommandAction is the closed set of actions a GROUND_COMMAND can carry.
type CommandAction string

const (
	ActionRecall           CommandAction = "recall"
	ActionCoordinateHandoff CommandAction = "coordinate_handoff"
	ActionAssignTiles      CommandAction = "assign_tiles"
)

// CommandLevel classifies the urgency of a battery-driven command.
type CommandLevel string

const (
	LevelCritical CommandLevel = "critical"
	LevelLow      CommandLevel = "low"
	LevelNone     CommandLevel = ""
)

type GroundCommandPayload struct {
	Level  CommandLevel  `json:"level,omitempty"`
	Action CommandAction `json:"action"`
	Target string        `json:"target,omitempty"`
	Tiles  []Position    `json:"tiles,omitempty"`
}

func newMessageID() string {
	return uuid.NewString()
}

func newMessage(kind MessageKind, sender string, now time.Time) Message {
	return Message{
		ID:        newMessageID(),
		Kind:      kind,
		SenderID:  sender,
		Timestamp: now,
	}
}
