// Package sarerr holds the sentinel errors for invariant violations that
// callers need to distinguish with errors.Is, as opposed to the
// fmt.Errorf("...: %w", err) wrapping used for ordinary boundary failures
// (config load, replay I/O).
package sarerr

import "errors"

var (
	// ErrConfigOutOfRange is returned when a Config field falls outside the
	// enumerated bounds.
	ErrConfigOutOfRange = errors.New("sard: config value out of range")

	// ErrUnknownScenario is returned by config.Scenario for a name that
	// isn't one of the built-in presets.
	ErrUnknownScenario = errors.New("sard: unknown scenario")

	// ErrTileDoubleRemoved marks the invariant violation of a tile being
	// removed from an assignment twice.
	ErrTileDoubleRemoved = errors.New("sard: tile removed twice from assignment")

	// ErrNegativeBattery marks a battery value dropping below zero, which
	// should never happen given the monotone drain constants.
	ErrNegativeBattery = errors.New("sard: battery went negative")

	// ErrReplayUnreadable is returned when a replay file can't be parsed as
	// a ReplayFile, even tolerating unknown fields.
	ErrReplayUnreadable = errors.New("sard: replay file unreadable")
)
