package sim

import "fmt"

// Position is an integer grid coordinate. Equality and hashing are by value,
// so a Position is safe to use as a map key or set element.
type Position struct {
	X, Y int
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Manhattan returns the Manhattan distance between p and q, the canonical
// metric for all planning and allocation decisions in this package.
func (p Position) Manhattan(q Position) int {
	return absInt(p.X-q.X) + absInt(p.Y-q.Y)
}

// Less is the deterministic lexical tie-break used throughout (smallest x,
// then smallest y).
func (p Position) Less(q Position) bool {
	if p.X != q.X {
		return p.X < q.X
	}
	return p.Y < q.Y
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Grid is the immutable rectangular search region [0,Width) x [0,Height).
// TargetPositions is fixed at construction; VisitedTiles is owned by callers
// (each Drone tracks its own, Ground mirrors the union) and is never stored
// here.
type Grid struct {
	Width, Height   int
	TargetPositions map[Position]struct{}
}

// NewGrid builds a grid and places targets by shuffling AllTiles with rng
// and keeping the first n, matching the Driver's seeded initialization.
func NewGrid(width, height, numTargets int, rng *rngSource) Grid {
	all := AllTiles(width, height)
	rng.shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })

	if numTargets > len(all) {
		numTargets = len(all)
	}
	targets := make(map[Position]struct{}, numTargets)
	for _, p := range all[:numTargets] {
		targets[p] = struct{}{}
	}

	return Grid{Width: width, Height: height, TargetPositions: targets}
}

// AllTiles enumerates every tile in [0,width) x [0,height), row-major.
func AllTiles(width, height int) []Position {
	tiles := make([]Position, 0, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			tiles = append(tiles, Position{X: x, Y: y})
		}
	}
	return tiles
}

// InBounds reports whether p lies within [0,Width) x [0,Height).
func (g Grid) InBounds(p Position) bool {
	return p.X >= 0 && p.X < g.Width && p.Y >= 0 && p.Y < g.Height
}

// IsTarget reports whether p is one of the grid's fixed target positions.
func (g Grid) IsTarget(p Position) bool {
	_, ok := g.TargetPositions[p]
	return ok
}
