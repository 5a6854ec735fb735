package sim

import (
	"math"
	"sort"
)

const (
	defaultMinReallocInterval = 20
	periodicReallocInterval   = 50
	imbalanceThreshold        = 0.3
	imbalanceMeanFloor        = 10.0
	lowBatteryReallocThresh   = 30.0
	lowBatteryReallocTiles    = 5
)

// Allocator is the stateless spatial zone partitioner (§4.3). It never
// touches a Drone directly; callers apply the resulting allocation via
// Drone.Reassign.
type Allocator struct{}

// NewAllocator constructs an Allocator. It carries no state: every method is
// a pure function of its arguments.
func NewAllocator() Allocator { return Allocator{} }

// Allocate partitions unvisited among the drones in dronePositions using a
// discrete Manhattan Voronoi assignment: each tile goes to the drone
// minimizing manhattan(tile, pos) / max(0.5, battery/100), ties broken by
// lexically smallest drone id. Drones with battery <= 5 are excluded from
// receiving tiles but still appear as keys with an empty list.
func (Allocator) Allocate(dronePositions map[string]Position, unvisited []Position, batteries map[string]float64) map[string][]Position {
	result := make(map[string][]Position, len(dronePositions))
	for id := range dronePositions {
		result[id] = nil
	}

	type candidate struct {
		id  string
		pos Position
	}
	active := make([]candidate, 0, len(dronePositions))
	ids := sortedKeys(dronePositions)
	for _, id := range ids {
		if batteries[id] > BatteryCritical {
			active = append(active, candidate{id: id, pos: dronePositions[id]})
		}
	}
	if len(active) == 0 {
		return result
	}

	for _, tile := range unvisited {
		bestID := ""
		bestCost := math.Inf(1)
		for _, c := range active {
			factor := math.Max(0.5, batteries[c.id]/100.0)
			cost := float64(tile.Manhattan(c.pos)) / factor
			if cost < bestCost || (cost == bestCost && c.id < bestID) {
				bestCost = cost
				bestID = c.id
			}
		}
		result[bestID] = append(result[bestID], tile)
	}
	return result
}

// OptimizeForSpeed reorders each drone's tile list into a boustrophedon
// sweep (§4.3, §GLOSSARY).
func (Allocator) OptimizeForSpeed(allocation map[string][]Position, dronePositions map[string]Position) map[string][]Position {
	out := make(map[string][]Position, len(allocation))
	for id, tiles := range allocation {
		out[id] = BoustrophedonOrder(tiles, dronePositions[id])
	}
	return out
}

// BoustrophedonOrder groups tiles by row (y), sorts each row by x, orders
// rows by proximity to start's y-coordinate, and reverses alternating rows'
// x-order to produce a lawn-mower sweep.
func BoustrophedonOrder(tiles []Position, start Position) []Position {
	if len(tiles) == 0 {
		return nil
	}

	byRow := make(map[int][]Position)
	for _, t := range tiles {
		byRow[t.Y] = append(byRow[t.Y], t)
	}
	rows := make([]int, 0, len(byRow))
	for y := range byRow {
		rows = append(rows, y)
	}
	for y := range byRow {
		sort.Slice(byRow[y], func(i, j int) bool { return byRow[y][i].X < byRow[y][j].X })
	}
	sort.Slice(rows, func(i, j int) bool {
		di := absInt(rows[i] - start.Y)
		dj := absInt(rows[j] - start.Y)
		if di != dj {
			return di < dj
		}
		return rows[i] < rows[j]
	})

	out := make([]Position, 0, len(tiles))
	reverse := false
	for _, y := range rows {
		row := byRow[y]
		if reverse {
			for i, j := 0, len(row)-1; i < j; i, j = i+1, j-1 {
				row[i], row[j] = row[j], row[i]
			}
		}
		out = append(out, row...)
		reverse = !reverse
	}
	return out
}

// ShouldReallocate reports whether a new zone partition should be computed,
// per §4.3's three triggers (imbalance, a struggling low-battery drone,
// periodic refresh), gated by a minimum interval since the last reallocation.
func (Allocator) ShouldReallocate(current map[string][]Position, batteries map[string]float64, ticksSinceLast int, minInterval int) bool {
	if minInterval <= 0 {
		minInterval = defaultMinReallocInterval
	}
	if ticksSinceLast < minInterval {
		return false
	}

	counts := make([]int, 0, len(current))
	for _, tiles := range current {
		counts = append(counts, len(tiles))
	}
	if len(counts) == 0 {
		return false
	}

	maxC, minC, sum := counts[0], counts[0], 0
	for _, c := range counts {
		if c > maxC {
			maxC = c
		}
		if c < minC {
			minC = c
		}
		sum += c
	}
	mean := float64(sum) / float64(len(counts))
	if float64(maxC-minC) > imbalanceThreshold*mean && mean > imbalanceMeanFloor {
		return true
	}

	for id, tiles := range current {
		if batteries[id] < lowBatteryReallocThresh && len(tiles) > lowBatteryReallocTiles {
			return true
		}
	}

	return ticksSinceLast >= periodicReallocInterval
}

func sortedKeys(m map[string]Position) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
