package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocatePartitionsExactlyCoverInput(t *testing.T) {
	positions := map[string]Position{"drone-0": {X: 0, Y: 0}, "drone-1": {X: 9, Y: 9}}
	batteries := map[string]float64{"drone-0": 100, "drone-1": 100}
	tiles := AllTiles(10, 10)

	allocation := NewAllocator().Allocate(positions, tiles, batteries)

	union := make(map[Position]bool)
	for _, assigned := range allocation {
		for _, tile := range assigned {
			require.False(t, union[tile], "tile double-assigned")
			union[tile] = true
		}
	}
	require.Len(t, union, len(tiles))
}

func TestAllocateExcludesCriticalBatteryDrones(t *testing.T) {
	positions := map[string]Position{"drone-0": {X: 0, Y: 0}, "drone-1": {X: 9, Y: 9}}
	batteries := map[string]float64{"drone-0": BatteryCritical, "drone-1": 100}
	tiles := AllTiles(10, 10)

	allocation := NewAllocator().Allocate(positions, tiles, batteries)
	require.Empty(t, allocation["drone-0"])
	require.Len(t, allocation["drone-1"], len(tiles))
}

func TestAllocateTieBreaksOnLexicallySmallestID(t *testing.T) {
	positions := map[string]Position{"drone-b": {X: 0, Y: 0}, "drone-a": {X: 0, Y: 0}}
	batteries := map[string]float64{"drone-a": 100, "drone-b": 100}
	tiles := []Position{{X: 5, Y: 5}}

	allocation := NewAllocator().Allocate(positions, tiles, batteries)
	require.Equal(t, []Position{{X: 5, Y: 5}}, allocation["drone-a"])
	require.Empty(t, allocation["drone-b"])
}

func TestBoustrophedonOrderIsAPermutation(t *testing.T) {
	tiles := AllTiles(4, 3)
	ordered := BoustrophedonOrder(tiles, Position{X: 0, Y: 0})
	require.ElementsMatch(t, tiles, ordered)
}

func TestBoustrophedonOrderStepsAreLocal(t *testing.T) {
	tiles := AllTiles(5, 4)
	ordered := BoustrophedonOrder(tiles, Position{X: 0, Y: 0})
	for i := 1; i < len(ordered); i++ {
		prev, cur := ordered[i-1], ordered[i]
		if prev.Y == cur.Y {
			require.LessOrEqual(t, absInt(prev.X-cur.X), 1)
		}
	}
}

func TestShouldReallocateGatesOnMinInterval(t *testing.T) {
	a := NewAllocator()
	current := map[string][]Position{"drone-0": make([]Position, 50), "drone-1": make([]Position, 10)}
	batteries := map[string]float64{"drone-0": 100, "drone-1": 100}
	require.False(t, a.ShouldReallocate(current, batteries, 5, 20))
	require.True(t, a.ShouldReallocate(current, batteries, 25, 20))
}

func TestShouldReallocateOnLowBatteryStruggler(t *testing.T) {
	a := NewAllocator()
	current := map[string][]Position{"drone-0": make([]Position, 20)}
	batteries := map[string]float64{"drone-0": 10}
	require.True(t, a.ShouldReallocate(current, batteries, 30, 20))
}

// TestReallocationOnImbalance is scenario 5 from §8: hand-crafted imbalance
// (300 vs 33 tiles across 4 drones) should trigger reallocation after >= 20
// ticks such that max-min <= 0.3*mean once the allocator rebalances.
func TestReallocationOnImbalance(t *testing.T) {
	positions := map[string]Position{
		"drone-0": {X: 0, Y: 0}, "drone-1": {X: 19, Y: 0},
		"drone-2": {X: 0, Y: 19}, "drone-3": {X: 19, Y: 19},
	}
	batteries := map[string]float64{"drone-0": 100, "drone-1": 100, "drone-2": 100, "drone-3": 100}
	tiles := AllTiles(20, 20)

	a := NewAllocator()
	current := map[string][]Position{"drone-0": make([]Position, 300), "drone-1": make([]Position, 33), "drone-2": make([]Position, 33), "drone-3": make([]Position, 33)}
	require.True(t, a.ShouldReallocate(current, batteries, 20, 20))

	rebalanced := a.Allocate(positions, tiles, batteries)
	counts := make([]int, 0, 4)
	for _, assigned := range rebalanced {
		counts = append(counts, len(assigned))
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
	require.LessOrEqual(t, float64(maxC-minC), 0.3*mean+1)
}
