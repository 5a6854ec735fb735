package sim

import "container/heap"

// moveToward attempts one grid-cell step toward target, 4-connected, using a
// cached A* path with a greedy fallback (§4.1.3). It returns whether the
// drone's position actually changed this tick.
func (d *Drone) moveToward(target Position, occupied map[Position]struct{}) bool {
	if d.position == target {
		return false
	}

	sameTarget := d.currentTarget != nil && *d.currentTarget == target
	if sameTarget && len(d.currentPath) > 0 {
		next := d.currentPath[0]
		if _, blocked := occupied[next]; !blocked {
			d.currentPath = d.currentPath[1:]
			d.position = next
			return true
		}
		d.currentPath = nil
	}

	if !sameTarget || d.currentPath == nil {
		t := target
		d.currentTarget = &t
		d.currentPath = aStar(d.position, target, d.grid, occupied)
	}

	if len(d.currentPath) > 0 {
		next := d.currentPath[0]
		if _, blocked := occupied[next]; !blocked && d.grid.InBounds(next) {
			d.currentPath = d.currentPath[1:]
			d.position = next
			return true
		}
	}

	return d.greedyStep(target, occupied)
}

// greedyStep is the axis-dominant fallback used when A* finds no path: the
// larger of |dx|,|dy| wins (ties favor x); if blocked, the orthogonal
// alternate is tried; if that's blocked too, the drone stays put.
func (d *Drone) greedyStep(target Position, occupied map[Position]struct{}) bool {
	dx := target.X - d.position.X
	dy := target.Y - d.position.Y

	var primary Position
	xDominant := absInt(dx) >= absInt(dy)
	if xDominant {
		primary = Position{X: d.position.X + sign(dx), Y: d.position.Y}
	} else {
		primary = Position{X: d.position.X, Y: d.position.Y + sign(dy)}
	}

	if d.tryStep(primary, occupied) {
		return true
	}

	var alt Position
	hasAlt := false
	if xDominant && dy != 0 {
		alt = Position{X: d.position.X, Y: d.position.Y + sign(dy)}
		hasAlt = true
	} else if !xDominant && dx != 0 {
		alt = Position{X: d.position.X + sign(dx), Y: d.position.Y}
		hasAlt = true
	}
	if hasAlt && d.tryStep(alt, occupied) {
		return true
	}

	d.currentPath = nil
	return false
}

func (d *Drone) tryStep(pos Position, occupied map[Position]struct{}) bool {
	if !d.grid.InBounds(pos) {
		return false
	}
	if _, blocked := occupied[pos]; blocked {
		return false
	}
	d.position = pos
	d.currentPath = nil
	return true
}

func sign(v int) int {
	if v > 0 {
		return 1
	}
	if v < 0 {
		return -1
	}
	return 0
}

type aStarNode struct {
	pos      Position
	g        int
	f        int
	priority int // insertion order, breaks heap ties deterministically
}

type aStarHeap []aStarNode

func (h aStarHeap) Len() int { return len(h) }
func (h aStarHeap) Less(i, j int) bool {
	if h[i].f != h[j].f {
		return h[i].f < h[j].f
	}
	return h[i].priority < h[j].priority
}
func (h aStarHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *aStarHeap) Push(x any)        { *h = append(*h, x.(aStarNode)) }
func (h *aStarHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

var neighborOffsets = [4]Position{{X: 0, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: -1}, {X: -1, Y: 0}}

// aStar finds a minimum-cost 4-connected path from start to goal, treating
// occupied as obstacles. Returns the path excluding start, or nil if no path
// exists.
func aStar(start, goal Position, grid Grid, occupied map[Position]struct{}) []Position {
	if start == goal {
		return nil
	}

	cameFrom := make(map[Position]Position)
	gScore := map[Position]int{start: 0}
	closed := make(map[Position]struct{})

	open := &aStarHeap{{pos: start, g: 0, f: start.Manhattan(goal), priority: 0}}
	heap.Init(open)
	counter := 1

	for open.Len() > 0 {
		current := heap.Pop(open).(aStarNode)
		if _, done := closed[current.pos]; done {
			continue
		}
		if current.pos == goal {
			return reconstructPath(cameFrom, start, goal)
		}
		closed[current.pos] = struct{}{}

		for _, off := range neighborOffsets {
			next := Position{X: current.pos.X + off.X, Y: current.pos.Y + off.Y}
			if !grid.InBounds(next) {
				continue
			}
			if _, blocked := occupied[next]; blocked {
				continue
			}
			if _, done := closed[next]; done {
				continue
			}
			g := current.g + 1
			if best, ok := gScore[next]; ok && g >= best {
				continue
			}
			gScore[next] = g
			cameFrom[next] = current.pos
			heap.Push(open, aStarNode{pos: next, g: g, f: g + next.Manhattan(goal), priority: counter})
			counter++
		}
	}
	return nil
}

func reconstructPath(cameFrom map[Position]Position, start, goal Position) []Position {
	path := []Position{goal}
	cur := goal
	for cur != start {
		prev, ok := cameFrom[cur]
		if !ok {
			return nil
		}
		path = append(path, prev)
		cur = prev
	}
	// reverse, excluding start
	out := make([]Position, 0, len(path)-1)
	for i := len(path) - 2; i >= 0; i-- {
		out = append(out, path[i])
	}
	return out
}
