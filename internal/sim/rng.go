package sim

import (
	"hash/fnv"
	"math/rand"
)

// rngSource wraps a math/rand.Rand seeded deterministically so that replays
// driven from the same global seed reproduce bit-for-bit. No third-party PRNG
// appears anywhere in the pack, so this is one of the few places we keep the
// standard library: math/rand's seeded Source is already deterministic and
// portable, which is the entire requirement here.
type rngSource struct {
	*rand.Rand
}

func newRNG(seed int64) *rngSource {
	return &rngSource{Rand: rand.New(rand.NewSource(seed))}
}

func (r *rngSource) shuffle(n int, swap func(i, j int)) {
	r.Rand.Shuffle(n, swap)
}

// stableHash produces a process-independent hash of s. Go's builtin map/string
// hashing is randomized per process and would break seeded replay, so we use
// FNV-1a, a fixed, well-known non-cryptographic hash.
func stableHash(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}

// droneSeed derives a drone's private RNG seed from the simulation's global
// seed and the drone's stable agent-id hash, per §9 "Per-agent RNG".
func droneSeed(globalSeed int64, agentID string) int64 {
	return globalSeed ^ stableHash(agentID)
}
