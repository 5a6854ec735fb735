package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStableHashIsDeterministicAcrossCalls(t *testing.T) {
	require.Equal(t, stableHash("drone-0"), stableHash("drone-0"))
	require.NotEqual(t, stableHash("drone-0"), stableHash("drone-1"))
}

func TestDroneSeedDependsOnBothGlobalSeedAndAgentID(t *testing.T) {
	require.NotEqual(t, droneSeed(1, "drone-0"), droneSeed(2, "drone-0"))
	require.NotEqual(t, droneSeed(1, "drone-0"), droneSeed(1, "drone-1"))
	require.Equal(t, droneSeed(7, "drone-3"), droneSeed(7, "drone-3"))
}

func TestRNGReplaysIdenticallyFromSameSeed(t *testing.T) {
	a := newRNG(99)
	b := newRNG(99)
	for i := 0; i < 20; i++ {
		require.Equal(t, a.Float64(), b.Float64())
	}
}
