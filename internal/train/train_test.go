package train

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trandavy/sard/internal/sim"
)

func baseConfig() sim.Config {
	return sim.Config{
		GridWidth: 8, GridHeight: 8,
		NumAgents: 2, NumTargets: 2,
		DurationSeconds: 30, Seed: 3,
		TickInterval: 200 * time.Millisecond, DetectionProbability: 0.6,
	}
}

func TestRunReturnsCandidateWithinSearchRanges(t *testing.T) {
	policy, err := Run(baseConfig(), Options{Iterations: 5, Seed: 1}, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, policy.DetectionProbability, 0.1)
	require.LessOrEqual(t, policy.DetectionProbability, 1.0)
	require.GreaterOrEqual(t, policy.MinReallocInterval, 10)
}

func TestRunDefaultsIterationsWhenUnset(t *testing.T) {
	_, err := Run(baseConfig(), Options{Seed: 1}, nil)
	require.NoError(t, err)
}

func TestSaveWritesYAMLPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, Save(path, Policy{DetectionProbability: 0.5, MinReallocInterval: 20, Score: 42}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "detection_probability")
}
