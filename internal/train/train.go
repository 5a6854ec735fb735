// Package train is the offline random-search trainer, adapted from the
// teacher's batch_trainer.go: instead of searching the teacher's physical-sim
// knobs (rayonAide, tailleIndice, tauxExploration, dureeEngagement) scored by
// survivor-rescue rate, it searches the SAR coordination knobs
// (detection_probability, min_realloc_interval) scored by how much of the
// grid got covered and how many targets got found per tick spent, writing
// the winner to a YAML policy file instead of best_policy.json.
package train

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/trandavy/sard/internal/sim"
)

// Options configures one training run.
type Options struct {
	Iterations int
	Seed       int64
}

// Policy is the winning set of coordination knobs, with the score they
// achieved, mirroring the teacher's LearnedPolicyConfig plus its
// bestScore/bestStats reporting.
type Policy struct {
	DetectionProbability float64 `yaml:"detection_probability"`
	MinReallocInterval   int     `yaml:"min_realloc_interval"`
	Score                float64 `yaml:"score"`
}

// Run searches Options.Iterations random candidates, scoring each against
// base (a scenario config supplying grid/agent/target counts), and returns
// the best-scoring Policy. Mirrors the teacher's RunBatchTraining loop
// structure: random candidate, run to completion, score, keep the best.
func Run(base sim.Config, opts Options, logger *slog.Logger) (Policy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Iterations <= 0 {
		opts.Iterations = 50
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	bestScore := math.Inf(-1)
	var best Policy

	logger.Info("=== offline coordination-parameter search ===",
		"grid", fmt.Sprintf("%dx%d", base.GridWidth, base.GridHeight),
		"agents", base.NumAgents, "targets", base.NumTargets)

	for i := 0; i < opts.Iterations; i++ {
		candidate := randomCandidate(rng)
		cfg := applyCandidate(base, candidate)

		score, err := scoreCandidate(cfg)
		if err != nil {
			return Policy{}, fmt.Errorf("train: candidate %d: %w", i, err)
		}

		logger.Info("candidate scored",
			"candidate", i,
			"detection_probability", candidate.DetectionProbability,
			"min_realloc_interval", candidate.MinReallocInterval,
			"score", score,
		)

		if score > bestScore {
			bestScore = score
			best = candidate
			best.Score = score
		}
	}

	logger.Info("=== best coordination policy found ===",
		"detection_probability", best.DetectionProbability,
		"min_realloc_interval", best.MinReallocInterval,
		"score", best.Score,
	)
	return best, nil
}

// randomCandidate samples the search ranges, analogous to the teacher's
// randomTrainParams.
func randomCandidate(rng *rand.Rand) Policy {
	return Policy{
		DetectionProbability: 0.1 + rng.Float64()*0.9, // 0.1 to 1.0
		MinReallocInterval:   10 + rng.Intn(41),        // 10 to 50 ticks
	}
}

func applyCandidate(base sim.Config, p Policy) sim.Config {
	cfg := base
	cfg.DetectionProbability = p.DetectionProbability
	cfg.MinReallocInterval = p.MinReallocInterval
	return cfg
}

// scoreCandidate runs one simulation to completion and scores it by
// coverage achieved plus a bonus for targets found, penalized by the number
// of ticks spent — the SAR analogue of the teacher's
// "survivalRate*1000 - totalTime".
func scoreCandidate(cfg sim.Config) (float64, error) {
	driver, err := sim.NewDriver(cfg, sim.SimulatedOracle{}, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		return 0, err
	}
	ticks := int(float64(cfg.DurationSeconds) / cfg.TickInterval.Seconds())
	driver.StepN(ticks)

	summary, _ := driver.Metrics()
	if summary.TotalTargets == 0 {
		return summary.CoveragePercent, nil
	}
	discoveryRate := float64(summary.TargetsFound) / float64(summary.TotalTargets)
	return discoveryRate*1000.0 + summary.CoveragePercent - float64(summary.Tick)*0.1, nil
}

// Save writes policy to path as YAML.
func Save(path string, policy Policy) error {
	data, err := yaml.Marshal(policy)
	if err != nil {
		return fmt.Errorf("train: marshal policy: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("train: write %s: %w", path, err)
	}
	return nil
}
