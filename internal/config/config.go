// Package config loads and validates a sim.Config from YAML, with the
// teacher's loadConfig/fallback-to-defaults pattern (main.go's loadConfig)
// generalized from JSON to gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trandavy/sard/internal/sarerr"
	"github.com/trandavy/sard/internal/sim"
)

// Default returns the built-in default configuration, used when no file is
// present, mirroring the teacher's defaultConfig().
func Default() sim.Config {
	return sim.Config{
		GridWidth:            20,
		GridHeight:           20,
		NumAgents:            4,
		NumTargets:           5,
		DurationSeconds:      120,
		Seed:                 1,
		TickInterval:         500 * time.Millisecond,
		DetectionProbability: 0.6,
	}
}

// yamlConfig mirrors sim.Config's shape but with TickInterval expressed as
// seconds (a float), since a raw time.Duration doesn't round-trip through
// YAML the way SimConfig's plain JSON numbers did for the teacher.
type yamlConfig struct {
	GridWidth            int     `yaml:"grid_width"`
	GridHeight           int     `yaml:"grid_height"`
	NumAgents            int     `yaml:"num_agents"`
	NumTargets           int     `yaml:"num_targets"`
	DurationSeconds      int     `yaml:"duration_seconds"`
	Seed                 int64   `yaml:"seed"`
	TickIntervalSeconds  float64 `yaml:"tick_interval"`
	DetectionProbability float64 `yaml:"detection_probability"`
	MinReallocInterval   int     `yaml:"min_realloc_interval"`
}

func toSimConfig(y yamlConfig) sim.Config {
	return sim.Config{
		GridWidth:            y.GridWidth,
		GridHeight:           y.GridHeight,
		NumAgents:            y.NumAgents,
		NumTargets:           y.NumTargets,
		DurationSeconds:      y.DurationSeconds,
		Seed:                 y.Seed,
		TickInterval:         time.Duration(y.TickIntervalSeconds * float64(time.Second)),
		DetectionProbability: y.DetectionProbability,
		MinReallocInterval:   y.MinReallocInterval,
	}
}

func fromSimConfig(c sim.Config) yamlConfig {
	return yamlConfig{
		GridWidth:            c.GridWidth,
		GridHeight:           c.GridHeight,
		NumAgents:            c.NumAgents,
		NumTargets:           c.NumTargets,
		DurationSeconds:      c.DurationSeconds,
		Seed:                 c.Seed,
		TickIntervalSeconds:  c.TickInterval.Seconds(),
		DetectionProbability: c.DetectionProbability,
		MinReallocInterval:   c.MinReallocInterval,
	}
}

// Load reads a YAML config file at path. A missing file is not an error: it
// logs at warn and falls back to Default(), matching the teacher's "No
// config file found, using defaults" behavior.
func Load(path string, logger *slog.Logger) (sim.Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("no config file found, using defaults", "path", path)
			return Default(), nil
		}
		return sim.Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		logger.Warn("config file invalid, using defaults", "path", path, "error", err)
		return Default(), nil
	}

	cfg := toSimConfig(y)
	if err := cfg.Validate(); err != nil {
		return sim.Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg sim.Config) error {
	data, err := yaml.Marshal(fromSimConfig(cfg))
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Scenario returns one of the named presets carried over from run_sim.py's
// scenario table: rescue_seeded (a moderate grid with a handful of targets
// and a fixed seed for reproducible demos), stress_test (a large grid, many
// agents, many targets), and minimal (the smallest legal configuration).
func Scenario(name string) (sim.Config, error) {
	switch name {
	case "rescue_seeded":
		return sim.Config{
			GridWidth: 15, GridHeight: 15,
			NumAgents: 4, NumTargets: 6,
			DurationSeconds: 180, Seed: 42,
			TickInterval: 500 * time.Millisecond, DetectionProbability: 0.7,
		}, nil
	case "stress_test":
		return sim.Config{
			GridWidth: 50, GridHeight: 50,
			NumAgents: 10, NumTargets: 20,
			DurationSeconds: 600, Seed: 7,
			TickInterval: 100 * time.Millisecond, DetectionProbability: 0.4,
		}, nil
	case "minimal":
		return sim.Config{
			GridWidth: 5, GridHeight: 5,
			NumAgents: 2, NumTargets: 1,
			DurationSeconds: 30, Seed: 1,
			TickInterval: time.Second, DetectionProbability: 1.0,
		}, nil
	default:
		return sim.Config{}, fmt.Errorf("config: scenario %q: %w", name, sarerr.ErrUnknownScenario)
	}
}
