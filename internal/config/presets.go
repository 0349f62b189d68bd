package config

import (
	"sort"

	"github.com/san-kum/ercrd/internal/optimizer"
)

// Presets holds named starting configurations per problem.
var Presets = map[string]map[string]*Config{
	"energy": {
		"demo": preset("energy", func(c *Config) {
			c.Solver.Horizon, c.Solver.Steps = 24, 24
			c.Solver.Integrator = "euler"
			c.Solver.MaxIterations = 200
		}),
		"noisy": preset("energy", func(c *Config) {
			c.Solver.Horizon, c.Solver.Steps = 24, 48
			c.Solver.Integrator = "rk4"
			c.Solver.Method = optimizer.MethodLBFGS
			c.Noise, c.Seed = 0.5, 7
		}),
		"projected": preset("energy", func(c *Config) {
			c.Solver.Horizon, c.Solver.Steps = 24, 24
			c.Solver.ConstraintPolicy = "projection"
		}),
	},
	"lqr": {
		"regulator": preset("lqr", func(c *Config) {
			c.X0 = []float64{1, 0}
			c.Solver.Alpha, c.Solver.Beta, c.Solver.Gamma = 0, 1, 0
			c.Solver.Horizon, c.Solver.Steps = 5, 50
		}),
		"warm": preset("lqr", func(c *Config) {
			c.X0 = []float64{1, 0}
			c.Warm = "lqr"
			c.Solver.Alpha, c.Solver.Beta, c.Solver.Gamma = 0, 1, 0
			c.Solver.Horizon, c.Solver.Steps = 5, 50
			c.Solver.Method = optimizer.MethodBFGS
		}),
	},
	"tracking": {
		"step": preset("tracking", func(c *Config) {
			c.Target = []float64{1}
			c.Solver.Alpha, c.Solver.Beta, c.Solver.Gamma = 0, 1, 0
			c.Solver.ControlWeight = 0.1
			c.Solver.Horizon, c.Solver.Steps = 4, 40
			c.Solver.Integrator = "rk4"
		}),
		"capped": preset("tracking", func(c *Config) {
			c.Target = []float64{1}
			c.Params = map[string]float64{"max_speed": 0.4}
			c.Solver.Alpha, c.Solver.Beta, c.Solver.Gamma = 0, 1, 0
			c.Solver.ControlWeight = 0.1
			c.Solver.Horizon, c.Solver.Steps = 4, 40
			c.Solver.ConstraintPolicy = "projection"
		}),
		"pid": preset("tracking", func(c *Config) {
			c.Target = []float64{1}
			c.Warm = "pid"
			c.Solver.Alpha, c.Solver.Beta, c.Solver.Gamma = 0, 1, 0
			c.Solver.Horizon, c.Solver.Steps = 4, 40
		}),
	},
}

func preset(problem string, edit func(*Config)) *Config {
	c := DefaultConfig()
	c.Problem = problem
	edit(c)
	return c
}

// GetPreset returns a copy of the named preset.
func GetPreset(problem, name string) (*Config, bool) {
	byName, ok := Presets[problem]
	if !ok {
		return nil, false
	}
	cfg, ok := byName[name]
	if !ok {
		return nil, false
	}
	return cfg.Clone(), true
}

// ListPresets returns the preset names for problem in sorted order.
func ListPresets(problem string) []string {
	byName, ok := Presets[problem]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
