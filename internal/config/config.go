// Package config loads run configurations from YAML files and ERCRD_
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/san-kum/ercrd/internal/dynamo"
	"github.com/san-kum/ercrd/internal/optimizer"
)

const (
	EnvPrefix = "ERCRD_"

	DefaultProblem  = "energy"
	DefaultWarm     = "none"
	DefaultLogLevel = "info"
)

// Config is one solve: which problem to build, how to start it and the
// solver settings.
type Config struct {
	Problem  string             `yaml:"problem" json:"problem" koanf:"problem"`
	X0       []float64          `yaml:"x0,omitempty" json:"x0,omitempty" koanf:"x0"`
	Target   []float64          `yaml:"target,omitempty" json:"target,omitempty" koanf:"target"`
	Warm     string             `yaml:"warm_start" json:"warm_start" koanf:"warm_start"`
	Noise    float64            `yaml:"noise" json:"noise" koanf:"noise"`
	Seed     uint64             `yaml:"seed" json:"seed" koanf:"seed"`
	Params   map[string]float64 `yaml:"params,omitempty" json:"params,omitempty" koanf:"params"`
	LogLevel string             `yaml:"log_level" json:"log_level" koanf:"log_level"`
	Solver   optimizer.Config   `yaml:"solver" json:"solver" koanf:"solver"`
}

func DefaultConfig() *Config {
	return &Config{
		Problem:  DefaultProblem,
		Warm:     DefaultWarm,
		LogLevel: DefaultLogLevel,
		Solver:   optimizer.DefaultConfig(),
	}
}

// Load reads path on top of the defaults and then applies environment
// overrides: ERCRD_SOLVER__STEPS=48 sets solver.steps. An empty path loads
// only the environment.
func Load(path string) (*Config, error) {
	return load(DefaultConfig(), path)
}

// LoadPreset is Load starting from a preset instead of the defaults.
func LoadPreset(problem, preset, path string) (*Config, error) {
	base, ok := GetPreset(problem, preset)
	if !ok {
		return nil, fmt.Errorf("preset %s/%s: %w", problem, preset, dynamo.ErrUnknownName)
	}
	return load(base, path)
}

func load(cfg *Config, path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
		default:
			return nil, &dynamo.ConfigError{Field: "path", Reason: fmt.Sprintf("unsupported config format %q", filepath.Ext(path))}
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func Save(path string, cfg *Config) error {
	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the run settings and the solver block.
func (c *Config) Validate() error {
	if c.Problem == "" {
		return &dynamo.ConfigError{Field: "problem", Reason: "a problem name is required"}
	}
	if c.Noise < 0 {
		return &dynamo.ConfigError{Field: "noise", Reason: fmt.Sprintf("must be non-negative, got %g", c.Noise)}
	}
	return c.Solver.Validate()
}

// InitState returns a copy of X0, or nil when unset.
func (c *Config) InitState() dynamo.State {
	if len(c.X0) == 0 {
		return nil
	}
	return dynamo.State(c.X0).Clone()
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.X0 = append([]float64(nil), c.X0...)
	out.Target = append([]float64(nil), c.Target...)
	if c.Params != nil {
		out.Params = make(map[string]float64, len(c.Params))
		for k, v := range c.Params {
			out.Params[k] = v
		}
	}
	return &out
}
