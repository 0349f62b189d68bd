package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/ercrd/internal/dynamo"
	"github.com/san-kum/ercrd/internal/optimizer"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "energy", cfg.Problem)
	assert.Equal(t, optimizer.DefaultConfig(), cfg.Solver)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "run.yaml", `
problem: lqr
x0: [1, 0.5]
warm_start: lqr
params:
  mass: 2
solver:
  steps: 40
  horizon: 2
  method: lbfgs
  integrator: rk4
  timeout: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "lqr", cfg.Problem)
	assert.Equal(t, []float64{1, 0.5}, cfg.X0)
	assert.Equal(t, "lqr", cfg.Warm)
	assert.Equal(t, 2.0, cfg.Params["mass"])
	assert.Equal(t, 40, cfg.Solver.Steps)
	assert.Equal(t, 2.0, cfg.Solver.Horizon)
	assert.Equal(t, optimizer.MethodLBFGS, cfg.Solver.Method)
	assert.Equal(t, 2*time.Second, cfg.Solver.Timeout)
	// untouched keys keep their defaults
	assert.Equal(t, optimizer.DefaultAlpha, cfg.Solver.Alpha)
	assert.Equal(t, optimizer.DefaultTolerance, cfg.Solver.Tolerance)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ERCRD_PROBLEM", "tracking")
	t.Setenv("ERCRD_SOLVER__STEPS", "48")
	t.Setenv("ERCRD_SOLVER__CONSTRAINT_POLICY", "projection")
	t.Setenv("ERCRD_PARAMS__MAX_SPEED", "0.25")

	path := writeFile(t, "run.yml", "problem: lqr\nsolver:\n  steps: 10\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tracking", cfg.Problem)
	assert.Equal(t, 48, cfg.Solver.Steps)
	assert.Equal(t, "projection", cfg.Solver.ConstraintPolicy)
	assert.Equal(t, 0.25, cfg.Params["max_speed"])
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("ERCRD_SOLVER__MAX_ITERATIONS", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Solver.MaxIterations)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(writeFile(t, "run.toml", "problem = 'lqr'"))
	assert.ErrorIs(t, err, dynamo.ErrInvalidConfiguration)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Problem = "tracking"
	cfg.X0 = []float64{0.5, -1}
	cfg.Params = map[string]float64{"max_speed": 0.4}
	cfg.Seed = 11
	cfg.Solver.Steps = 64
	cfg.Solver.Timeout = 1500 * time.Millisecond

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Problem = ""
	assert.ErrorIs(t, cfg.Validate(), dynamo.ErrInvalidConfiguration)

	cfg = DefaultConfig()
	cfg.Noise = -1
	assert.ErrorIs(t, cfg.Validate(), dynamo.ErrInvalidConfiguration)

	cfg = DefaultConfig()
	cfg.Solver.Steps = 0
	assert.ErrorIs(t, cfg.Validate(), dynamo.ErrInvalidConfiguration)
}

func TestGetPreset(t *testing.T) {
	cfg, ok := GetPreset("energy", "demo")
	require.True(t, ok)

	assert.Equal(t, "energy", cfg.Problem)
	assert.Equal(t, 24.0, cfg.Solver.Horizon)
	assert.Equal(t, 24, cfg.Solver.Steps)
	assert.NoError(t, cfg.Validate())

	cfg.Solver.Steps = 1
	again, _ := GetPreset("energy", "demo")
	assert.Equal(t, 24, again.Solver.Steps, "presets are returned as copies")
}

func TestGetPresetNotFound(t *testing.T) {
	_, ok := GetPreset("energy", "nonexistent")
	assert.False(t, ok)

	_, ok = GetPreset("nonexistent", "demo")
	assert.False(t, ok)
}

func TestListPresets(t *testing.T) {
	assert.Equal(t, []string{"capped", "pid", "step"}, ListPresets("tracking"))
	assert.Nil(t, ListPresets("nonexistent"))

	for problem := range Presets {
		for _, name := range ListPresets(problem) {
			cfg, _ := GetPreset(problem, name)
			assert.NoError(t, cfg.Validate(), "%s/%s", problem, name)
		}
	}
}

func TestLoadPreset(t *testing.T) {
	path := writeFile(t, "override.yaml", "solver:\n  max_iterations: 5\n")

	cfg, err := LoadPreset("lqr", "warm", path)
	require.NoError(t, err)
	assert.Equal(t, "lqr", cfg.Warm)
	assert.Equal(t, 5, cfg.Solver.MaxIterations)
	assert.Equal(t, 50, cfg.Solver.Steps)

	_, err = LoadPreset("lqr", "missing", "")
	assert.ErrorIs(t, err, dynamo.ErrUnknownName)
}
