package optimizer

import (
	"fmt"
	"math"
	"time"

	"github.com/san-kum/ercrd/internal/constraint"
	"github.com/san-kum/ercrd/internal/dynamo"
	"github.com/san-kum/ercrd/internal/grid"
	"github.com/san-kum/ercrd/internal/integrators"
	"github.com/san-kum/ercrd/internal/objective"
)

// Method selects how controls are updated each iteration.
type Method string

const (
	// MethodGradient is steepest descent with Armijo backtracking.
	MethodGradient Method = "gradient"
	MethodLBFGS    Method = "lbfgs"
	MethodBFGS     Method = "bfgs"
)

// GradientMode selects how ∂J/∂u is computed.
type GradientMode string

const (
	GradientAdjoint          GradientMode = "adjoint"
	GradientFiniteDifference GradientMode = "finite-difference"
)

const (
	DefaultAlpha         = 0.4
	DefaultBeta          = 0.3
	DefaultGamma         = 0.3
	DefaultHorizon       = 1.0
	DefaultSteps         = 100
	DefaultTolerance     = 1e-6
	DefaultMaxIterations = 1000
	DefaultInfeasibleRun = 3
	DefaultRetries       = 10
	DefaultArmijo        = 1e-4
	DefaultBacktrack     = 0.5
	DefaultMaxBacktracks = 40
)

// Config is copied into the optimizer at construction and never modified
// afterwards.
type Config struct {
	Alpha         float64 `yaml:"alpha" json:"alpha" koanf:"alpha"`
	Beta          float64 `yaml:"beta" json:"beta" koanf:"beta"`
	Gamma         float64 `yaml:"gamma" json:"gamma" koanf:"gamma"`
	ControlWeight float64 `yaml:"control_weight" json:"control_weight" koanf:"control_weight"`

	Horizon    float64 `yaml:"horizon" json:"horizon" koanf:"horizon"`
	Steps      int     `yaml:"steps" json:"steps" koanf:"steps"`
	Rule       string  `yaml:"rule" json:"rule" koanf:"rule"`
	Integrator string  `yaml:"integrator" json:"integrator" koanf:"integrator"`

	Method        Method       `yaml:"method" json:"method" koanf:"method"`
	GradientMode  GradientMode `yaml:"gradient_mode" json:"gradient_mode" koanf:"gradient_mode"`
	Tolerance     float64      `yaml:"tolerance" json:"tolerance" koanf:"tolerance"`
	MaxIterations int          `yaml:"max_iterations" json:"max_iterations" koanf:"max_iterations"`

	// Line search.
	InitialStep   float64 `yaml:"initial_step" json:"initial_step" koanf:"initial_step"`
	Armijo        float64 `yaml:"armijo" json:"armijo" koanf:"armijo"`
	Backtrack     float64 `yaml:"backtrack" json:"backtrack" koanf:"backtrack"`
	MaxBacktracks int     `yaml:"max_backtracks" json:"max_backtracks" koanf:"max_backtracks"`

	ConstraintPolicy     string  `yaml:"constraint_policy" json:"constraint_policy" koanf:"constraint_policy"`
	PenaltyWeight        float64 `yaml:"penalty_weight" json:"penalty_weight" koanf:"penalty_weight"`
	ProjectionTolerance  float64 `yaml:"projection_tolerance" json:"projection_tolerance" koanf:"projection_tolerance"`
	ProjectionIterations int     `yaml:"projection_iterations" json:"projection_iterations" koanf:"projection_iterations"`
	// InfeasibleRun is the number of consecutive failed projections that
	// makes a rollout infeasible.
	InfeasibleRun int `yaml:"infeasible_run" json:"infeasible_run" koanf:"infeasible_run"`

	// MaxDivergenceRetries bounds the step shrinks after a diverged rollout.
	MaxDivergenceRetries int           `yaml:"max_divergence_retries" json:"max_divergence_retries" koanf:"max_divergence_retries"`
	Timeout              time.Duration `yaml:"timeout" json:"timeout" koanf:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		Alpha:                DefaultAlpha,
		Beta:                 DefaultBeta,
		Gamma:                DefaultGamma,
		ControlWeight:        1,
		Horizon:              DefaultHorizon,
		Steps:                DefaultSteps,
		Rule:                 grid.Trapezoid.String(),
		Integrator:           "euler",
		Method:               MethodGradient,
		GradientMode:         GradientAdjoint,
		Tolerance:            DefaultTolerance,
		MaxIterations:        DefaultMaxIterations,
		InitialStep:          1,
		Armijo:               DefaultArmijo,
		Backtrack:            DefaultBacktrack,
		MaxBacktracks:        DefaultMaxBacktracks,
		ConstraintPolicy:     constraint.Penalty.String(),
		PenaltyWeight:        constraint.DefaultWeight,
		ProjectionTolerance:  constraint.DefaultTolerance,
		ProjectionIterations: constraint.DefaultMaxIterations,
		InfeasibleRun:        DefaultInfeasibleRun,
		MaxDivergenceRetries: DefaultRetries,
	}
}

func (c Config) Weights() objective.Weights {
	return objective.Weights{Alpha: c.Alpha, Beta: c.Beta, Gamma: c.Gamma, Control: c.ControlWeight}
}

func (c Config) ConstraintOptions() (constraint.Options, error) {
	policy, err := constraint.ParsePolicy(c.ConstraintPolicy)
	if err != nil {
		return constraint.Options{}, &dynamo.ConfigError{Field: "constraint_policy", Reason: err.Error()}
	}
	return constraint.Options{
		Policy:        policy,
		Weight:        c.PenaltyWeight,
		Tolerance:     c.ProjectionTolerance,
		MaxIterations: c.ProjectionIterations,
	}, nil
}

func invalid(field, format string, args ...any) error {
	return &dynamo.ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}

// Validate reports the first invalid field as a *dynamo.ConfigError.
func (c Config) Validate() error {
	if _, err := grid.New(c.Horizon, c.Steps); err != nil {
		return err
	}
	weights := []struct {
		name  string
		value float64
	}{
		{"alpha", c.Alpha},
		{"beta", c.Beta},
		{"gamma", c.Gamma},
		{"control_weight", c.ControlWeight},
		{"penalty_weight", c.PenaltyWeight},
	}
	for _, w := range weights {
		if !nonNegative(w.value) {
			return invalid(w.name, "must be finite and non-negative, got %g", w.value)
		}
	}
	if _, err := grid.ParseRule(c.Rule); err != nil {
		return invalid("rule", "%v", err)
	}
	if _, err := integrators.New(c.Integrator); err != nil {
		return invalid("integrator", "%v", err)
	}
	switch c.Method {
	case MethodGradient, MethodLBFGS, MethodBFGS:
	default:
		return invalid("method", "unknown method %q", c.Method)
	}
	switch c.GradientMode {
	case GradientAdjoint, GradientFiniteDifference:
	default:
		return invalid("gradient_mode", "unknown gradient mode %q", c.GradientMode)
	}
	if _, err := c.ConstraintOptions(); err != nil {
		return err
	}
	if !(c.Tolerance > 0) {
		return invalid("tolerance", "must be positive, got %g", c.Tolerance)
	}
	if c.MaxIterations <= 0 {
		return invalid("max_iterations", "must be positive, got %d", c.MaxIterations)
	}
	if !(c.InitialStep > 0) {
		return invalid("initial_step", "must be positive, got %g", c.InitialStep)
	}
	if !(c.Armijo > 0 && c.Armijo < 1) {
		return invalid("armijo", "must lie in (0, 1), got %g", c.Armijo)
	}
	if !(c.Backtrack > 0 && c.Backtrack < 1) {
		return invalid("backtrack", "must lie in (0, 1), got %g", c.Backtrack)
	}
	if c.MaxBacktracks <= 0 {
		return invalid("max_backtracks", "must be positive, got %d", c.MaxBacktracks)
	}
	if c.InfeasibleRun <= 0 {
		return invalid("infeasible_run", "must be positive, got %d", c.InfeasibleRun)
	}
	if c.MaxDivergenceRetries < 0 {
		return invalid("max_divergence_retries", "must not be negative, got %d", c.MaxDivergenceRetries)
	}
	if c.Timeout < 0 {
		return invalid("timeout", "must not be negative, got %s", c.Timeout)
	}
	return nil
}
