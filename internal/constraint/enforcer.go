// Package constraint enforces H(x) ≤ R(t) on rollout states, either as a
// quadratic penalty or by Euclidean projection onto the feasible set.
package constraint

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ercrd/internal/dynamo"
)

type Policy int

const (
	Penalty Policy = iota
	Projection
)

func (p Policy) String() string {
	switch p {
	case Penalty:
		return "penalty"
	case Projection:
		return "projection"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "penalty":
		return Penalty, nil
	case "projection":
		return Projection, nil
	}
	return 0, fmt.Errorf("constraint policy %q: %w", name, dynamo.ErrUnknownName)
}

const (
	DefaultWeight        = 1e3
	DefaultTolerance     = 1e-8
	DefaultMaxIterations = 500
)

type Options struct {
	Policy Policy
	// Weight is λ in λ·Σ max(0, H_i − R_i)².
	Weight float64
	// Tolerance is the violation accepted as feasible after projection.
	Tolerance float64
	// MaxIterations bounds the alternating projection sweeps.
	MaxIterations int
}

func DefaultOptions() Options {
	return Options{
		Policy:        Penalty,
		Weight:        DefaultWeight,
		Tolerance:     DefaultTolerance,
		MaxIterations: DefaultMaxIterations,
	}
}

// Enforcer applies one constraint under one policy. A nil constraint yields
// an enforcer that accepts every state.
type Enforcer struct {
	c        dynamo.Constraint
	opts     Options
	policy   Policy
	warnings []string
}

func New(c dynamo.Constraint, opts Options, log zerolog.Logger) *Enforcer {
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	e := &Enforcer{c: c, opts: opts, policy: opts.Policy}
	if c != nil && opts.Policy == Projection && !c.Convex() {
		msg := "constraint is not convex, projection replaced by penalty"
		log.Warn().Float64("weight", opts.Weight).Msg(msg)
		e.warnings = append(e.warnings, msg)
		e.policy = Penalty
	}
	return e
}

// Active reports whether a constraint is attached.
func (e *Enforcer) Active() bool { return e.c != nil }

// Policy is the effective policy after any fallback.
func (e *Enforcer) Policy() Policy { return e.policy }

func (e *Enforcer) Warnings() []string {
	out := make([]string, len(e.warnings))
	copy(out, e.warnings)
	return out
}

// slack returns H_i(x) − R_i(t).
func (e *Enforcer) slack(x dynamo.State, t float64) []float64 {
	m := e.c.Dim()
	h := make([]float64, m)
	r := make([]float64, m)
	e.c.H(h, x)
	e.c.Bound(r, t)
	floats.Sub(h, r)
	return h
}

// Violation is max_i max(0, H_i(x) − R_i(t)).
func (e *Enforcer) Violation(x dynamo.State, t float64) float64 {
	if e.c == nil {
		return 0
	}
	v := 0.0
	for _, s := range e.slack(x, t) {
		v = math.Max(v, s)
	}
	return v
}

// Penalty is λ·Σ max(0, H_i − R_i)² under the penalty policy and 0 under
// projection.
func (e *Enforcer) Penalty(x dynamo.State, t float64) float64 {
	if e.c == nil || e.policy != Penalty {
		return 0
	}
	sum := 0.0
	for _, s := range e.slack(x, t) {
		if s > 0 {
			sum += s * s
		}
	}
	return e.opts.Weight * sum
}

// PenaltyGradient adds ∂Penalty/∂x = 2λ·Σ max(0, H_i − R_i)·∇H_i to dst.
func (e *Enforcer) PenaltyGradient(dst []float64, x dynamo.State, t float64) {
	if e.c == nil || e.policy != Penalty {
		return
	}
	slack := e.slack(x, t)
	violated := false
	for i, s := range slack {
		if s > 0 {
			slack[i] = 2 * e.opts.Weight * s
			violated = true
		} else {
			slack[i] = 0
		}
	}
	if !violated {
		return
	}
	jac := e.jacobian(x)
	grad := mat.NewVecDense(len(x), nil)
	grad.MulVec(jac.T(), mat.NewVecDense(len(slack), slack))
	floats.Add(dst, grad.RawVector().Data)
}

func (e *Enforcer) jacobian(x dynamo.State) *mat.Dense {
	jac := mat.NewDense(e.c.Dim(), len(x), nil)
	if cj, ok := e.c.(dynamo.ConstraintJacobian); ok {
		cj.Jacobian(jac, x)
		return jac
	}
	fd.Jacobian(jac, func(dst, xx []float64) {
		e.c.H(dst, xx)
	}, x, &fd.JacobianSettings{Formula: fd.Central})
	return jac
}

func (e *Enforcer) gradient(i int, x dynamo.State) []float64 {
	return mat.Row(nil, i, e.jacobian(x))
}
