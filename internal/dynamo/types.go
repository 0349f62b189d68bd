package dynamo

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Norm is the Euclidean norm.
func (s State) Norm() float64 {
	if len(s) == 0 {
		return 0
	}
	return floats.Norm(s, 2)
}

// Sub returns s − other. Missing entries of a shorter other count as zero.
func (s State) Sub(other State) State {
	result := s.Clone()
	n := min(len(s), len(other))
	floats.Sub(result[:n], other[:n])
	return result
}

type Control []float64

func (u Control) Clone() Control {
	c := make(Control, len(u))
	copy(c, u)
	return c
}

// Disturbance is the exogenous input ξ for one step. It is never optimised.
type Disturbance []float64

// System is the dynamics G in dx/dt = G(x, u, ξ, t).
type System interface {
	Derive(x State, u Control, xi Disturbance, t float64) State
	StateDim() int
	ControlDim() int
}

// Linearizer is implemented by systems with analytic Jacobians.
// a is StateDim×StateDim (∂G/∂x) and b is StateDim×ControlDim (∂G/∂u).
type Linearizer interface {
	Jacobians(a, b *mat.Dense, x State, u Control, xi Disturbance, t float64)
}

// Integrator advances the state by one fixed step of length dt.
type Integrator interface {
	Name() string
	Step(sys System, x State, u Control, xi Disturbance, t, dt float64) (State, error)
	// Linearize performs Step and also returns the step Jacobians
	// ∂x⁺/∂x (StateDim×StateDim) and ∂x⁺/∂u (StateDim×ControlDim).
	Linearize(sys System, x State, u Control, xi Disturbance, t, dt float64) (State, *mat.Dense, *mat.Dense, error)
}

// Field is a scalar function of the state, used for F, Φ and Ψ.
// Time-independent fields ignore t.
type Field interface {
	Eval(x State, t float64) float64
}

// GradientField is a Field with an analytic gradient.
type GradientField interface {
	Field
	Gradient(dst []float64, x State, t float64)
}

// HessianField is a GradientField with an analytic Hessian.
type HessianField interface {
	GradientField
	Hessian(dst *mat.SymDense, x State, t float64)
}

// ControlCost is the control penalty L(u, t).
type ControlCost interface {
	Eval(u Control, t float64) float64
	Gradient(dst []float64, u Control, t float64)
}

// Constraint describes H(x) ≤ R(t) componentwise.
type Constraint interface {
	// Dim is the number of components m.
	Dim() int
	// H writes the m constraint values for x into dst.
	H(dst []float64, x State)
	// Bound writes R(t) into dst.
	Bound(dst []float64, t float64)
	// Convex reports whether every component of H is convex, which is
	// required for Euclidean projection.
	Convex() bool
}

// ConstraintJacobian is implemented by constraints with an analytic
// m×StateDim Jacobian.
type ConstraintJacobian interface {
	Jacobian(dst *mat.Dense, x State)
}

// DisturbanceSource supplies ξ_k. Sources are sampled once per solve so all
// rollouts of a run see the same sequence.
type DisturbanceSource interface {
	Dim() int
	At(k int, t float64) Disturbance
}

type Configurable interface {
	GetParams() map[string]float64
	SetParam(name string, value float64) error
}
