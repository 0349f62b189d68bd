package optimizer

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ercrd/internal/dynamo"
)

// gradient returns ∂J/∂u flattened step-major (K·M entries). A non-finite
// entry is reported as a divergence at its step.
func (s *solver) gradient(r *rollout) ([]float64, error) {
	var (
		g   []float64
		err error
	)
	switch {
	case s.cfg.GradientMode == GradientFiniteDifference:
		g, err = s.numericalGradient(r.controls)
	case !r.linearised():
		var lin *rollout
		if lin, err = s.simulate(r.controls, true); err == nil {
			g = s.adjoint(lin)
		}
	default:
		g = s.adjoint(r)
	}
	if err != nil {
		return nil, err
	}
	m := s.problem.Dynamics.ControlDim()
	for i, v := range g {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			k := i / m
			return nil, &dynamo.DivergenceError{Step: k, Time: s.grid.Times[k], State: r.states[k]}
		}
	}
	return g, nil
}

// adjoint is the reverse pass over a linearised rollout. With
// x_{k+1} = Π(Φ(x_k, u_k)), P_k = ∂Π/∂x and the stage derivatives
// ℓ_x, L_u, it computes
//
//	λ_K = Δt·w_K·ℓ_x(x_K)
//	μ_k = P_kᵀ λ_{k+1}
//	∂J/∂u_k = Δt·L_u(u_k) + (∂Φ/∂u)ᵀ μ_k
//	λ_k = Δt·w_k·ℓ_x(x_k) + (∂Φ/∂x)ᵀ μ_k
//
// where ℓ includes the constraint penalty.
func (s *solver) adjoint(r *rollout) []float64 {
	steps := s.grid.Steps
	n := s.problem.Dynamics.StateDim()
	m := s.problem.Dynamics.ControlDim()
	dt := s.grid.Dt

	grad := make([]float64, steps*m)
	lambda := mat.NewVecDense(n, s.stageStateGradient(r.states[steps], steps))

	mu := mat.NewVecDense(n, nil)
	gu := mat.NewVecDense(m, nil)
	lx := mat.NewVecDense(n, nil)
	lu := make([]float64, m)

	for k := steps - 1; k >= 0; k-- {
		if r.proj[k] != nil {
			mu.MulVec(r.proj[k].T(), lambda)
		} else {
			mu.CopyVec(lambda)
		}

		s.eval.ControlGradient(lu, r.controls[k], s.grid.Times[k])
		gu.MulVec(r.fu[k].T(), mu)
		out := grad[k*m : (k+1)*m]
		copy(out, gu.RawVector().Data)
		floats.AddScaled(out, dt, lu)

		lx.MulVec(r.fx[k].T(), mu)
		lambda = mat.NewVecDense(n, s.stageStateGradient(r.states[k], k))
		lambda.AddVec(lambda, lx)
	}
	return grad
}

// stageStateGradient is Δt·w_k·∂(ℓ + penalty)/∂x at step k.
func (s *solver) stageStateGradient(x dynamo.State, k int) []float64 {
	g := make([]float64, len(x))
	w := s.weights[k]
	if w == 0 {
		return g
	}
	t := s.grid.Times[k]
	s.eval.StateGradient(g, x, t)
	s.enforcer.PenaltyGradient(g, x, t)
	floats.Scale(s.grid.Dt*w, g)
	return g
}

// numericalGradient differentiates the full rollout cost by central
// differences. It is slow and exists for problems whose Jacobians are not
// trustworthy.
func (s *solver) numericalGradient(controls []dynamo.Control) ([]float64, error) {
	m := s.problem.Dynamics.ControlDim()
	var failure error
	f := func(v []float64) float64 {
		r, err := s.simulate(unflatten(v, m), false)
		if err != nil {
			if failure == nil {
				failure = err
			}
			return math.NaN()
		}
		return r.cost
	}
	g := fd.Gradient(nil, f, flatten(controls), &fd.Settings{Formula: fd.Central})
	if failure != nil {
		return nil, failure
	}
	return g, nil
}

func flatten(controls []dynamo.Control) []float64 {
	if len(controls) == 0 {
		return nil
	}
	out := make([]float64, 0, len(controls)*len(controls[0]))
	for _, u := range controls {
		out = append(out, u...)
	}
	return out
}

func unflatten(v []float64, m int) []dynamo.Control {
	out := make([]dynamo.Control, len(v)/m)
	for k := range out {
		out[k] = make(dynamo.Control, m)
		copy(out[k], v[k*m:(k+1)*m])
	}
	return out
}
