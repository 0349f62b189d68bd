package optimizer

import (
	"errors"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ercrd/internal/dynamo"
	"github.com/san-kum/ercrd/internal/objective"
)

// rollout is one forward simulation of a control sequence.
type rollout struct {
	states   []dynamo.State   // K+1
	controls []dynamo.Control // K
	// Step and projection Jacobians, filled only by a linearised rollout.
	// proj[k] is nil when x_{k+1} was not projected.
	fx, fu, proj []*mat.Dense
	violations   []float64
	// valid is the number of states computed before a divergence, K+1 for
	// a complete rollout.
	valid int
	// infeasible is set after InfeasibleRun consecutive failed projections.
	infeasible bool

	cost    float64
	terms   objective.Terms
	penalty float64
}

func (r *rollout) linearised() bool { return r.fx != nil }

// simulate integrates the controls from x0, applying the constraint enforcer
// to every produced state. A divergence returns the partial rollout with a
// *dynamo.DivergenceError carrying the step index.
func (s *solver) simulate(controls []dynamo.Control, linearise bool) (*rollout, error) {
	steps := s.grid.Steps
	times := s.grid.Times
	r := &rollout{
		states:     make([]dynamo.State, steps+1),
		controls:   controls,
		violations: make([]float64, steps+1),
		valid:      1,
	}
	if linearise {
		r.fx = make([]*mat.Dense, steps)
		r.fu = make([]*mat.Dense, steps)
		r.proj = make([]*mat.Dense, steps)
	}
	r.states[0] = s.x0.Clone()
	r.violations[0] = s.enforcer.Violation(s.x0, times[0])

	failed := 0
	for k := 0; k < steps; k++ {
		var (
			next   dynamo.State
			fx, fu *mat.Dense
			err    error
		)
		if linearise {
			next, fx, fu, err = s.integ.Linearize(s.problem.Dynamics, r.states[k], controls[k], s.xi[k], times[k], s.grid.Dt)
		} else {
			next, err = s.integ.Step(s.problem.Dynamics, r.states[k], controls[k], s.xi[k], times[k], s.grid.Dt)
		}
		if err != nil {
			var de *dynamo.DivergenceError
			if errors.As(err, &de) {
				de.Step = k
			}
			return r, err
		}

		p := s.enforcer.Project(next, times[k+1])
		if p.Moved && !p.Feasible {
			failed++
			if failed >= s.cfg.InfeasibleRun {
				r.infeasible = true
			}
		} else {
			failed = 0
		}
		if !p.X.IsValid() {
			return r, &dynamo.DivergenceError{Step: k, Time: times[k], State: p.X}
		}

		r.states[k+1] = p.X
		r.violations[k+1] = p.Violation
		if !p.Moved {
			r.violations[k+1] = s.enforcer.Violation(p.X, times[k+1])
		}
		r.valid = k + 2
		if linearise {
			r.fx[k], r.fu[k], r.proj[k] = fx, fu, p.Jacobian
		}
	}
	s.evaluate(r)
	return r, nil
}

// evaluate fills the cost of a complete rollout.
func (s *solver) evaluate(r *rollout) {
	r.terms = s.eval.Breakdown(s.grid.Times, s.weights, s.grid.Dt, r.states, r.controls)
	r.penalty = 0
	for k, x := range r.states {
		if s.weights[k] != 0 {
			r.penalty += s.grid.Dt * s.weights[k] * s.enforcer.Penalty(x, s.grid.Times[k])
		}
	}
	r.cost = r.terms.Sum() + r.penalty
}
