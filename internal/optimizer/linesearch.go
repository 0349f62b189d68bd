package optimizer

import (
	"errors"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/ercrd/internal/dynamo"
)

// errDivergenceBudget means every step tried in one line search diverged
// until the retry budget ran out.
var errDivergenceBudget = errors.New("optimizer: divergence retry budget exhausted")

// armijo searches along −grad from cur for a step satisfying
//
//	J(u − s·g) ≤ J(u) − c·s·‖g‖²
//
// shrinking s by Backtrack after each rejection. A diverged or infeasible
// candidate is rejected like an insufficient decrease, but diverged
// candidates also consume the retry budget. It returns a nil rollout when no
// step is accepted.
func (s *solver) armijo(cur *rollout, grad []float64, step float64) (*rollout, float64, error) {
	m := s.problem.Dynamics.ControlDim()
	base := flatten(cur.controls)
	slope := floats.Dot(grad, grad)
	candidate := make([]float64, len(base))

	diverged := 0
	for i := 0; i < s.cfg.MaxBacktracks; i++ {
		copy(candidate, base)
		floats.AddScaled(candidate, -step, grad)

		r, err := s.simulate(unflatten(candidate, m), false)
		switch {
		case errors.Is(err, dynamo.ErrIntegrationDivergence):
			diverged++
			s.log.Debug().Err(err).Float64("step", step).Int("retry", diverged).Msg("candidate diverged, shrinking step")
			if diverged > s.cfg.MaxDivergenceRetries {
				s.warn("line search: %d diverged candidates, giving up", diverged)
				return nil, step, errDivergenceBudget
			}
		case err != nil:
			return nil, step, err
		case r.infeasible:
			s.log.Debug().Float64("step", step).Msg("candidate infeasible, shrinking step")
		case r.cost <= cur.cost-s.cfg.Armijo*step*slope:
			return r, step, nil
		}
		step *= s.cfg.Backtrack
	}
	return nil, step, nil
}
