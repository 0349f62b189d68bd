package optimizer

import (
	"context"
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/san-kum/ercrd/internal/dynamo"
)

// recorder watches a gonum run: it stops the run on cancellation or when
// the divergence budget is spent, and keeps the best major iterate.
type recorder struct {
	ctx      context.Context
	s        *solver
	out      *outcome
	diverged *int
	bestX    []float64
	bestF    float64
}

func (r *recorder) Init() error { return nil }

func (r *recorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	if *r.diverged > r.s.cfg.MaxDivergenceRetries {
		return errDivergenceBudget
	}
	if op&optimize.MajorIteration == 0 {
		return nil
	}
	if loc.F < r.bestF {
		r.bestF = loc.F
		copy(r.bestX, loc.X)
	}
	r.out.iterations = stats.MajorIterations
	r.out.history = append(r.out.history, loc.F)
	if loc.Gradient != nil {
		r.out.gradientNorm = floats.Norm(loc.Gradient, 2)
	}
	r.s.log.Trace().Int("iteration", stats.MajorIterations).Float64("cost", loc.F).Msg("iteration")
	if r.s.observer != nil {
		r.s.observer.Observe(Progress{
			Phase:        r.s.phase,
			Iteration:    stats.MajorIterations,
			Cost:         loc.F,
			GradientNorm: r.out.gradientNorm,
		})
	}
	return nil
}

// quasiNewton hands the flattened controls to gonum's LBFGS or BFGS. The
// rollout cost and adjoint gradient are the objective and its gradient;
// diverged or infeasible rollouts evaluate to +Inf so the line search
// backs off.
func (s *solver) quasiNewton(ctx context.Context, cur *rollout) (outcome, error) {
	m := s.problem.Dynamics.ControlDim()
	out := outcome{history: []float64{cur.cost}, gradientNorm: math.NaN()}
	diverged := 0
	var failure error

	fail := func(err error) {
		if errors.Is(err, dynamo.ErrIntegrationDivergence) {
			diverged++
			return
		}
		if failure == nil {
			failure = err
		}
	}

	prob := optimize.Problem{
		Func: func(v []float64) float64 {
			r, err := s.simulate(unflatten(v, m), false)
			if err != nil {
				fail(err)
				return math.Inf(1)
			}
			if r.infeasible {
				return math.Inf(1)
			}
			return r.cost
		},
		Grad: func(grad, v []float64) {
			r, err := s.simulate(unflatten(v, m), s.cfg.GradientMode == GradientAdjoint)
			var g []float64
			if err == nil {
				g, err = s.gradient(r)
			}
			if err != nil {
				fail(err)
				for i := range grad {
					grad[i] = math.NaN()
				}
				return
			}
			copy(grad, g)
		},
	}

	x0 := flatten(cur.controls)
	rec := &recorder{
		ctx:      ctx,
		s:        s,
		out:      &out,
		diverged: &diverged,
		bestX:    append([]float64(nil), x0...),
		bestF:    cur.cost,
	}
	// gonum tests the max-norm; scaling keeps the 2-norm below tolerance.
	settings := &optimize.Settings{
		GradientThreshold: s.cfg.Tolerance / math.Sqrt(float64(len(x0))),
		Converger:         &optimize.FunctionConverge{Absolute: s.cfg.Tolerance, Iterations: 1},
		MajorIterations:   s.cfg.MaxIterations,
		Recorder:          rec,
	}
	var method optimize.Method = &optimize.LBFGS{}
	if s.cfg.Method == MethodBFGS {
		method = &optimize.BFGS{}
	}

	res, err := optimize.Minimize(prob, x0, settings, method)
	if failure != nil {
		return out, failure
	}

	final := rec.bestX
	if res != nil && res.X != nil && res.F <= rec.bestF {
		final = res.X
	}
	if err == nil {
		out.iterations = res.Stats.MajorIterations
		if res.Gradient != nil {
			out.gradientNorm = floats.Norm(res.Gradient, 2)
		}
	}
	best, serr := s.simulate(unflatten(final, m), false)
	if serr != nil || best.infeasible {
		best = cur
	}
	out.best = best

	if reason, cancelled := interrupted(ctx); cancelled {
		out.status, out.reason = StatusCancelled, reason
		return out, nil
	}
	if errors.Is(err, errDivergenceBudget) || diverged > s.cfg.MaxDivergenceRetries {
		s.warn("quasi-Newton: %d diverged evaluations, giving up", diverged)
		out.status, out.reason = StatusInfeasible, ReasonDivergence
		return out, nil
	}
	if err == nil {
		if limited(res.Status) {
			out.status, out.reason = StatusMaxIterations, ReasonIterations
			return out, nil
		}
		if reason, ok := convergence(lastImprovement(out.history), out.gradientNorm, s.cfg.Tolerance); ok {
			out.status, out.reason = StatusConverged, reason
			return out, nil
		}
	}

	// gonum stopped without meeting either criterion, typically a failed
	// line search next to a region where the rollout diverges.
	s.log.Debug().Err(err).Stringer("status", statusOf(res)).Msg("quasi-Newton stopped early, continuing with steepest descent")
	return s.descend(ctx, best, out)
}

func limited(st optimize.Status) bool {
	switch st {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.GradientEvaluationLimit,
		optimize.HessianEvaluationLimit, optimize.RuntimeLimit:
		return true
	}
	return false
}

func statusOf(res *optimize.Result) optimize.Status {
	if res == nil {
		return optimize.NotTerminated
	}
	return res.Status
}
