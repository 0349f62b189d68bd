// Package optimizer searches over control sequences u_0 … u_{K-1} to
// minimise the discretised objective subject to the dynamics and the state
// constraint.
//
// Each iteration rolls the controls out through the integrator, applies the
// constraint enforcer to every produced state, scores the trajectory and
// differentiates the score with a reverse-mode adjoint pass over the stored
// step Jacobians. Controls are then updated by steepest descent with Armijo
// backtracking, or handed to a gonum quasi-Newton method.
//
// A run moves through
//
//	Initialized → Iterating → {Converged, MaxIterationsReached, Infeasible, Cancelled}
//
// and always ends in a [Result]; errors are reserved for invalid input and
// for failures inside the problem's own functions.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/ercrd/internal/constraint"
	"github.com/san-kum/ercrd/internal/control"
	"github.com/san-kum/ercrd/internal/dynamo"
	"github.com/san-kum/ercrd/internal/grid"
	"github.com/san-kum/ercrd/internal/integrators"
	"github.com/san-kum/ercrd/internal/logging"
	"github.com/san-kum/ercrd/internal/objective"
)

type Phase int

const (
	PhaseInitialized Phase = iota
	PhaseIterating
	PhaseConverged
	PhaseMaxIterationsReached
	PhaseInfeasible
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseInitialized:
		return "initialized"
	case PhaseIterating:
		return "iterating"
	case PhaseConverged:
		return "converged"
	case PhaseMaxIterationsReached:
		return "max-iterations-reached"
	case PhaseInfeasible:
		return "infeasible"
	case PhaseCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (s Status) phase() Phase {
	switch s {
	case StatusConverged:
		return PhaseConverged
	case StatusMaxIterations:
		return PhaseMaxIterationsReached
	case StatusInfeasible:
		return PhaseInfeasible
	}
	return PhaseCancelled
}

// Progress is reported to an Observer after initialisation, after every
// iteration and once more on the terminal phase.
type Progress struct {
	Phase        Phase
	Iteration    int
	Cost         float64
	GradientNorm float64
	Step         float64
	MaxViolation float64
}

type Observer interface {
	Observe(Progress)
}

type ObserverFunc func(Progress)

func (f ObserverFunc) Observe(p Progress) { f(p) }

type Option func(*solveOptions)

type solveOptions struct {
	warm     []dynamo.Control
	policy   control.Policy
	observer Observer
}

// WithWarmStart sets the initial control sequence. It must hold K controls.
func WithWarmStart(controls []dynamo.Control) Option {
	return func(o *solveOptions) { o.warm = controls }
}

// WithWarmStartPolicy derives the initial controls by running the policy in
// closed loop through the model.
func WithWarmStartPolicy(p control.Policy) Option {
	return func(o *solveOptions) { o.policy = p }
}

func WithObserver(obs Observer) Option {
	return func(o *solveOptions) { o.observer = obs }
}

// Optimizer holds a validated problem and configuration. Solve may be called
// repeatedly and from several goroutines.
type Optimizer struct {
	problem  dynamo.Problem
	cfg      Config
	grid     grid.Grid
	weights  []float64
	integ    dynamo.Integrator
	eval     *objective.Evaluator
	enforcer *constraint.Enforcer
	log      zerolog.Logger
}

// New validates the problem and configuration. Failures wrap
// dynamo.ErrInvalidConfiguration.
func New(p dynamo.Problem, cfg Config) (*Optimizer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g, err := grid.New(cfg.Horizon, cfg.Steps)
	if err != nil {
		return nil, err
	}
	rule, _ := grid.ParseRule(cfg.Rule)
	integ, _ := integrators.New(cfg.Integrator)
	opts, _ := cfg.ConstraintOptions()

	if p.Disturbance != nil && p.Disturbance.Dim() > 0 {
		xi := p.Disturbance.At(0, 0)
		if len(xi) != p.Disturbance.Dim() {
			return nil, &dynamo.ConfigError{Field: "disturbance", Reason: fmt.Sprintf("source returned %d values, expected %d", len(xi), p.Disturbance.Dim())}
		}
	}

	log := logging.New("optimizer")
	return &Optimizer{
		problem:  p,
		cfg:      cfg,
		grid:     g,
		weights:  g.Weights(rule),
		integ:    integ,
		eval:     objective.New(p, cfg.Weights()),
		enforcer: constraint.New(p.Constraint, opts, log),
		log:      log,
	}, nil
}

func (o *Optimizer) Config() Config { return o.cfg }

func (o *Optimizer) Grid() grid.Grid {
	g := o.grid
	g.Times = append([]float64(nil), o.grid.Times...)
	return g
}

// Solve optimises the controls from x0. The returned error is non-nil only
// for invalid inputs and for errors raised by the problem's functions;
// non-convergence, infeasibility and cancellation are Result statuses.
func (o *Optimizer) Solve(ctx context.Context, x0 dynamo.State, opts ...Option) (*Result, error) {
	start := time.Now()
	var so solveOptions
	for _, opt := range opts {
		opt(&so)
	}
	if err := o.validateInputs(x0, so); err != nil {
		return nil, err
	}
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	s := o.newSolver(x0, so.observer)
	s.log.Debug().
		Int("steps", o.grid.Steps).
		Float64("horizon", o.grid.Horizon).
		Str("method", string(o.cfg.Method)).
		Str("integrator", o.integ.Name()).
		Msg("solve started")

	cur, out, err := s.initialise(so)
	if err != nil {
		return nil, err
	}
	if out == nil {
		s.transition(PhaseIterating)
		var run outcome
		if o.cfg.Method == MethodGradient {
			run, err = s.descend(ctx, cur, outcome{history: []float64{cur.cost}})
		} else {
			run, err = s.quasiNewton(ctx, cur)
		}
		if err != nil {
			return nil, err
		}
		out = &run
	}
	out.warnings = s.warnings
	s.transition(out.status.phase())
	s.notify(out.iterations, out.best, out.gradientNorm, 0)

	res := report(o.cfg, o.grid.Times, o.cfg.ProjectionTolerance, *out, time.Since(start))
	s.log.Info().
		Stringer("status", res.Status()).
		Str("reason", string(res.Reason())).
		Int("iterations", res.Iterations()).
		Float64("cost", res.Cost()).
		Dur("elapsed", res.Elapsed()).
		Msg("solve finished")
	return res, nil
}

func (o *Optimizer) newSolver(x0 dynamo.State, obs Observer) *solver {
	return &solver{
		problem:  o.problem,
		cfg:      o.cfg,
		grid:     o.grid,
		weights:  o.weights,
		integ:    o.integ,
		eval:     o.eval,
		enforcer: o.enforcer,
		x0:       x0.Clone(),
		xi:       o.problem.SampleDisturbances(o.grid.Times, o.grid.Steps),
		log:      o.log,
		observer: obs,
		warnings: o.enforcer.Warnings(),
	}
}

func (o *Optimizer) validateInputs(x0 dynamo.State, so solveOptions) error {
	n := o.problem.Dynamics.StateDim()
	m := o.problem.Dynamics.ControlDim()
	if len(x0) != n {
		return &dynamo.DimensionError{What: "initial state", Got: len(x0), Expected: n}
	}
	if !x0.IsValid() {
		return &dynamo.ConfigError{Field: "x0", Reason: "initial state is not finite"}
	}
	if so.warm != nil {
		if len(so.warm) != o.grid.Steps {
			return &dynamo.DimensionError{What: "warm start", Got: len(so.warm), Expected: o.grid.Steps}
		}
		for _, u := range so.warm {
			if len(u) != m {
				return &dynamo.DimensionError{What: "warm start control", Got: len(u), Expected: m}
			}
		}
	}
	return nil
}

// solver is the per-call state of Solve.
type solver struct {
	problem  dynamo.Problem
	cfg      Config
	grid     grid.Grid
	weights  []float64
	integ    dynamo.Integrator
	eval     *objective.Evaluator
	enforcer *constraint.Enforcer
	x0       dynamo.State
	xi       []dynamo.Disturbance
	log      zerolog.Logger
	observer Observer
	phase    Phase
	warnings []string
}

func (s *solver) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.log.Warn().Msg(msg)
	s.warnings = append(s.warnings, msg)
}

func (s *solver) transition(to Phase) {
	s.log.Debug().Stringer("from", s.phase).Stringer("to", to).Msg("phase")
	s.phase = to
}

func (s *solver) notify(iteration int, r *rollout, gnorm, step float64) {
	if s.observer == nil {
		return
	}
	maxViolation := 0.0
	for _, v := range r.violations[:r.valid] {
		maxViolation = math.Max(maxViolation, v)
	}
	s.observer.Observe(Progress{
		Phase:        s.phase,
		Iteration:    iteration,
		Cost:         r.cost,
		GradientNorm: gnorm,
		Step:         step,
		MaxViolation: maxViolation,
	})
}

// initialise builds the starting rollout. A diverging start is retried with
// the controls halved. A non-nil outcome means the run is already terminal.
func (s *solver) initialise(so solveOptions) (*rollout, *outcome, error) {
	s.phase = PhaseInitialized
	controls := make([]dynamo.Control, s.grid.Steps)
	switch {
	case so.warm != nil:
		for k, u := range so.warm {
			controls[k] = u.Clone()
		}
	case so.policy != nil:
		controls = s.policyControls(so.policy)
	default:
		for k := range controls {
			controls[k] = make(dynamo.Control, s.problem.Dynamics.ControlDim())
		}
	}

	for attempt := 0; ; attempt++ {
		r, err := s.simulate(controls, false)
		if err == nil {
			s.notify(0, r, math.NaN(), 0)
			if r.infeasible {
				s.warn("initial trajectory: projection failed on %d consecutive steps", s.cfg.InfeasibleRun)
				return nil, &outcome{best: r, status: StatusInfeasible, reason: ReasonProjection, history: []float64{r.cost}, gradientNorm: math.NaN()}, nil
			}
			return r, nil, nil
		}
		if !errors.Is(err, dynamo.ErrIntegrationDivergence) {
			return nil, nil, err
		}
		if attempt >= s.cfg.MaxDivergenceRetries {
			s.warn("initial trajectory diverged after %d retries: %v", attempt, err)
			r.cost = math.Inf(1)
			return nil, &outcome{best: r, status: StatusInfeasible, reason: ReasonDivergence, gradientNorm: math.NaN()}, nil
		}
		s.log.Debug().Err(err).Int("retry", attempt+1).Msg("initial trajectory diverged, halving controls")
		for _, u := range controls {
			floats.Scale(0.5, u)
		}
	}
}

// policyControls runs p in closed loop. If the closed loop diverges the
// remaining controls are zero.
func (s *solver) policyControls(p control.Policy) []dynamo.Control {
	if r, ok := p.(control.Resetter); ok {
		r.Reset()
	}
	m := s.problem.Dynamics.ControlDim()
	controls := make([]dynamo.Control, s.grid.Steps)
	x := s.x0.Clone()
	for k := range controls {
		controls[k] = make(dynamo.Control, m)
		if x == nil {
			continue
		}
		copy(controls[k], p.Compute(x, s.grid.Times[k]))
		next, err := s.integ.Step(s.problem.Dynamics, x, controls[k], s.xi[k], s.grid.Times[k], s.grid.Dt)
		if err != nil {
			s.warn("warm-start policy diverged at step %d, remaining controls set to zero", k)
			x = nil
			continue
		}
		x = s.enforcer.Project(next, s.grid.Times[k+1]).X
	}
	return controls
}

func interrupted(ctx context.Context) (Reason, bool) {
	err := ctx.Err()
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout, true
	}
	return ReasonCancelled, true
}

func convergence(improvement, gnorm, tol float64) (Reason, bool) {
	costOK := improvement < tol
	gradOK := gnorm < tol
	switch {
	case costOK && gradOK:
		return ReasonBoth, true
	case costOK:
		return ReasonCost, true
	case gradOK:
		return ReasonGradient, true
	}
	return "", false
}

// lastImprovement is the cost decrease of the latest iteration, +Inf before
// the first one.
func lastImprovement(history []float64) float64 {
	if len(history) < 2 {
		return math.Inf(1)
	}
	return history[len(history)-2] - history[len(history)-1]
}

// descend is steepest descent with Armijo backtracking. It continues the
// iteration count and history of out.
func (s *solver) descend(ctx context.Context, cur *rollout, out outcome) (outcome, error) {
	step := s.cfg.InitialStep
	maxStep := s.cfg.InitialStep * 1e6
	improvement := math.Inf(1)
	var grad []float64

	for {
		if reason, ok := interrupted(ctx); ok {
			out.status, out.reason = StatusCancelled, reason
			break
		}
		if grad == nil {
			g, err := s.gradient(cur)
			if errors.Is(err, dynamo.ErrIntegrationDivergence) {
				s.warn("gradient evaluation diverged: %v", err)
				out.status, out.reason = StatusInfeasible, ReasonDivergence
				break
			}
			if err != nil {
				return out, err
			}
			grad = g
		}
		out.gradientNorm = floats.Norm(grad, 2)

		if reason, ok := convergence(improvement, out.gradientNorm, s.cfg.Tolerance); ok {
			out.status, out.reason = StatusConverged, reason
			break
		}
		if out.iterations >= s.cfg.MaxIterations {
			out.status, out.reason = StatusMaxIterations, ReasonIterations
			break
		}

		next, used, err := s.armijo(cur, grad, step)
		if errors.Is(err, errDivergenceBudget) {
			out.status, out.reason = StatusInfeasible, ReasonDivergence
			break
		}
		if err != nil {
			return out, err
		}
		if next == nil {
			s.log.Debug().Int("iteration", out.iterations).Msg("no step satisfies the Armijo condition")
			improvement = 0
			continue
		}

		improvement = cur.cost - next.cost
		cur, grad = next, nil
		out.iterations++
		out.history = append(out.history, cur.cost)
		step = math.Min(used/s.cfg.Backtrack, maxStep)

		s.log.Trace().Int("iteration", out.iterations).Float64("cost", cur.cost).Float64("step", used).Msg("iteration")
		s.notify(out.iterations, cur, out.gradientNorm, used)
	}
	out.best = cur
	return out, nil
}
