package experiment

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ercrd/internal/config"
	"github.com/san-kum/ercrd/internal/control"
	"github.com/san-kum/ercrd/internal/dynamo"
	"github.com/san-kum/ercrd/internal/grid"
	"github.com/san-kum/ercrd/internal/models"
)

const (
	DefaultKp = 10.0
	DefaultKi = 0.1
	DefaultKd = 5.0
)

// Instance is a problem ready to be handed to the optimizer.
type Instance struct {
	Problem dynamo.Problem
	X0      dynamo.State
	// Target is the state the adaptability term pulls towards, if any.
	Target dynamo.State
}

type ProblemBuilder func(cfg *config.Config) (*Instance, error)

// PolicyBuilder returns a warm-start policy, or nil for zero controls.
type PolicyBuilder func(inst *Instance, cfg *config.Config) (control.Policy, error)

type problemEntry struct {
	build       ProblemBuilder
	description string
}

type Registry struct {
	problems map[string]problemEntry
	policies map[string]PolicyBuilder
}

func NewRegistry() *Registry {
	r := &Registry{
		problems: make(map[string]problemEntry),
		policies: make(map[string]PolicyBuilder),
	}

	r.RegisterProblem("lqr", "double integrator regulated to a target with quadratic cost", buildLQR)
	r.RegisterProblem("tracking", "double integrator tracking a position, optional speed limit", buildTracking)
	r.RegisterProblem("energy", "three-node economic dispatch over a daily demand cycle", buildEnergy)

	r.policies["none"] = func(*Instance, *config.Config) (control.Policy, error) { return nil, nil }
	r.policies["lqr"] = riccatiPolicy
	r.policies["static-lqr"] = staticLQRPolicy
	r.policies["pid"] = pidPolicy

	return r
}

func (r *Registry) RegisterProblem(name, description string, build ProblemBuilder) {
	r.problems[name] = problemEntry{build: build, description: description}
}

func (r *Registry) Problem(cfg *config.Config) (*Instance, error) {
	e, ok := r.problems[cfg.Problem]
	if !ok {
		return nil, fmt.Errorf("problem %q: %w", cfg.Problem, dynamo.ErrUnknownName)
	}
	inst, err := e.build(cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", cfg.Problem, err)
	}
	if x0 := cfg.InitState(); x0 != nil {
		inst.X0 = x0
	}
	if cfg.Noise > 0 {
		n := inst.Problem.Dynamics.StateDim()
		switch sys := inst.Problem.Dynamics.(type) {
		case *models.EnergyDispatch:
			n = sys.ControlDim()
		case *models.Linear:
			if sys.E == nil {
				sys.E = mat.DenseCopyOf(identity(n, 1))
			}
		}
		inst.Problem.Disturbance = dynamo.NewGaussian(n, 0, cfg.Noise, cfg.Seed)
	}
	return inst, nil
}

func (r *Registry) Policy(inst *Instance, cfg *config.Config) (control.Policy, error) {
	name := cfg.Warm
	if name == "" {
		name = "none"
	}
	build, ok := r.policies[name]
	if !ok {
		return nil, fmt.Errorf("warm-start policy %q: %w", name, dynamo.ErrUnknownName)
	}
	return build(inst, cfg)
}

func (r *Registry) ListProblems() []string {
	names := make([]string, 0, len(r.problems))
	for name := range r.problems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Describe(name string) string {
	return r.problems[name].description
}

func (r *Registry) ListPolicies() []string {
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// params hands out named parameters and rejects the ones nobody asked for.
type params struct {
	values map[string]float64
	used   map[string]bool
}

func newParams(values map[string]float64) *params {
	return &params{values: values, used: make(map[string]bool)}
}

func (p *params) get(name string, def float64) float64 {
	p.used[name] = true
	if v, ok := p.values[name]; ok {
		return v
	}
	return def
}

func (p *params) check() error {
	for name := range p.values {
		if !p.used[name] {
			return fmt.Errorf("parameter %q: %w", name, dynamo.ErrUnknownName)
		}
	}
	return nil
}

func target(cfg *config.Config, n int) (dynamo.State, error) {
	if len(cfg.Target) == 0 {
		return make(dynamo.State, n), nil
	}
	if len(cfg.Target) > n {
		return nil, &dynamo.DimensionError{What: "target", Got: len(cfg.Target), Expected: n}
	}
	t := make(dynamo.State, n)
	copy(t, cfg.Target)
	return t, nil
}

func buildLQR(cfg *config.Config) (*Instance, error) {
	p := newParams(cfg.Params)
	sys := models.NewDoubleIntegrator()
	sys.A.Set(1, 1, -p.get("damping", 0))
	if err := p.check(); err != nil {
		return nil, err
	}
	r, err := target(cfg, 2)
	if err != nil {
		return nil, err
	}
	return &Instance{
		Problem: dynamo.Problem{
			Dynamics:     sys,
			Adaptability: models.NewIdentityQuadratic(2, r),
			Control:      models.NewEffort(1),
		},
		X0:     dynamo.State{1, 0},
		Target: r,
	}, nil
}

func buildTracking(cfg *config.Config) (*Instance, error) {
	p := newParams(cfg.Params)
	maxSpeed := p.get("max_speed", 0)
	if err := p.check(); err != nil {
		return nil, err
	}
	r, err := target(cfg, 2)
	if err != nil {
		return nil, err
	}
	inst := &Instance{
		Problem: dynamo.Problem{
			Dynamics:     models.NewDoubleIntegrator(),
			Adaptability: models.NewQuadratic(mat.NewSymDense(2, []float64{1, 0, 0, 0}), r),
			Control:      models.NewEffort(1),
		},
		X0:     dynamo.State{0, 0},
		Target: r,
	}
	if maxSpeed > 0 {
		g := mat.NewDense(2, 2, []float64{0, 1, 0, -1})
		inst.Problem.Constraint = models.NewAffine(g, []float64{maxSpeed, maxSpeed})
	}
	return inst, nil
}

func buildEnergy(cfg *config.Config) (*Instance, error) {
	e := models.NewEnergyDemo()
	for name, v := range cfg.Params {
		if err := e.SetParam(name, v); err != nil {
			return nil, err
		}
	}
	return &Instance{
		Problem: e.Problem(),
		X0:      models.EnergyDemoState(),
	}, nil
}

// riccatiPolicy linearises the dynamics at x0 and solves the discrete
// regulator with the adaptability weight on the state and the control weight
// on the input.
func riccatiPolicy(inst *Instance, cfg *config.Config) (control.Policy, error) {
	sys := inst.Problem.Dynamics
	lin, ok := sys.(dynamo.Linearizer)
	if !ok {
		return nil, &dynamo.ConfigError{Field: "warm_start", Reason: "lqr warm start needs analytic Jacobians"}
	}
	g, err := grid.New(cfg.Solver.Horizon, cfg.Solver.Steps)
	if err != nil {
		return nil, err
	}
	rule, err := grid.ParseRule(cfg.Solver.Rule)
	if err != nil {
		return nil, err
	}
	n, m := sys.StateDim(), sys.ControlDim()
	a := mat.NewDense(n, n, nil)
	b := mat.NewDense(n, m, nil)
	lin.Jacobians(a, b, inst.X0, make(dynamo.Control, m), nil, 0)
	ad, bd := control.Discretize(a, b, g.Dt)

	w := g.Weights(rule)
	beta := cfg.Solver.Beta
	if beta == 0 {
		beta = 1
	}
	for k := range w {
		w[k] *= g.Dt * beta
	}
	q := identity(n, 1)
	if h, ok := inst.Problem.Adaptability.(dynamo.HessianField); ok {
		q = mat.NewSymDense(n, nil)
		h.Hessian(q, inst.X0, 0)
		q.ScaleSym(0.5, q)
	}
	c := cfg.Solver.ControlWeight
	if c == 0 {
		c = 1
	}

	s, err := control.FiniteHorizonLQR(ad, bd, control.StageWeights(q, w), identity(m, g.Dt*c))
	if err != nil {
		return nil, err
	}
	s.Dt = g.Dt
	return s, nil
}

// staticLQRPolicy holds the first Riccati gain over the whole horizon and
// regulates towards the target instead of the origin.
func staticLQRPolicy(inst *Instance, cfg *config.Config) (control.Policy, error) {
	p, err := riccatiPolicy(inst, cfg)
	if err != nil {
		return nil, err
	}
	target := inst.Target
	if target == nil {
		target = make(dynamo.State, inst.Problem.Dynamics.StateDim())
	}
	return p.(*control.Schedule).Static(target), nil
}

func pidPolicy(inst *Instance, cfg *config.Config) (control.Policy, error) {
	setpoint := 0.0
	if len(inst.Target) > 0 {
		setpoint = inst.Target[0]
	}
	pid := control.NewPID(DefaultKp, DefaultKi, DefaultKd, setpoint)
	pid.Dim = inst.Problem.Dynamics.ControlDim()
	return pid, nil
}

func identity(n int, scale float64) *mat.SymDense {
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		s.SetSym(i, i, scale)
	}
	return s
}
