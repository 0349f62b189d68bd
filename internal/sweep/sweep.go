// Package sweep runs a problem over a grid of parameter values in parallel
// and ranks the runs by final cost.
package sweep

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/ercrd/internal/config"
	"github.com/san-kum/ercrd/internal/dynamo"
	"github.com/san-kum/ercrd/internal/experiment"
	"github.com/san-kum/ercrd/internal/optimizer"
)

// Axis is one swept parameter. Names starting with "solver." set solver
// fields (alpha, beta, gamma, control_weight, horizon, steps, tolerance,
// penalty_weight); "noise" and "seed" set the run; anything else is a problem
// parameter.
type Axis struct {
	Name   string
	Values []float64
}

// ParseAxis reads "name=v1,v2,...".
func ParseAxis(s string) (Axis, error) {
	name, list, ok := strings.Cut(s, "=")
	if !ok || name == "" || list == "" {
		return Axis{}, &dynamo.ConfigError{Field: "sweep", Reason: fmt.Sprintf("expected name=v1,v2 in %q", s)}
	}
	var a Axis
	a.Name = strings.TrimSpace(name)
	for _, f := range strings.Split(list, ",") {
		var v float64
		if _, err := fmt.Sscan(strings.TrimSpace(f), &v); err != nil {
			return Axis{}, &dynamo.ConfigError{Field: "sweep", Reason: fmt.Sprintf("value %q of %s: %v", f, a.Name, err)}
		}
		a.Values = append(a.Values, v)
	}
	return a, nil
}

// Grid enumerates the cartesian product of its axes.
type Grid struct {
	Axes []Axis
}

func NewGrid(axes ...Axis) *Grid {
	return &Grid{Axes: axes}
}

// Size is the number of points in the product.
func (g *Grid) Size() int {
	if len(g.Axes) == 0 {
		return 0
	}
	n := 1
	for _, a := range g.Axes {
		n *= len(a.Values)
	}
	return n
}

// Points returns every assignment, the last axis varying fastest.
func (g *Grid) Points() []map[string]float64 {
	var out []map[string]float64
	if g.Size() == 0 {
		return out
	}
	g.walk(0, make(map[string]float64), &out)
	return out
}

func (g *Grid) walk(depth int, current map[string]float64, out *[]map[string]float64) {
	if depth == len(g.Axes) {
		point := make(map[string]float64, len(current))
		for k, v := range current {
			point[k] = v
		}
		*out = append(*out, point)
		return
	}
	axis := g.Axes[depth]
	for _, v := range axis.Values {
		current[axis.Name] = v
		g.walk(depth+1, current, out)
	}
	delete(current, axis.Name)
}

// Run is one grid point.
type Run struct {
	Index  int
	Params map[string]float64
	Config *config.Config
	Result *optimizer.Result
	Err    error
}

// Cost is the final cost, or +Inf when the run failed or was infeasible.
func (r Run) Cost() float64 {
	if r.Err != nil || r.Result == nil || r.Result.Status() == optimizer.StatusInfeasible {
		return math.Inf(1)
	}
	return r.Result.Cost()
}

type Sweeper struct {
	reg      *experiment.Registry
	limit    int
	observer func(Run)
}

type Option func(*Sweeper)

// WithLimit bounds the number of concurrent solves. The default is
// GOMAXPROCS.
func WithLimit(n int) Option {
	return func(s *Sweeper) { s.limit = n }
}

// WithRunObserver is called as each run finishes, possibly concurrently.
func WithRunObserver(fn func(Run)) Option {
	return func(s *Sweeper) { s.observer = fn }
}

func New(reg *experiment.Registry, opts ...Option) *Sweeper {
	s := &Sweeper{reg: reg, limit: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run solves base at every grid point. Per-run failures are kept on the Run;
// the returned error is the context's if it ended the sweep. Runs are
// returned in grid order.
func (s *Sweeper) Run(ctx context.Context, base *config.Config, g *Grid) ([]Run, error) {
	points := g.Points()
	runs := make([]Run, len(points))

	eg, ctx := errgroup.WithContext(ctx)
	if s.limit > 0 {
		eg.SetLimit(s.limit)
	}
	for i, point := range points {
		cfg, err := apply(base, point)
		runs[i] = Run{Index: i, Params: point, Config: cfg, Err: err}
		if err != nil {
			continue
		}
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				runs[i].Err = err
				return err
			}
			exp, err := experiment.New(s.reg, cfg)
			if err == nil {
				runs[i].Result, err = exp.Run(ctx)
			}
			runs[i].Err = err
			if s.observer != nil {
				s.observer(runs[i])
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return runs, err
	}
	return runs, nil
}

// Best returns the feasible run with the lowest cost.
func Best(runs []Run) (Run, bool) {
	best := -1
	for i, r := range runs {
		if math.IsInf(r.Cost(), 1) {
			continue
		}
		if best < 0 || r.Cost() < runs[best].Cost() {
			best = i
		}
	}
	if best < 0 {
		return Run{}, false
	}
	return runs[best], true
}

// Rank returns the runs sorted by cost, failures last.
func Rank(runs []Run) []Run {
	out := append([]Run(nil), runs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Cost() < out[j].Cost() })
	return out
}

func apply(base *config.Config, point map[string]float64) (*config.Config, error) {
	cfg := base.Clone()
	names := make([]string, 0, len(point))
	for name := range point {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := point[name]
		switch name {
		case "noise":
			cfg.Noise = v
		case "seed":
			cfg.Seed = uint64(v)
		case "solver.alpha":
			cfg.Solver.Alpha = v
		case "solver.beta":
			cfg.Solver.Beta = v
		case "solver.gamma":
			cfg.Solver.Gamma = v
		case "solver.control_weight":
			cfg.Solver.ControlWeight = v
		case "solver.horizon":
			cfg.Solver.Horizon = v
		case "solver.steps":
			cfg.Solver.Steps = int(v)
		case "solver.tolerance":
			cfg.Solver.Tolerance = v
		case "solver.penalty_weight":
			cfg.Solver.PenaltyWeight = v
		default:
			if strings.HasPrefix(name, "solver.") {
				return cfg, fmt.Errorf("sweep axis %q: %w", name, dynamo.ErrUnknownName)
			}
			if cfg.Params == nil {
				cfg.Params = make(map[string]float64)
			}
			cfg.Params[name] = v
		}
	}
	return cfg, nil
}
