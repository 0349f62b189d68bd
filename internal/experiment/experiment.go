// Package experiment turns a run configuration into a problem, a warm-start
// policy and an optimizer.
package experiment

import (
	"context"
	"fmt"

	"github.com/san-kum/ercrd/internal/config"
	"github.com/san-kum/ercrd/internal/control"
	"github.com/san-kum/ercrd/internal/optimizer"
)

type Experiment struct {
	cfg    *config.Config
	inst   *Instance
	policy control.Policy
	opt    *optimizer.Optimizer
}

// New builds every piece of the run described by cfg.
func New(reg *Registry, cfg *config.Config) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	inst, err := reg.Problem(cfg)
	if err != nil {
		return nil, err
	}
	policy, err := reg.Policy(inst, cfg)
	if err != nil {
		return nil, err
	}
	opt, err := optimizer.New(inst.Problem, cfg.Solver)
	if err != nil {
		return nil, fmt.Errorf("optimizer: %w", err)
	}
	return &Experiment{cfg: cfg, inst: inst, policy: policy, opt: opt}, nil
}

func (e *Experiment) Run(ctx context.Context, observers ...optimizer.Observer) (*optimizer.Result, error) {
	var opts []optimizer.Option
	if e.policy != nil {
		opts = append(opts, optimizer.WithWarmStartPolicy(e.policy))
	}
	switch len(observers) {
	case 0:
	case 1:
		opts = append(opts, optimizer.WithObserver(observers[0]))
	default:
		opts = append(opts, optimizer.WithObserver(fanout(observers)))
	}
	return e.opt.Solve(ctx, e.inst.X0, opts...)
}

func (e *Experiment) Config() *config.Config { return e.cfg }

func (e *Experiment) Instance() *Instance { return e.inst }

func (e *Experiment) Optimizer() *optimizer.Optimizer { return e.opt }

type fanout []optimizer.Observer

func (f fanout) Observe(p optimizer.Progress) {
	for _, o := range f {
		o.Observe(p)
	}
}
