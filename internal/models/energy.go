package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ercrd/internal/dynamo"
)

const (
	DefaultBaseDemand  = 150.0
	DefaultDemandSwing = 30.0
	DefaultPeriod      = 24.0
	DefaultCoupling    = 0.01
	// DefaultReserve is the share of total capacity that may be dispatched.
	DefaultReserve = 0.8
)

// Generator has cost a·P² + b·P and output limit Capacity.
type Generator struct {
	Quadratic float64 `yaml:"quadratic" json:"quadratic"`
	Linear    float64 `yaml:"linear" json:"linear"`
	Capacity  float64 `yaml:"capacity" json:"capacity"`
}

// EnergyDispatch is an n-node power network. The state is
// [P_1 … P_n, θ_1 … θ_n] (generator outputs and bus angles) and the control
// is the ramp rate of each generator:
//
//	dP_i/dt = u_i
//	dθ_i/dt = κ·(P_i − D(t)/n + ξ_i − Σ_j B_ij·(θ_i − θ_j))
//
// with demand D(t) = base + swing·sin(2πt/period).
type EnergyDispatch struct {
	Generators  []Generator
	Lines       *mat.SymDense // susceptance B_ij, zero where no line exists
	BaseDemand  float64
	DemandSwing float64
	Period      float64
	Coupling    float64
	Reserve     float64
}

func NewEnergyDispatch(gens []Generator, lines *mat.SymDense) *EnergyDispatch {
	return &EnergyDispatch{
		Generators:  gens,
		Lines:       lines,
		BaseDemand:  DefaultBaseDemand,
		DemandSwing: DefaultDemandSwing,
		Period:      DefaultPeriod,
		Coupling:    DefaultCoupling,
		Reserve:     DefaultReserve,
	}
}

// NewEnergyDemo is the three-node network used by the demo preset.
func NewEnergyDemo() *EnergyDispatch {
	gens := []Generator{
		{Quadratic: 0.01, Linear: 10, Capacity: 100},
		{Quadratic: 0.02, Linear: 15, Capacity: 120},
		{Quadratic: 0.03, Linear: 20, Capacity: 90},
	}
	lines := mat.NewSymDense(3, []float64{
		0, 0.2, 0.1,
		0.2, 0, 0.15,
		0.1, 0.15, 0,
	})
	return NewEnergyDispatch(gens, lines)
}

// EnergyDemoState is the demo initial condition.
func EnergyDemoState() dynamo.State {
	return dynamo.State{50, 60, 40, 0, 0, 0}
}

func (e *EnergyDispatch) nodes() int { return len(e.Generators) }

func (e *EnergyDispatch) StateDim() int   { return 2 * e.nodes() }
func (e *EnergyDispatch) ControlDim() int { return e.nodes() }

// Demand is D(t).
func (e *EnergyDispatch) Demand(t float64) float64 {
	if e.Period <= 0 {
		return e.BaseDemand
	}
	return e.BaseDemand + e.DemandSwing*math.Sin(2*math.Pi*t/e.Period)
}

func (e *EnergyDispatch) Derive(x dynamo.State, u dynamo.Control, xi dynamo.Disturbance, t float64) dynamo.State {
	n := e.nodes()
	dx := make(dynamo.State, 2*n)
	share := e.Demand(t) / float64(n)
	for i := 0; i < n; i++ {
		dx[i] = u[i]

		flow := 0.0
		for j := 0; j < n; j++ {
			flow += e.Lines.At(i, j) * (x[n+i] - x[n+j])
		}
		imbalance := x[i] - share - flow
		if i < len(xi) {
			imbalance += xi[i]
		}
		dx[n+i] = e.Coupling * imbalance
	}
	return dx
}

func (e *EnergyDispatch) Jacobians(a, b *mat.Dense, x dynamo.State, u dynamo.Control, xi dynamo.Disturbance, t float64) {
	n := e.nodes()
	for i := 0; i < n; i++ {
		b.Set(i, i, 1)
		a.Set(n+i, i, e.Coupling)
		degree := 0.0
		for j := 0; j < n; j++ {
			bij := e.Lines.At(i, j)
			degree += bij
			if j != i {
				a.Set(n+i, n+j, a.At(n+i, n+j)+e.Coupling*bij)
			}
		}
		a.Set(n+i, n+i, a.At(n+i, n+i)-e.Coupling*(degree-e.Lines.At(i, i)))
	}
}

// TotalCapacity is Σ cap_i.
func (e *EnergyDispatch) TotalCapacity() float64 {
	total := 0.0
	for _, g := range e.Generators {
		total += g.Capacity
	}
	return total
}

// Constraint is the dispatch limit ΣP ≤ reserve·Σcap followed by
// P_i ≤ cap_i and −P_i ≤ 0 for every generator.
func (e *EnergyDispatch) Constraint() *Affine {
	n := e.nodes()
	g := mat.NewDense(1+2*n, 2*n, nil)
	r := make([]float64, 1+2*n)
	for i, gen := range e.Generators {
		g.Set(0, i, 1)
		g.Set(1+2*i, i, 1)
		r[1+2*i] = gen.Capacity
		g.Set(2+2*i, i, -1)
	}
	r[0] = e.Reserve * e.TotalCapacity()
	return NewAffine(g, r)
}

// Problem wires the dispatch cost terms:
//
//	F = Σ a_i·P_i² + b_i·P_i        generation cost
//	Φ = (Σ P_i − D(t))²             demand mismatch
//	Ψ = Σ_{B_ij ≠ 0} (θ_i − θ_j)²   line stress
//	L = Σ u_i²                      ramping
func (e *EnergyDispatch) Problem() dynamo.Problem {
	return dynamo.Problem{
		Dynamics:     e,
		Efficiency:   generationCost{e},
		Adaptability: demandMismatch{e},
		Collective:   lineStress{e},
		Control:      NewEffort(e.nodes()),
		Constraint:   e.Constraint(),
	}
}

func (e *EnergyDispatch) GetParams() map[string]float64 {
	return map[string]float64{
		"base_demand":  e.BaseDemand,
		"demand_swing": e.DemandSwing,
		"period":       e.Period,
		"coupling":     e.Coupling,
		"reserve":      e.Reserve,
	}
}

func (e *EnergyDispatch) SetParam(name string, value float64) error {
	switch name {
	case "base_demand":
		e.BaseDemand = value
	case "demand_swing":
		e.DemandSwing = value
	case "period":
		e.Period = value
	case "coupling":
		e.Coupling = value
	case "reserve":
		e.Reserve = value
	default:
		return fmt.Errorf("energy parameter %q: %w", name, dynamo.ErrUnknownName)
	}
	return nil
}

type generationCost struct{ e *EnergyDispatch }

func (c generationCost) Eval(x dynamo.State, t float64) float64 {
	cost := 0.0
	for i, g := range c.e.Generators {
		cost += g.Quadratic*x[i]*x[i] + g.Linear*x[i]
	}
	return cost
}

func (c generationCost) Gradient(dst []float64, x dynamo.State, t float64) {
	for i, g := range c.e.Generators {
		dst[i] = 2*g.Quadratic*x[i] + g.Linear
	}
}

func (c generationCost) Hessian(dst *mat.SymDense, x dynamo.State, t float64) {
	for i, g := range c.e.Generators {
		dst.SetSym(i, i, 2*g.Quadratic)
	}
}

type demandMismatch struct{ e *EnergyDispatch }

func (d demandMismatch) gap(x dynamo.State, t float64) float64 {
	total := 0.0
	for i := range d.e.Generators {
		total += x[i]
	}
	return total - d.e.Demand(t)
}

func (d demandMismatch) Eval(x dynamo.State, t float64) float64 {
	g := d.gap(x, t)
	return g * g
}

func (d demandMismatch) Gradient(dst []float64, x dynamo.State, t float64) {
	g := 2 * d.gap(x, t)
	for i := range d.e.Generators {
		dst[i] = g
	}
}

type lineStress struct{ e *EnergyDispatch }

func (l lineStress) Eval(x dynamo.State, t float64) float64 {
	n := l.e.nodes()
	stress := 0.0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if l.e.Lines.At(i, j) != 0 {
				d := x[n+i] - x[n+j]
				stress += d * d
			}
		}
	}
	return stress
}

func (l lineStress) Gradient(dst []float64, x dynamo.State, t float64) {
	n := l.e.nodes()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if l.e.Lines.At(i, j) != 0 {
				d := 2 * (x[n+i] - x[n+j])
				dst[n+i] += d
				dst[n+j] -= d
			}
		}
	}
}
