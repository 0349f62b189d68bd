// Package objective evaluates the stage cost
//
//	ℓ(x, u, t) = α·‖∇F(x)‖² + β·Φ(x, t) + γ·Ψ(x) + c·L(u, t)
//
// and its derivatives. Missing analytic derivatives are approximated with
// finite differences.
package objective

import (
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ercrd/internal/dynamo"
)

type Weights struct {
	Alpha   float64 // efficiency, α
	Beta    float64 // adaptability, β
	Gamma   float64 // collective, γ
	Control float64 // control penalty, c
}

// Terms is a weighted cost breakdown.
type Terms struct {
	Efficiency   float64 `json:"efficiency" msgpack:"efficiency"`
	Adaptability float64 `json:"adaptability" msgpack:"adaptability"`
	Collective   float64 `json:"collective" msgpack:"collective"`
	Control      float64 `json:"control" msgpack:"control"`
}

func (t Terms) Sum() float64 {
	return t.Efficiency + t.Adaptability + t.Collective + t.Control
}

func (t Terms) add(o Terms, scale float64) Terms {
	return Terms{
		Efficiency:   t.Efficiency + scale*o.Efficiency,
		Adaptability: t.Adaptability + scale*o.Adaptability,
		Collective:   t.Collective + scale*o.Collective,
		Control:      t.Control + scale*o.Control,
	}
}

var gradSettings = &fd.Settings{Formula: fd.Central}

// Evaluator is agnostic to the form of F, Φ, Ψ and L. It holds no mutable
// state and may be shared between goroutines.
type Evaluator struct {
	efficiency   dynamo.Field
	adaptability dynamo.Field
	collective   dynamo.Field
	control      dynamo.ControlCost
	w            Weights
}

func New(p dynamo.Problem, w Weights) *Evaluator {
	return &Evaluator{
		efficiency:   p.Efficiency,
		adaptability: p.Adaptability,
		collective:   p.Collective,
		control:      p.Control,
		w:            w,
	}
}

func (e *Evaluator) Weights() Weights { return e.w }

// StateTerms returns the weighted state terms at (x, t).
func (e *Evaluator) StateTerms(x dynamo.State, t float64) Terms {
	var terms Terms
	if e.efficiency != nil && e.w.Alpha != 0 {
		g := fieldGradient(nil, e.efficiency, x, t)
		terms.Efficiency = e.w.Alpha * floats.Dot(g, g)
	}
	if e.adaptability != nil && e.w.Beta != 0 {
		terms.Adaptability = e.w.Beta * e.adaptability.Eval(x, t)
	}
	if e.collective != nil && e.w.Gamma != 0 {
		terms.Collective = e.w.Gamma * e.collective.Eval(x, t)
	}
	return terms
}

// StateCost is α·‖∇F(x)‖² + β·Φ(x,t) + γ·Ψ(x).
func (e *Evaluator) StateCost(x dynamo.State, t float64) float64 {
	return e.StateTerms(x, t).Sum()
}

// ControlCost is c·L(u,t), or 0 without a control penalty.
func (e *Evaluator) ControlCost(u dynamo.Control, t float64) float64 {
	if e.control == nil || e.w.Control == 0 {
		return 0
	}
	return e.w.Control * e.control.Eval(u, t)
}

// StateGradient writes ∂/∂x of StateCost into dst.
func (e *Evaluator) StateGradient(dst []float64, x dynamo.State, t float64) {
	for i := range dst {
		dst[i] = 0
	}
	n := len(x)
	tmp := make([]float64, n)

	if e.efficiency != nil && e.w.Alpha != 0 {
		// ∇‖∇F‖² = 2·∇²F·∇F
		g := fieldGradient(nil, e.efficiency, x, t)
		h := fieldHessian(e.efficiency, x, t)
		hg := mat.NewVecDense(n, tmp)
		hg.MulVec(h, mat.NewVecDense(n, g))
		floats.AddScaled(dst, 2*e.w.Alpha, tmp)
	}
	if e.adaptability != nil && e.w.Beta != 0 {
		fieldGradient(tmp, e.adaptability, x, t)
		floats.AddScaled(dst, e.w.Beta, tmp)
	}
	if e.collective != nil && e.w.Gamma != 0 {
		fieldGradient(tmp, e.collective, x, t)
		floats.AddScaled(dst, e.w.Gamma, tmp)
	}
}

// ControlGradient writes ∂/∂u of ControlCost into dst.
func (e *Evaluator) ControlGradient(dst []float64, u dynamo.Control, t float64) {
	for i := range dst {
		dst[i] = 0
	}
	if e.control == nil || e.w.Control == 0 {
		return
	}
	e.control.Gradient(dst, u, t)
	floats.Scale(e.w.Control, dst)
}

// Total integrates the objective over a trajectory:
//
//	dt · ( Σ_k w_k StateCost(x_k, t_k) + Σ_{k<K} ControlCost(u_k, t_k) )
func (e *Evaluator) Total(times, weights []float64, dt float64, states []dynamo.State, controls []dynamo.Control) float64 {
	return e.Breakdown(times, weights, dt, states, controls).Sum()
}

// Breakdown is Total split by term.
func (e *Evaluator) Breakdown(times, weights []float64, dt float64, states []dynamo.State, controls []dynamo.Control) Terms {
	var total Terms
	for k, x := range states {
		if weights[k] == 0 {
			continue
		}
		total = total.add(e.StateTerms(x, times[k]), dt*weights[k])
	}
	for k, u := range controls {
		total.Control += dt * e.ControlCost(u, times[k])
	}
	return total
}

func fieldGradient(dst []float64, f dynamo.Field, x dynamo.State, t float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(x))
	}
	if gf, ok := f.(dynamo.GradientField); ok {
		for i := range dst {
			dst[i] = 0
		}
		gf.Gradient(dst, x, t)
		return dst
	}
	return fd.Gradient(dst, func(xx []float64) float64 {
		return f.Eval(xx, t)
	}, x, gradSettings)
}

func fieldHessian(f dynamo.Field, x dynamo.State, t float64) mat.Matrix {
	n := len(x)
	switch ff := f.(type) {
	case dynamo.HessianField:
		h := mat.NewSymDense(n, nil)
		ff.Hessian(h, x, t)
		return h
	case dynamo.GradientField:
		h := mat.NewDense(n, n, nil)
		fd.Jacobian(h, func(dst, xx []float64) {
			for i := range dst {
				dst[i] = 0
			}
			ff.Gradient(dst, xx, t)
		}, x, &fd.JacobianSettings{Formula: fd.Central})
		return h
	}
	h := mat.NewSymDense(n, nil)
	fd.Hessian(h, func(xx []float64) float64 {
		return f.Eval(xx, t)
	}, x, nil)
	return h
}
