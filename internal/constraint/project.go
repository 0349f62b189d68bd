package constraint

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ercrd/internal/dynamo"
)

// Projected is the outcome of projecting one state.
type Projected struct {
	X dynamo.State
	// Moved is true when x was infeasible and has been replaced.
	Moved bool
	// Feasible is false when the projection did not reach the tolerance.
	Feasible bool
	// Violation of the returned state.
	Violation float64
	// Jacobian is ∂X/∂x, nil when the state was not moved.
	Jacobian *mat.Dense
}

// Project returns the point of {y : H(y) ≤ R(t)} nearest to x. Feasible states
// are returned unchanged. Under the penalty policy Project is the identity.
//
// The feasible set is the intersection of the sets C_i = {y : H_i(y) ≤ R_i}.
// Dykstra's alternating projections converge to the nearest point of the
// intersection; each C_i is projected onto by successive half-space
// linearisation, which is exact for affine H_i.
func (e *Enforcer) Project(x dynamo.State, t float64) Projected {
	if e.c == nil || e.policy != Projection {
		return Projected{X: x, Feasible: true}
	}
	v := e.Violation(x, t)
	if v <= e.opts.Tolerance {
		return Projected{X: x, Feasible: true, Violation: v}
	}

	m := e.c.Dim()
	r := make([]float64, m)
	e.c.Bound(r, t)

	y := x.Clone()
	prev := make(dynamo.State, len(x))
	increments := make([][]float64, m)
	for i := range increments {
		increments[i] = make([]float64, len(x))
	}

	for iter := 0; iter < e.opts.MaxIterations; iter++ {
		copy(prev, y)
		for i := 0; i < m; i++ {
			z := y.Clone()
			floats.Add(z, increments[i])
			projected := e.projectComponent(i, z, r[i])
			floats.SubTo(increments[i], z, projected)
			y = projected
		}
		if e.Violation(y, t) <= e.opts.Tolerance && floats.Distance(y, prev, 2) <= e.opts.Tolerance {
			break
		}
	}

	out := Projected{X: y, Moved: true, Violation: e.Violation(y, t)}
	out.Feasible = out.Violation <= e.opts.Tolerance && y.IsValid()
	if out.Feasible {
		out.Jacobian = e.projectionJacobian(y, r)
	}
	return out
}

// projectComponent projects z onto {y : H_i(y) ≤ r}.
func (e *Enforcer) projectComponent(i int, z dynamo.State, r float64) dynamo.State {
	y := z.Clone()
	h := make([]float64, e.c.Dim())
	for step := 0; step < 50; step++ {
		e.c.H(h, y)
		s := h[i] - r
		if s <= e.opts.Tolerance/2 {
			break
		}
		g := e.gradient(i, y)
		gg := floats.Dot(g, g)
		if gg == 0 || math.IsNaN(gg) {
			break
		}
		floats.AddScaled(y, -s/gg, g)
	}
	return y
}

// projectionJacobian is I − QQᵀ, where Q is an orthonormal basis of the
// normals of the constraints active at y.
func (e *Enforcer) projectionJacobian(y dynamo.State, r []float64) *mat.Dense {
	n := len(y)
	h := make([]float64, e.c.Dim())
	e.c.H(h, y)
	jac := e.jacobian(y)

	var basis [][]float64
	for i := range h {
		if h[i]-r[i] < -1e-6*(1+math.Abs(r[i])) {
			continue
		}
		q := mat.Row(nil, i, jac)
		for _, b := range basis {
			floats.AddScaled(q, -floats.Dot(q, b), b)
		}
		norm := floats.Norm(q, 2)
		if norm < 1e-12 {
			continue
		}
		floats.Scale(1/norm, q)
		basis = append(basis, q)
	}

	p := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		p.Set(i, i, 1)
	}
	for _, q := range basis {
		var outer mat.Dense
		qv := mat.NewVecDense(n, q)
		outer.Outer(1, qv, qv)
		p.Sub(p, &outer)
	}
	return p
}
