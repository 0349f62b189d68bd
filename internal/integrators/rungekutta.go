package integrators

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ercrd/internal/dynamo"
)

// RungeKutta is a fixed-step explicit Runge-Kutta integrator. It is
// stateless and safe for concurrent use.
type RungeKutta struct {
	name string
	tab  Tableau
}

func newRungeKutta(name string, tab Tableau) *RungeKutta {
	return &RungeKutta{name: name, tab: tab}
}

func (r *RungeKutta) Name() string { return r.name }

func (r *RungeKutta) Tableau() Tableau { return r.tab }

func (r *RungeKutta) stageInput(x dynamo.State, ks []dynamo.State, i int, dt float64) dynamo.State {
	y := x.Clone()
	for j, a := range r.tab.A[i] {
		if a != 0 {
			floats.AddScaled(y, dt*a, ks[j])
		}
	}
	return y
}

func (r *RungeKutta) derive(sys dynamo.System, y dynamo.State, u dynamo.Control, xi dynamo.Disturbance, t float64) (dynamo.State, error) {
	k := sys.Derive(y, u, xi, t)
	if len(k) != len(y) {
		return nil, &dynamo.DimensionError{What: "derivative", Got: len(k), Expected: len(y)}
	}
	return k, nil
}

func (r *RungeKutta) combine(x dynamo.State, ks []dynamo.State, t, dt float64) (dynamo.State, error) {
	next := x.Clone()
	for i, b := range r.tab.B {
		if b != 0 {
			floats.AddScaled(next, dt*b, ks[i])
		}
	}
	if !next.IsValid() {
		return next, &dynamo.DivergenceError{Step: -1, Time: t, State: next}
	}
	return next, nil
}

func (r *RungeKutta) Step(sys dynamo.System, x dynamo.State, u dynamo.Control, xi dynamo.Disturbance, t, dt float64) (dynamo.State, error) {
	ks := make([]dynamo.State, r.tab.Stages())
	for i := range ks {
		y := r.stageInput(x, ks, i, dt)
		k, err := r.derive(sys, y, u, xi, t+r.tab.C[i]*dt)
		if err != nil {
			return nil, err
		}
		ks[i] = k
	}
	return r.combine(x, ks, t, dt)
}

// Linearize chains the stage Jacobians:
//
//	∂y_i/∂x = I + dt Σ_j a_ij ∂k_j/∂x,   ∂k_i/∂x = A_i ∂y_i/∂x
//	∂y_i/∂u = dt Σ_j a_ij ∂k_j/∂u,       ∂k_i/∂u = A_i ∂y_i/∂u + B_i
//
// where A_i, B_i are the system Jacobians at stage i.
func (r *RungeKutta) Linearize(sys dynamo.System, x dynamo.State, u dynamo.Control, xi dynamo.Disturbance, t, dt float64) (dynamo.State, *mat.Dense, *mat.Dense, error) {
	n, m := len(x), len(u)
	s := r.tab.Stages()

	ks := make([]dynamo.State, s)
	dkdx := make([]*mat.Dense, s)
	dkdu := make([]*mat.Dense, s)

	a := mat.NewDense(n, n, nil)
	b := mat.NewDense(n, m, nil)

	for i := 0; i < s; i++ {
		y := r.stageInput(x, ks, i, dt)
		ti := t + r.tab.C[i]*dt
		k, err := r.derive(sys, y, u, xi, ti)
		if err != nil {
			return nil, nil, nil, err
		}
		ks[i] = k

		dydx := identity(n)
		dydu := mat.NewDense(n, m, nil)
		var tx, tu mat.Dense
		for j, aij := range r.tab.A[i] {
			if aij == 0 {
				continue
			}
			tx.Scale(dt*aij, dkdx[j])
			dydx.Add(dydx, &tx)
			tu.Scale(dt*aij, dkdu[j])
			dydu.Add(dydu, &tu)
		}

		SystemJacobians(sys, a, b, y, u, xi, ti)
		if !finite(a) || !finite(b) {
			return nil, nil, nil, &dynamo.DivergenceError{Time: ti, State: y}
		}

		dkdx[i] = mat.NewDense(n, n, nil)
		dkdx[i].Mul(a, dydx)
		dkdu[i] = mat.NewDense(n, m, nil)
		dkdu[i].Mul(a, dydu)
		dkdu[i].Add(dkdu[i], b)
	}

	next, err := r.combine(x, ks, t, dt)
	if err != nil {
		return next, nil, nil, err
	}

	fx := identity(n)
	fu := mat.NewDense(n, m, nil)
	var tx, tu mat.Dense
	for i, bi := range r.tab.B {
		if bi == 0 {
			continue
		}
		tx.Scale(dt*bi, dkdx[i])
		fx.Add(fx, &tx)
		tu.Scale(dt*bi, dkdu[i])
		fu.Add(fu, &tu)
	}
	return next, fx, fu, nil
}

var jacobianSettings = &fd.JacobianSettings{Formula: fd.Central}

// SystemJacobians fills a = ∂G/∂x and b = ∂G/∂u at (x, u). Systems that do
// not implement dynamo.Linearizer are differentiated numerically.
func SystemJacobians(sys dynamo.System, a, b *mat.Dense, x dynamo.State, u dynamo.Control, xi dynamo.Disturbance, t float64) {
	if lin, ok := sys.(dynamo.Linearizer); ok {
		a.Zero()
		b.Zero()
		lin.Jacobians(a, b, x, u, xi, t)
		return
	}
	fd.Jacobian(a, func(dst, xx []float64) {
		copy(dst, sys.Derive(xx, u, xi, t))
	}, x, jacobianSettings)
	fd.Jacobian(b, func(dst, uu []float64) {
		copy(dst, sys.Derive(x, uu, xi, t))
	}, u, jacobianSettings)
}

// finite reports whether every entry of a freshly allocated matrix is finite.
func finite(m *mat.Dense) bool {
	for _, v := range m.RawMatrix().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func identity(n int) *mat.Dense {
	id := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		id.Set(i, i, 1)
	}
	return id
}
