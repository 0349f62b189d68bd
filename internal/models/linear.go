package models

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ercrd/internal/dynamo"
)

// Linear is dx/dt = A·x + B·u + E·ξ. E may be nil.
type Linear struct {
	A *mat.Dense
	B *mat.Dense
	E *mat.Dense
}

func NewLinear(a, b *mat.Dense) *Linear {
	return &Linear{A: a, B: b}
}

// NewScalar is dx/dt = a·x + b·u.
func NewScalar(a, b float64) *Linear {
	return NewLinear(mat.NewDense(1, 1, []float64{a}), mat.NewDense(1, 1, []float64{b}))
}

// NewDoubleIntegrator has state [position, velocity] and acceleration input.
func NewDoubleIntegrator() *Linear {
	return NewLinear(
		mat.NewDense(2, 2, []float64{0, 1, 0, 0}),
		mat.NewDense(2, 1, []float64{0, 1}),
	)
}

func (l *Linear) StateDim() int {
	r, _ := l.A.Dims()
	return r
}

func (l *Linear) ControlDim() int {
	_, c := l.B.Dims()
	return c
}

func (l *Linear) Derive(x dynamo.State, u dynamo.Control, xi dynamo.Disturbance, t float64) dynamo.State {
	n := l.StateDim()
	out := make(dynamo.State, n)
	dx := mat.NewVecDense(n, out)
	dx.MulVec(l.A, mat.NewVecDense(len(x), x))

	var tmp mat.VecDense
	tmp.MulVec(l.B, mat.NewVecDense(len(u), u))
	dx.AddVec(dx, &tmp)

	if l.E != nil && len(xi) > 0 {
		tmp.Reset()
		tmp.MulVec(l.E, mat.NewVecDense(len(xi), xi))
		dx.AddVec(dx, &tmp)
	}
	return out
}

func (l *Linear) Jacobians(a, b *mat.Dense, x dynamo.State, u dynamo.Control, xi dynamo.Disturbance, t float64) {
	a.Copy(l.A)
	b.Copy(l.B)
}
