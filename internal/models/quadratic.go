package models

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ercrd/internal/dynamo"
)

// Quadratic is the field (x − r)ᵀQ(x − r). A nil Target means r = 0.
type Quadratic struct {
	Q      *mat.SymDense
	Target []float64
}

func NewQuadratic(q *mat.SymDense, target []float64) *Quadratic {
	return &Quadratic{Q: q, Target: target}
}

// NewIdentityQuadratic is ‖x − r‖² in n dimensions.
func NewIdentityQuadratic(n int, target []float64) *Quadratic {
	return NewQuadratic(identitySym(n, 1), target)
}

func (q *Quadratic) offset(x dynamo.State) *mat.VecDense {
	d := make([]float64, len(x))
	copy(d, x)
	if q.Target != nil {
		floats.Sub(d, q.Target)
	}
	return mat.NewVecDense(len(d), d)
}

func (q *Quadratic) Eval(x dynamo.State, t float64) float64 {
	d := q.offset(x)
	return mat.Inner(d, q.Q, d)
}

func (q *Quadratic) Gradient(dst []float64, x dynamo.State, t float64) {
	g := mat.NewVecDense(len(dst), dst)
	g.MulVec(q.Q, q.offset(x))
	g.ScaleVec(2, g)
}

func (q *Quadratic) Hessian(dst *mat.SymDense, x dynamo.State, t float64) {
	dst.ScaleSym(2, q.Q)
}

// QuadraticControl is the control penalty uᵀRu.
type QuadraticControl struct {
	R *mat.SymDense
}

func NewQuadraticControl(r *mat.SymDense) *QuadraticControl {
	return &QuadraticControl{R: r}
}

// NewEffort is ‖u‖² in m dimensions.
func NewEffort(m int) *QuadraticControl {
	return NewQuadraticControl(identitySym(m, 1))
}

func (c *QuadraticControl) Eval(u dynamo.Control, t float64) float64 {
	v := mat.NewVecDense(len(u), u)
	return mat.Inner(v, c.R, v)
}

func (c *QuadraticControl) Gradient(dst []float64, u dynamo.Control, t float64) {
	g := mat.NewVecDense(len(dst), dst)
	g.MulVec(c.R, mat.NewVecDense(len(u), u))
	g.ScaleVec(2, g)
}

func identitySym(n int, scale float64) *mat.SymDense {
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		s.SetSym(i, i, scale)
	}
	return s
}
