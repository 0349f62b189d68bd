package control

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ercrd/internal/dynamo"
)

// LQR is static state feedback u = −K·(x − target).
type LQR struct {
	K      *mat.Dense
	Target dynamo.State
}

func NewLQR(k *mat.Dense, target dynamo.State) *LQR {
	return &LQR{K: k, Target: target}
}

// Static freezes the first gain of the schedule into a regulator around
// target. The gain is copied so the schedule can be reused.
func (s *Schedule) Static(target dynamo.State) *LQR {
	return NewLQR(mat.DenseCopyOf(s.Gains[0]), target)
}

// Compute expects len(x) to equal the column count of K.
func (l *LQR) Compute(x dynamo.State, t float64) dynamo.Control {
	m, _ := l.K.Dims()
	e := x.Sub(l.Target)
	u := make(dynamo.Control, m)
	v := mat.NewVecDense(m, u)
	v.MulVec(l.K, mat.NewVecDense(len(e), e))
	v.ScaleVec(-1, v)
	return u
}
