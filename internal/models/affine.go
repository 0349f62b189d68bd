package models

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ercrd/internal/dynamo"
)

// Affine is the convex constraint G·x ≤ R + Slope·t.
type Affine struct {
	G     *mat.Dense
	R     []float64
	Slope []float64
}

func NewAffine(g *mat.Dense, r []float64) *Affine {
	return &Affine{G: g, R: r}
}

// NewStateCap is x_index ≤ limit for an n-dimensional state.
func NewStateCap(n, index int, limit float64) *Affine {
	g := mat.NewDense(1, n, nil)
	g.Set(0, index, 1)
	return NewAffine(g, []float64{limit})
}

func (a *Affine) Dim() int {
	r, _ := a.G.Dims()
	return r
}

func (a *Affine) H(dst []float64, x dynamo.State) {
	h := mat.NewVecDense(len(dst), dst)
	h.MulVec(a.G, mat.NewVecDense(len(x), x))
}

func (a *Affine) Bound(dst []float64, t float64) {
	copy(dst, a.R)
	if a.Slope != nil {
		floats.AddScaled(dst, t, a.Slope)
	}
}

func (a *Affine) Convex() bool { return true }

func (a *Affine) Jacobian(dst *mat.Dense, x dynamo.State) {
	dst.Copy(a.G)
}
