package control

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ercrd/internal/dynamo"
)

// Discretize returns the explicit Euler step matrices I + dt·A and dt·B.
func Discretize(a, b *mat.Dense, dt float64) (*mat.Dense, *mat.Dense) {
	n, _ := a.Dims()
	ad := mat.NewDense(n, n, nil)
	ad.Scale(dt, a)
	for i := 0; i < n; i++ {
		ad.Set(i, i, ad.At(i, i)+1)
	}
	bd := mat.DenseCopyOf(b)
	bd.Scale(dt, bd)
	return ad, bd
}

// StageWeights returns scale[k]·Q for every k.
func StageWeights(q mat.Symmetric, scale []float64) []*mat.SymDense {
	out := make([]*mat.SymDense, len(scale))
	for k, s := range scale {
		out[k] = mat.NewSymDense(q.SymmetricDim(), nil)
		out[k].ScaleSym(s, q)
	}
	return out
}

// Schedule is the solution of a finite-horizon discrete LQR problem.
type Schedule struct {
	A     *mat.Dense
	B     *mat.Dense
	Gains []*mat.Dense    // K_k for k < K
	Value []*mat.SymDense // P_k for k ≤ K
	// Dt maps time to step index when the schedule is used as a Policy.
	Dt float64
}

// FiniteHorizonLQR solves
//
//	min Σ_{k<K} (x_kᵀ Q_k x_k + u_kᵀ R u_k) + x_Kᵀ Q_K x_K
//	s.t. x_{k+1} = A·x_k + B·u_k
//
// by the backward Riccati recursion. q holds Q_0 … Q_K.
func FiniteHorizonLQR(a, b *mat.Dense, q []*mat.SymDense, r mat.Symmetric) (*Schedule, error) {
	if len(q) < 2 {
		return nil, &dynamo.ConfigError{Field: "q", Reason: "need at least one stage and a terminal weight"}
	}
	n, _ := a.Dims()
	steps := len(q) - 1

	s := &Schedule{
		A:     a,
		B:     b,
		Gains: make([]*mat.Dense, steps),
		Value: make([]*mat.SymDense, steps+1),
	}
	p := mat.NewSymDense(n, nil)
	p.CopySym(q[steps])
	s.Value[steps] = p

	for k := steps - 1; k >= 0; k-- {
		var pa, pb mat.Dense
		pa.Mul(p, a)
		pb.Mul(p, b)

		// K = (R + BᵀPB)⁻¹ BᵀPA
		var lhs, rhs mat.Dense
		lhs.Mul(b.T(), &pb)
		lhs.Add(&lhs, r)
		rhs.Mul(b.T(), &pa)
		gain := new(mat.Dense)
		if err := gain.Solve(&lhs, &rhs); err != nil {
			return nil, fmt.Errorf("riccati step %d: %w", k, err)
		}

		// P = Q + Aᵀ P (A − BK)
		var closed, tmp, next mat.Dense
		closed.Mul(b, gain)
		closed.Sub(a, &closed)
		tmp.Mul(p, &closed)
		next.Mul(a.T(), &tmp)
		next.Add(&next, q[k])

		p = mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				p.SetSym(i, j, 0.5*(next.At(i, j)+next.At(j, i)))
			}
		}
		s.Gains[k] = gain
		s.Value[k] = p
	}
	return s, nil
}

// Steps is the horizon length K.
func (s *Schedule) Steps() int { return len(s.Gains) }

// Cost is the optimal cost x0ᵀ P_0 x0.
func (s *Schedule) Cost(x0 dynamo.State) float64 {
	v := mat.NewVecDense(len(x0), x0.Clone())
	return mat.Inner(v, s.Value[0], v)
}

func (s *Schedule) control(k int, x dynamo.State) dynamo.Control {
	m, _ := s.Gains[k].Dims()
	u := make(dynamo.Control, m)
	uv := mat.NewVecDense(m, u)
	uv.MulVec(s.Gains[k], mat.NewVecDense(len(x), x.Clone()))
	uv.ScaleVec(-1, uv)
	return u
}

// Rollout applies u_k = −K_k·x_k from x0 and returns the K+1 states and K
// controls.
func (s *Schedule) Rollout(x0 dynamo.State) ([]dynamo.State, []dynamo.Control) {
	n := len(x0)
	states := make([]dynamo.State, s.Steps()+1)
	controls := make([]dynamo.Control, s.Steps())
	states[0] = x0.Clone()
	for k := range controls {
		controls[k] = s.control(k, states[k])

		next := make(dynamo.State, n)
		nv := mat.NewVecDense(n, next)
		nv.MulVec(s.A, mat.NewVecDense(n, states[k]))
		var bu mat.VecDense
		bu.MulVec(s.B, mat.NewVecDense(len(controls[k]), controls[k]))
		nv.AddVec(nv, &bu)
		states[k+1] = next
	}
	return states, controls
}

// Compute uses the gain of the step nearest to t.
func (s *Schedule) Compute(x dynamo.State, t float64) dynamo.Control {
	k := 0
	if s.Dt > 0 {
		k = int(math.Round(t / s.Dt))
	}
	if k < 0 {
		k = 0
	}
	if k >= s.Steps() {
		k = s.Steps() - 1
	}
	return s.control(k, x)
}
