package control

import "github.com/san-kum/ercrd/internal/dynamo"

// Policy maps the current state to a control.
type Policy interface {
	Compute(x dynamo.State, t float64) dynamo.Control
}

// Resetter is implemented by stateful policies. The optimizer resets a
// policy before each warm-start rollout so repeated solves agree.
type Resetter interface {
	Reset()
}

type None struct {
	dim int
}

func NewNone(dim int) *None {
	return &None{
		dim: dim,
	}
}

func (n *None) Compute(x dynamo.State, t float64) dynamo.Control {
	return make(dynamo.Control, n.dim)
}
