package metrics

import (
	"math"

	"github.com/san-kum/ercrd/internal/dynamo"
)

// Stability is the share of states whose components all stay within
// ±threshold.
type Stability struct {
	name       string
	threshold  float64
	violations int
	samples    int
}

func NewStability(threshold float64) *Stability {
	return &Stability{
		name:      "stability",
		threshold: threshold,
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(x dynamo.State, u dynamo.Control, t float64) {
	s.samples++
	for _, val := range x {
		if math.Abs(val) > s.threshold || math.IsNaN(val) {
			s.violations++
			break
		}
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}

// TerminalError is ‖x_K − target‖ for the last observed state.
type TerminalError struct {
	target dynamo.State
	last   float64
}

func NewTerminalError(target dynamo.State) *TerminalError {
	return &TerminalError{target: target}
}

func (e *TerminalError) Name() string { return "terminal_error" }

func (e *TerminalError) Observe(x dynamo.State, u dynamo.Control, t float64) {
	e.last = x.Sub(e.target).Norm()
}

func (e *TerminalError) Value() float64 { return e.last }

func (e *TerminalError) Reset() { e.last = 0 }
