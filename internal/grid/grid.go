// Package grid discretises the horizon [0, T] into K uniform steps.
package grid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/ercrd/internal/dynamo"
)

// Rule selects the quadrature applied to the state terms of the objective.
type Rule int

const (
	// Trapezoid weights both endpoints by ½.
	Trapezoid Rule = iota
	// Rectangle is the left rectangle rule; the terminal state has weight 0.
	Rectangle
)

func (r Rule) String() string {
	switch r {
	case Trapezoid:
		return "trapezoid"
	case Rectangle:
		return "rectangle"
	}
	return fmt.Sprintf("rule(%d)", int(r))
}

// ParseRule resolves a rule name.
func ParseRule(name string) (Rule, error) {
	switch name {
	case "", "trapezoid":
		return Trapezoid, nil
	case "rectangle":
		return Rectangle, nil
	}
	return 0, fmt.Errorf("quadrature rule %q: %w", name, dynamo.ErrUnknownName)
}

type Grid struct {
	Horizon float64
	Steps   int
	Dt      float64
	Times   []float64
}

// New returns K+1 time points t_0 = 0 … t_K = T spaced T/K apart.
func New(horizon float64, steps int) (Grid, error) {
	if steps <= 0 {
		return Grid{}, &dynamo.ConfigError{Field: "steps", Reason: fmt.Sprintf("must be positive, got %d", steps)}
	}
	if !(horizon > 0) || math.IsInf(horizon, 0) {
		return Grid{}, &dynamo.ConfigError{Field: "horizon", Reason: fmt.Sprintf("must be positive and finite, got %g", horizon)}
	}
	times := make([]float64, steps+1)
	floats.Span(times, 0, horizon)
	return Grid{
		Horizon: horizon,
		Steps:   steps,
		Dt:      horizon / float64(steps),
		Times:   times,
	}, nil
}

// Weights returns the per-point quadrature weights for state terms.
// The total cost is Dt · Σ w_k ℓ(x_k, t_k).
func (g Grid) Weights(rule Rule) []float64 {
	w := make([]float64, g.Steps+1)
	for k := range w {
		w[k] = 1
	}
	switch rule {
	case Rectangle:
		w[g.Steps] = 0
	default:
		w[0] = 0.5
		w[g.Steps] = 0.5
	}
	return w
}
