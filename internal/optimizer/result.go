package optimizer

import (
	"fmt"
	"time"

	"github.com/san-kum/ercrd/internal/dynamo"
	"github.com/san-kum/ercrd/internal/objective"
)

type Status int

const (
	StatusConverged Status = iota
	StatusMaxIterations
	StatusInfeasible
	StatusCancelled
)

var statusNames = []string{"converged", "max-iterations", "infeasible", "cancelled"}

func (s Status) String() string {
	if int(s) < len(statusNames) && s >= 0 {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("status %q: %w", name, dynamo.ErrUnknownName)
}

// Reason qualifies a terminal status.
type Reason string

const (
	ReasonCost       Reason = "cost"
	ReasonGradient   Reason = "gradient"
	ReasonBoth       Reason = "both"
	ReasonIterations Reason = "iterations"
	ReasonDivergence Reason = "divergence"
	ReasonProjection Reason = "projection"
	ReasonCancelled  Reason = "cancelled"
	ReasonTimeout    Reason = "timeout"
)

// Trajectory holds K+1 times and states and K controls. A run that stopped
// early holds a prefix of the horizon.
type Trajectory struct {
	Times    []float64        `json:"times" msgpack:"times"`
	States   []dynamo.State   `json:"states" msgpack:"states"`
	Controls []dynamo.Control `json:"controls" msgpack:"controls"`
}

// Len is the number of control steps.
func (tr Trajectory) Len() int { return len(tr.Controls) }

func (tr Trajectory) Clone() Trajectory {
	out := Trajectory{
		Times:    append([]float64(nil), tr.Times...),
		States:   make([]dynamo.State, len(tr.States)),
		Controls: make([]dynamo.Control, len(tr.Controls)),
	}
	for i, x := range tr.States {
		out.States[i] = x.Clone()
	}
	for i, u := range tr.Controls {
		out.Controls[i] = u.Clone()
	}
	return out
}

// Result is the immutable outcome of one solve. Accessors return copies.
type Result struct {
	config         Config
	trajectory     Trajectory
	cost           float64
	terms          objective.Terms
	penalty        float64
	status         Status
	reason         Reason
	iterations     int
	firstViolation int
	violations     []float64
	gradientNorm   float64
	history        []float64
	warnings       []string
	elapsed        time.Duration
}

func (r *Result) Config() Config         { return r.config }
func (r *Result) Trajectory() Trajectory { return r.trajectory.Clone() }
func (r *Result) Cost() float64          { return r.cost }
func (r *Result) Terms() objective.Terms { return r.terms }
func (r *Result) Penalty() float64       { return r.penalty }
func (r *Result) Status() Status         { return r.status }
func (r *Result) Reason() Reason         { return r.reason }
func (r *Result) Iterations() int        { return r.iterations }
func (r *Result) GradientNorm() float64  { return r.gradientNorm }
func (r *Result) Elapsed() time.Duration { return r.elapsed }

// FirstViolation is the first step whose constraint violation exceeds the
// feasibility tolerance, or -1.
func (r *Result) FirstViolation() int { return r.firstViolation }

// Violations is the per-step violation max_i max(0, H_i − R_i).
func (r *Result) Violations() []float64 {
	return append([]float64(nil), r.violations...)
}

func (r *Result) MaxViolation() float64 {
	m := 0.0
	for _, v := range r.violations {
		if v > m {
			m = v
		}
	}
	return m
}

// History is the accepted cost after initialisation and after every
// iteration.
func (r *Result) History() []float64 {
	return append([]float64(nil), r.history...)
}

func (r *Result) Warnings() []string {
	return append([]string(nil), r.warnings...)
}

// Summary is the serialisable view of a Result.
type Summary struct {
	Status         Status          `json:"status" msgpack:"status"`
	Reason         Reason          `json:"reason" msgpack:"reason"`
	Cost           float64         `json:"cost" msgpack:"cost"`
	Terms          objective.Terms `json:"terms" msgpack:"terms"`
	Penalty        float64         `json:"penalty" msgpack:"penalty"`
	Iterations     int             `json:"iterations" msgpack:"iterations"`
	FirstViolation int             `json:"first_violation" msgpack:"first_violation"`
	MaxViolation   float64         `json:"max_violation" msgpack:"max_violation"`
	GradientNorm   float64         `json:"gradient_norm" msgpack:"gradient_norm"`
	History        []float64       `json:"history" msgpack:"history"`
	Warnings       []string        `json:"warnings,omitempty" msgpack:"warnings,omitempty"`
	Elapsed        time.Duration   `json:"elapsed" msgpack:"elapsed"`
	Config         Config          `json:"config" msgpack:"config"`
}

func (r *Result) Summary() Summary {
	return Summary{
		Status:         r.status,
		Reason:         r.reason,
		Cost:           r.cost,
		Terms:          r.terms,
		Penalty:        r.penalty,
		Iterations:     r.iterations,
		FirstViolation: r.firstViolation,
		MaxViolation:   r.MaxViolation(),
		GradientNorm:   r.gradientNorm,
		History:        r.History(),
		Warnings:       r.Warnings(),
		Elapsed:        r.elapsed,
		Config:         r.config,
	}
}

// outcome is what the iteration loop hands to report.
type outcome struct {
	best         *rollout
	status       Status
	reason       Reason
	iterations   int
	gradientNorm float64
	history      []float64
	warnings     []string
}

// report packages an outcome. It never fails: a rollout that stopped early
// yields a trajectory prefix.
func report(cfg Config, times []float64, tolerance float64, o outcome, elapsed time.Duration) *Result {
	r := o.best
	n := r.valid
	tr := Trajectory{
		Times:    append([]float64(nil), times[:n]...),
		States:   make([]dynamo.State, n),
		Controls: make([]dynamo.Control, 0, n),
	}
	for k := 0; k < n; k++ {
		tr.States[k] = r.states[k].Clone()
		if k < n-1 {
			tr.Controls = append(tr.Controls, r.controls[k].Clone())
		}
	}

	first := -1
	for k, v := range r.violations[:n] {
		if v > tolerance {
			first = k
			break
		}
	}

	return &Result{
		config:         cfg,
		trajectory:     tr,
		cost:           r.cost,
		terms:          r.terms,
		penalty:        r.penalty,
		status:         o.status,
		reason:         o.reason,
		iterations:     o.iterations,
		firstViolation: first,
		violations:     append([]float64(nil), r.violations[:n]...),
		gradientNorm:   o.gradientNorm,
		history:        append([]float64(nil), o.history...),
		warnings:       append([]string(nil), o.warnings...),
		elapsed:        elapsed,
	}
}
