package control

import (
	"fmt"

	"github.com/san-kum/ercrd/internal/dynamo"
)

// PID drives state component Index towards Target through control channel
// Channel of a Dim-dimensional control.
type PID struct {
	Kp       float64
	Ki       float64
	Kd       float64
	Target   float64
	Index    int
	Channel  int
	Dim      int
	integral float64
	prevErr  float64
	prevT    float64
	first    bool
}

func NewPID(kp, ki, kd, target float64) *PID {
	return &PID{
		Kp:     kp,
		Ki:     ki,
		Kd:     kd,
		Target: target,
		Dim:    1,
		first:  true,
	}
}

func (p *PID) output(v float64) dynamo.Control {
	dim := p.Dim
	if dim < p.Channel+1 {
		dim = p.Channel + 1
	}
	u := make(dynamo.Control, dim)
	u[p.Channel] = v
	return u
}

func (p *PID) Compute(x dynamo.State, t float64) dynamo.Control {
	if p.Index >= len(x) {
		return p.output(0)
	}

	err := p.Target - x[p.Index]

	if p.first {
		p.prevErr = err
		p.prevT = t
		p.first = false
		return p.output(p.Kp * err)
	}

	dt := t - p.prevT
	if dt > 0 {
		p.integral += err * dt
		derivative := (err - p.prevErr) / dt

		u := p.Kp*err + p.Ki*p.integral + p.Kd*derivative

		p.prevErr = err
		p.prevT = t

		return p.output(u)
	}
	return p.output(p.Kp * err)
}

// Reset clears integral and derivative state
func (p *PID) Reset() {
	p.integral = 0
	p.prevErr = 0
	p.prevT = 0
	p.first = true
}

// GetParams returns the tunable gains.
func (p *PID) GetParams() map[string]float64 {
	return map[string]float64{
		"Kp":     p.Kp,
		"Ki":     p.Ki,
		"Kd":     p.Kd,
		"Target": p.Target,
	}
}

func (p *PID) SetParam(name string, value float64) error {
	switch name {
	case "Kp":
		p.Kp = value
	case "Ki":
		p.Ki = value
	case "Kd":
		p.Kd = value
	case "Target":
		p.Target = value
	default:
		return fmt.Errorf("pid parameter %q: %w", name, dynamo.ErrUnknownName)
	}
	return nil
}
