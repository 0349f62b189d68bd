// Package metrics scores finished trajectories and exports solver
// statistics to Prometheus.
package metrics

import (
	"github.com/san-kum/ercrd/internal/dynamo"
	"github.com/san-kum/ercrd/internal/optimizer"
)

// Metric accumulates a scalar over the points of a trajectory.
type Metric interface {
	Name() string
	Observe(x dynamo.State, u dynamo.Control, t float64)
	Value() float64
	Reset()
}

// Evaluate resets each metric, feeds it every (x_k, u_k, t_k) and finally
// the terminal state with an empty control.
func Evaluate(traj optimizer.Trajectory, ms ...Metric) map[string]float64 {
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		m.Reset()
		for k, x := range traj.States {
			var u dynamo.Control
			if k < len(traj.Controls) {
				u = traj.Controls[k]
			}
			m.Observe(x, u, traj.Times[k])
		}
		out[m.Name()] = m.Value()
	}
	return out
}
