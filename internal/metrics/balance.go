package metrics

import (
	"math"

	"github.com/san-kum/ercrd/internal/dynamo"
	"github.com/san-kum/ercrd/internal/models"
)

// Balance is the mean |Σ P_i − D(t)| of a dispatch trajectory.
type Balance struct {
	name     string
	dispatch *models.EnergyDispatch
	total    float64
	samples  int
}

func NewBalance(e *models.EnergyDispatch) *Balance {
	return &Balance{
		name:     "demand_gap",
		dispatch: e,
	}
}

func (b *Balance) Name() string { return b.name }

func (b *Balance) Observe(x dynamo.State, u dynamo.Control, t float64) {
	n := len(b.dispatch.Generators)
	if len(x) < n {
		return
	}
	supply := 0.0
	for i := 0; i < n; i++ {
		supply += x[i]
	}
	b.total += math.Abs(supply - b.dispatch.Demand(t))
	b.samples++
}

func (b *Balance) Value() float64 {
	if b.samples == 0 {
		return 0
	}
	return b.total / float64(b.samples)
}

func (b *Balance) Reset() {
	b.total = 0
	b.samples = 0
}

// Defaults picks the diagnostics that make sense for sys.
func Defaults(sys dynamo.System, target dynamo.State) []Metric {
	ms := []Metric{
		NewControlEffort(),
		NewPeakControl(),
		NewStability(1e6),
	}
	if e, ok := sys.(*models.EnergyDispatch); ok {
		return append(ms, NewBalance(e))
	}
	return append(ms, NewTerminalError(target))
}
