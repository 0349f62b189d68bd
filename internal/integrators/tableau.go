package integrators

import (
	"fmt"
	"sort"

	"github.com/san-kum/ercrd/internal/dynamo"
)

// Tableau is the Butcher tableau of an explicit Runge-Kutta method.
// A is strictly lower triangular.
type Tableau struct {
	A [][]float64
	B []float64
	C []float64
}

func (tb Tableau) Stages() int { return len(tb.B) }

var eulerTableau = Tableau{
	A: [][]float64{{}},
	B: []float64{1},
	C: []float64{0},
}

var heunTableau = Tableau{
	A: [][]float64{{}, {1}},
	B: []float64{0.5, 0.5},
	C: []float64{0, 1},
}

var rk4Tableau = Tableau{
	A: [][]float64{{}, {0.5}, {0, 0.5}, {0, 0, 1}},
	B: []float64{1.0 / 6.0, 1.0 / 3.0, 1.0 / 3.0, 1.0 / 6.0},
	C: []float64{0, 0.5, 0.5, 1},
}

// Dormand-Prince coefficients, fifth-order solution used at a fixed step.
var dopri5Tableau = Tableau{
	A: [][]float64{
		{},
		{1.0 / 5.0},
		{3.0 / 40.0, 9.0 / 40.0},
		{44.0 / 45.0, -56.0 / 15.0, 32.0 / 9.0},
		{19372.0 / 6561.0, -25360.0 / 2187.0, 64448.0 / 6561.0, -212.0 / 729.0},
		{9017.0 / 3168.0, -355.0 / 33.0, 46732.0 / 5247.0, 49.0 / 176.0, -5103.0 / 18656.0},
	},
	B: []float64{35.0 / 384.0, 0, 500.0 / 1113.0, 125.0 / 192.0, -2187.0 / 6784.0, 11.0 / 84.0},
	C: []float64{0, 1.0 / 5.0, 3.0 / 10.0, 4.0 / 5.0, 8.0 / 9.0, 1},
}

func NewEuler() *RungeKutta  { return newRungeKutta("euler", eulerTableau) }
func NewHeun() *RungeKutta   { return newRungeKutta("heun", heunTableau) }
func NewRK4() *RungeKutta    { return newRungeKutta("rk4", rk4Tableau) }
func NewDopri5() *RungeKutta { return newRungeKutta("dopri5", dopri5Tableau) }

var registry = map[string]func() *RungeKutta{
	"euler":  NewEuler,
	"heun":   NewHeun,
	"rk4":    NewRK4,
	"dopri5": NewDopri5,
}

// New returns the integrator registered under name.
func New(name string) (dynamo.Integrator, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("integrator %q: %w", name, dynamo.ErrUnknownName)
	}
	return fn(), nil
}

// Names lists the registered integrators in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
