package models

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ercrd/internal/dynamo"
)

func TestDoubleIntegratorDerive(t *testing.T) {
	sys := NewDoubleIntegrator()

	if sys.StateDim() != 2 {
		t.Errorf("expected state dim 2, got %d", sys.StateDim())
	}
	if sys.ControlDim() != 1 {
		t.Errorf("expected control dim 1, got %d", sys.ControlDim())
	}

	dx := sys.Derive(dynamo.State{3, 2}, dynamo.Control{-1}, nil, 0)
	if dx[0] != 2 || dx[1] != -1 {
		t.Errorf("expected [2 -1], got %v", dx)
	}
}

func TestLinearDisturbance(t *testing.T) {
	sys := NewScalar(-1, 2)
	sys.E = mat.NewDense(1, 1, []float64{0.5})

	dx := sys.Derive(dynamo.State{1}, dynamo.Control{1}, dynamo.Disturbance{4}, 0)
	if math.Abs(dx[0]-3) > 1e-12 {
		t.Errorf("expected 3, got %f", dx[0])
	}

	dx = sys.Derive(dynamo.State{1}, dynamo.Control{1}, dynamo.Disturbance{}, 0)
	if math.Abs(dx[0]-1) > 1e-12 {
		t.Errorf("expected disturbance-free derivative 1, got %f", dx[0])
	}
}

func TestQuadraticDerivatives(t *testing.T) {
	q := NewQuadratic(mat.NewSymDense(2, []float64{2, 0.5, 0.5, 1}), []float64{1, -1})
	x := dynamo.State{0.3, 0.7}

	got := make([]float64, 2)
	q.Gradient(got, x, 0)
	want := fd.Gradient(nil, func(xx []float64) float64 { return q.Eval(xx, 0) }, x, &fd.Settings{Formula: fd.Central})
	if !floats.EqualApprox(got, want, 1e-6) {
		t.Errorf("gradient %v, numerical %v", got, want)
	}

	if q.Eval(dynamo.State{1, -1}, 0) != 0 {
		t.Error("expected zero cost at target")
	}

	h := mat.NewSymDense(2, nil)
	q.Hessian(h, x, 0)
	if h.At(0, 0) != 4 || h.At(0, 1) != 1 || h.At(1, 1) != 2 {
		t.Errorf("unexpected hessian %v", mat.Formatted(h))
	}
}

func TestEffort(t *testing.T) {
	c := NewEffort(2)
	u := dynamo.Control{3, -4}

	if c.Eval(u, 0) != 25 {
		t.Errorf("expected 25, got %f", c.Eval(u, 0))
	}
	g := make([]float64, 2)
	c.Gradient(g, u, 0)
	if g[0] != 6 || g[1] != -8 {
		t.Errorf("expected [6 -8], got %v", g)
	}
}

func TestAffine(t *testing.T) {
	c := NewStateCap(3, 1, 5)
	c.Slope = []float64{2}

	h := make([]float64, 1)
	c.H(h, dynamo.State{9, 4, 9})
	if h[0] != 4 {
		t.Errorf("expected H=4, got %f", h[0])
	}

	r := make([]float64, 1)
	c.Bound(r, 0.5)
	if r[0] != 6 {
		t.Errorf("expected R(0.5)=6, got %f", r[0])
	}
	if !c.Convex() {
		t.Error("affine constraints are convex")
	}
}

func TestEnergyDimensions(t *testing.T) {
	e := NewEnergyDemo()

	if e.StateDim() != 6 {
		t.Errorf("expected state dim 6, got %d", e.StateDim())
	}
	if e.ControlDim() != 3 {
		t.Errorf("expected control dim 3, got %d", e.ControlDim())
	}
	if err := e.Problem().Validate(); err != nil {
		t.Errorf("demo problem should validate: %v", err)
	}
}

func TestEnergyBalancedAngles(t *testing.T) {
	e := NewEnergyDemo()
	e.DemandSwing = 0
	x := dynamo.State{50, 50, 50, 0.1, 0.1, 0.1}

	dx := e.Derive(x, dynamo.Control{1, 2, 3}, nil, 0)

	for i := 0; i < 3; i++ {
		if dx[i] != float64(i+1) {
			t.Errorf("dP[%d] should equal the ramp rate, got %f", i, dx[i])
		}
		if math.Abs(dx[3+i]) > 1e-12 {
			t.Errorf("dθ[%d] should vanish for a balanced network, got %f", i, dx[3+i])
		}
	}
}

func TestEnergyJacobians(t *testing.T) {
	e := NewEnergyDemo()
	x := dynamo.State{55, 70, 35, 0.2, -0.1, 0.05}
	u := dynamo.Control{1, -2, 0.5}
	xi := dynamo.Disturbance{0.3, 0, -0.3}

	a := mat.NewDense(6, 6, nil)
	b := mat.NewDense(6, 3, nil)
	e.Jacobians(a, b, x, u, xi, 3)

	wantA := mat.NewDense(6, 6, nil)
	fd.Jacobian(wantA, func(dst, xx []float64) {
		copy(dst, e.Derive(xx, u, xi, 3))
	}, x, nil)
	wantB := mat.NewDense(6, 3, nil)
	fd.Jacobian(wantB, func(dst, uu []float64) {
		copy(dst, e.Derive(x, uu, xi, 3))
	}, u, nil)

	if !mat.EqualApprox(a, wantA, 1e-6) {
		t.Errorf("∂G/∂x mismatch\n got %v\nwant %v", mat.Formatted(a), mat.Formatted(wantA))
	}
	if !mat.EqualApprox(b, wantB, 1e-6) {
		t.Errorf("∂G/∂u mismatch\n got %v\nwant %v", mat.Formatted(b), mat.Formatted(wantB))
	}
}

func TestEnergyFieldGradients(t *testing.T) {
	e := NewEnergyDemo()
	x := dynamo.State{55, 70, 35, 0.2, -0.1, 0.05}

	fields := map[string]dynamo.GradientField{
		"generation": generationCost{e},
		"demand":     demandMismatch{e},
		"lines":      lineStress{e},
	}
	for name, f := range fields {
		got := make([]float64, 6)
		f.Gradient(got, x, 5)
		want := fd.Gradient(nil, func(xx []float64) float64 { return f.Eval(xx, 5) }, x, &fd.Settings{Formula: fd.Central})
		if !floats.EqualApprox(got, want, 1e-4) {
			t.Errorf("%s: gradient %v, numerical %v", name, got, want)
		}
	}
}

func TestEnergyConstraint(t *testing.T) {
	e := NewEnergyDemo()
	c := e.Constraint()

	if c.Dim() != 7 {
		t.Fatalf("expected 7 components, got %d", c.Dim())
	}

	h := make([]float64, 7)
	r := make([]float64, 7)
	c.H(h, EnergyDemoState())
	c.Bound(r, 0)

	if h[0] != 150 || math.Abs(r[0]-248) > 1e-9 {
		t.Errorf("dispatch limit: H=%f R=%f", h[0], r[0])
	}
	for k := range h {
		if h[k] > r[k] {
			t.Errorf("demo state violates component %d: %f > %f", k, h[k], r[k])
		}
	}
}

func TestEnergyDemand(t *testing.T) {
	e := NewEnergyDemo()

	if e.Demand(0) != DefaultBaseDemand {
		t.Errorf("expected base demand at t=0, got %f", e.Demand(0))
	}
	if math.Abs(e.Demand(6)-(DefaultBaseDemand+DefaultDemandSwing)) > 1e-9 {
		t.Errorf("expected peak demand at t=6, got %f", e.Demand(6))
	}
}

func TestEnergyParams(t *testing.T) {
	e := NewEnergyDemo()

	if err := e.SetParam("coupling", 0.5); err != nil {
		t.Fatalf("SetParam: %v", err)
	}
	if e.GetParams()["coupling"] != 0.5 {
		t.Errorf("coupling not updated")
	}

	err := e.SetParam("inertia", 1)
	if !errors.Is(err, dynamo.ErrUnknownName) {
		t.Errorf("expected ErrUnknownName, got %v", err)
	}
}
