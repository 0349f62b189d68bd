package grid

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/ercrd/internal/dynamo"
)

func TestNew(t *testing.T) {
	tests := []struct {
		horizon float64
		steps   int
	}{
		{1.0, 1},
		{1.0, 100},
		{24.0, 24},
		{0.3, 7},
		{1e-3, 1000},
	}

	for _, tt := range tests {
		g, err := New(tt.horizon, tt.steps)
		if err != nil {
			t.Fatalf("New(%g, %d): %v", tt.horizon, tt.steps, err)
		}
		if len(g.Times) != tt.steps+1 {
			t.Errorf("expected %d points, got %d", tt.steps+1, len(g.Times))
		}
		if g.Times[0] != 0 {
			t.Errorf("first point should be 0, got %g", g.Times[0])
		}
		if g.Times[tt.steps] != tt.horizon {
			t.Errorf("last point should be %g, got %g", tt.horizon, g.Times[tt.steps])
		}
		want := tt.horizon / float64(tt.steps)
		for k := 1; k < len(g.Times); k++ {
			if d := g.Times[k] - g.Times[k-1]; math.Abs(d-want) > 1e-12*math.Max(1, tt.horizon) {
				t.Errorf("spacing at %d is %g, want %g", k, d, want)
			}
		}
	}
}

func TestNewInvalid(t *testing.T) {
	tests := []struct {
		name    string
		horizon float64
		steps   int
	}{
		{"zero steps", 1, 0},
		{"negative steps", 1, -3},
		{"zero horizon", 0, 10},
		{"negative horizon", -1, 10},
		{"nan horizon", math.NaN(), 10},
		{"inf horizon", math.Inf(1), 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.horizon, tt.steps)
			if !errors.Is(err, dynamo.ErrInvalidConfiguration) {
				t.Errorf("expected ErrInvalidConfiguration, got %v", err)
			}
		})
	}
}

func TestWeights(t *testing.T) {
	g, _ := New(1, 4)

	tw := g.Weights(Trapezoid)
	if tw[0] != 0.5 || tw[4] != 0.5 || tw[2] != 1 {
		t.Errorf("unexpected trapezoid weights %v", tw)
	}

	rw := g.Weights(Rectangle)
	if rw[0] != 1 || rw[4] != 0 {
		t.Errorf("unexpected rectangle weights %v", rw)
	}

	// Integrating a constant must give c·T under both rules.
	for _, w := range [][]float64{tw, rw} {
		sum := 0.0
		for _, v := range w {
			sum += v * g.Dt
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("weights integrate 1 to %g", sum)
		}
	}
}

func TestParseRule(t *testing.T) {
	if r, err := ParseRule("rectangle"); err != nil || r != Rectangle {
		t.Errorf("ParseRule(rectangle) = %v, %v", r, err)
	}
	if r, err := ParseRule(""); err != nil || r != Trapezoid {
		t.Errorf("ParseRule(\"\") = %v, %v", r, err)
	}
	if _, err := ParseRule("simpson"); !errors.Is(err, dynamo.ErrUnknownName) {
		t.Errorf("expected ErrUnknownName, got %v", err)
	}
}
