package metrics

import (
	"context"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/san-kum/ercrd/internal/dynamo"
	"github.com/san-kum/ercrd/internal/logging"
	"github.com/san-kum/ercrd/internal/models"
	"github.com/san-kum/ercrd/internal/optimizer"
)

func init() {
	_ = logging.SetLevel("disabled")
}

func sampleTrajectory() optimizer.Trajectory {
	return optimizer.Trajectory{
		Times:    []float64{0, 0.5, 1},
		States:   []dynamo.State{{1, 0}, {0.5, -1}, {0.1, -0.2}},
		Controls: []dynamo.Control{{-2}, {1}},
	}
}

func TestEvaluate(t *testing.T) {
	got := Evaluate(sampleTrajectory(),
		NewControlEffort(),
		NewPeakControl(),
		NewStability(0.8),
		NewTerminalError(dynamo.State{0.1, 0}),
	)

	tests := []struct {
		name string
		want float64
	}{
		{"control_effort", 1.5},
		{"peak_control", 2},
		{"stability", 1.0 / 3},
		{"terminal_error", 0.2},
	}
	for _, tt := range tests {
		if math.Abs(got[tt.name]-tt.want) > 1e-12 {
			t.Errorf("%s: expected %f, got %f", tt.name, tt.want, got[tt.name])
		}
	}
}

func TestEvaluateResets(t *testing.T) {
	m := NewControlEffort()
	traj := sampleTrajectory()

	first := Evaluate(traj, m)["control_effort"]
	second := Evaluate(traj, m)["control_effort"]
	if first != second {
		t.Errorf("expected repeatable value, got %f then %f", first, second)
	}

	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero effort after reset")
	}
}

func TestStabilityEmpty(t *testing.T) {
	if NewStability(1).Value() != 1 {
		t.Error("an empty trajectory is stable")
	}
}

func TestBalance(t *testing.T) {
	e := models.NewEnergyDemo()
	e.DemandSwing = 0
	b := NewBalance(e)

	b.Observe(dynamo.State{50, 60, 40, 0, 0, 0}, nil, 0)
	b.Observe(dynamo.State{60, 60, 40, 0, 0, 0}, nil, 1)

	if math.Abs(b.Value()-5) > 1e-12 {
		t.Errorf("expected mean gap 5, got %f", b.Value())
	}
}

func TestDefaults(t *testing.T) {
	names := func(ms []Metric) map[string]bool {
		out := map[string]bool{}
		for _, m := range ms {
			out[m.Name()] = true
		}
		return out
	}

	if !names(Defaults(models.NewEnergyDemo(), nil))["demand_gap"] {
		t.Error("dispatch problems should report the demand gap")
	}
	if !names(Defaults(models.NewDoubleIntegrator(), dynamo.State{0, 0}))["terminal_error"] {
		t.Error("other problems should report the terminal error")
	}
}

func smallSolve(t *testing.T, obs optimizer.Observer) *optimizer.Result {
	t.Helper()
	p := dynamo.Problem{
		Dynamics:     models.NewScalar(0.5, 1),
		Adaptability: models.NewIdentityQuadratic(1, nil),
		Control:      models.NewEffort(1),
	}
	cfg := optimizer.DefaultConfig()
	cfg.Steps = 10
	cfg.MaxIterations = 4
	opt, err := optimizer.New(p, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := opt.Solve(context.Background(), dynamo.State{1}, optimizer.WithObserver(obs))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	return res
}

func TestSinkRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewSink(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}

	res := smallSolve(t, sink.Observer("lqr"))
	sink.Record("lqr", res)

	solves := testutil.ToFloat64(sink.solves.WithLabelValues("lqr", res.Status().String(), string(res.Reason())))
	if solves != 1 {
		t.Errorf("expected one solve, got %f", solves)
	}
	if c := testutil.ToFloat64(sink.cost.WithLabelValues("lqr")); c != res.Cost() {
		t.Errorf("expected cost gauge %f, got %f", res.Cost(), c)
	}
	if n := testutil.CollectAndCount(sink.iterations); n != 1 {
		t.Errorf("expected one iterations series, got %d", n)
	}
	if n := testutil.ToFloat64(sink.progress.WithLabelValues("lqr")); n != float64(res.Iterations()) {
		t.Errorf("expected %d observed iterations, got %f", res.Iterations(), n)
	}
}

func TestSinkReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSink(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	second, err := NewSink(reg)
	if err != nil {
		t.Fatalf("second sink: %v", err)
	}
	if first.solves != second.solves {
		t.Error("expected the registered counter to be reused")
	}
}
