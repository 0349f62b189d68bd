package optimizer_test

import (
	"context"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/ercrd/internal/control"
	"github.com/san-kum/ercrd/internal/dynamo"
	"github.com/san-kum/ercrd/internal/grid"
	"github.com/san-kum/ercrd/internal/models"
	"github.com/san-kum/ercrd/internal/optimizer"
)

// blowup is x' = x² + u, which overflows from large states.
type blowup struct{}

func (blowup) StateDim() int   { return 1 }
func (blowup) ControlDim() int { return 1 }
func (blowup) Derive(x dynamo.State, u dynamo.Control, xi dynamo.Disturbance, t float64) dynamo.State {
	return dynamo.State{x[0]*x[0] + u[0]}
}

// fragile is x' = u for |u| ≤ 50 and NaN beyond.
type fragile struct{}

func (fragile) StateDim() int   { return 1 }
func (fragile) ControlDim() int { return 1 }
func (fragile) Derive(x dynamo.State, u dynamo.Control, xi dynamo.Disturbance, t float64) dynamo.State {
	if math.Abs(u[0]) > 50 {
		return dynamo.State{math.NaN()}
	}
	return dynamo.State{u[0]}
}

type exploding struct{ fragile }

func (exploding) Derive(x dynamo.State, u dynamo.Control, xi dynamo.Disturbance, t float64) dynamo.State {
	panic("model bug")
}

// impossible is the unsatisfiable 1 ≤ 0.
type impossible struct{}

func (impossible) Dim() int                                { return 1 }
func (impossible) H(dst []float64, x dynamo.State)         { dst[0] = 1 }
func (impossible) Bound(dst []float64, t float64)          { dst[0] = 0 }
func (impossible) Convex() bool                            { return true }
func (impossible) Jacobian(dst *mat.Dense, x dynamo.State) {}

// outside is the non-convex x² ≥ 1.
type outside struct{}

func (outside) Dim() int                        { return 1 }
func (outside) H(dst []float64, x dynamo.State) { dst[0] = -x[0] * x[0] }
func (outside) Bound(dst []float64, t float64)  { dst[0] = -1 }
func (outside) Convex() bool                    { return false }

const (
	lqrA = 0.5
	lqrB = 1.0
)

func lqrProblem() dynamo.Problem {
	return dynamo.Problem{
		Dynamics:     models.NewScalar(lqrA, lqrB),
		Adaptability: models.NewQuadratic(mat.NewSymDense(1, []float64{1}), nil),
		Control:      models.NewQuadraticControl(mat.NewSymDense(1, []float64{1})),
	}
}

func lqrConfig(steps int) optimizer.Config {
	cfg := optimizer.DefaultConfig()
	cfg.Alpha, cfg.Beta, cfg.Gamma, cfg.ControlWeight = 0, 1, 0, 1
	cfg.Horizon, cfg.Steps = 1, steps
	cfg.Tolerance = 1e-12
	cfg.MaxIterations = 5000
	return cfg
}

// riccati is the closed-form solution of the discretised scalar problem.
func riccati(cfg optimizer.Config) *control.Schedule {
	g, err := grid.New(cfg.Horizon, cfg.Steps)
	Expect(err).NotTo(HaveOccurred())
	w := g.Weights(grid.Trapezoid)
	for k := range w {
		w[k] *= g.Dt * cfg.Beta
	}
	a, b := control.Discretize(mat.NewDense(1, 1, []float64{lqrA}), mat.NewDense(1, 1, []float64{lqrB}), g.Dt)
	s, err := control.FiniteHorizonLQR(a, b,
		control.StageWeights(mat.NewSymDense(1, []float64{1}), w),
		mat.NewSymDense(1, []float64{g.Dt * cfg.ControlWeight}))
	Expect(err).NotTo(HaveOccurred())
	s.Dt = g.Dt
	return s
}

func solve(p dynamo.Problem, cfg optimizer.Config, x0 dynamo.State, opts ...optimizer.Option) *optimizer.Result {
	opt, err := optimizer.New(p, cfg)
	Expect(err).NotTo(HaveOccurred())
	res, err := opt.Solve(context.Background(), x0, opts...)
	Expect(err).NotTo(HaveOccurred())
	return res
}

var _ = Describe("Optimizer", func() {
	x0 := dynamo.State{1}

	Describe("construction", func() {
		DescribeTable("rejects invalid configuration",
			func(mutate func(*optimizer.Config)) {
				cfg := optimizer.DefaultConfig()
				mutate(&cfg)
				_, err := optimizer.New(lqrProblem(), cfg)
				Expect(err).To(MatchError(dynamo.ErrInvalidConfiguration))
			},
			Entry("zero steps", func(c *optimizer.Config) { c.Steps = 0 }),
			Entry("zero horizon", func(c *optimizer.Config) { c.Horizon = 0 }),
			Entry("NaN horizon", func(c *optimizer.Config) { c.Horizon = math.NaN() }),
			Entry("unknown integrator", func(c *optimizer.Config) { c.Integrator = "verlet" }),
			Entry("unknown method", func(c *optimizer.Config) { c.Method = "newton" }),
			Entry("unknown constraint policy", func(c *optimizer.Config) { c.ConstraintPolicy = "barrier" }),
			Entry("negative weight", func(c *optimizer.Config) { c.Alpha = -1 }),
			Entry("zero tolerance", func(c *optimizer.Config) { c.Tolerance = 0 }),
			Entry("no infeasible run", func(c *optimizer.Config) { c.InfeasibleRun = 0 }),
		)

		It("requires dynamics", func() {
			_, err := optimizer.New(dynamo.Problem{}, optimizer.DefaultConfig())
			Expect(err).To(MatchError(dynamo.ErrInvalidConfiguration))
		})

		It("rejects an initial state of the wrong dimension", func() {
			opt, err := optimizer.New(lqrProblem(), lqrConfig(10))
			Expect(err).NotTo(HaveOccurred())
			_, err = opt.Solve(context.Background(), dynamo.State{1, 2})
			Expect(err).To(MatchError(dynamo.ErrDimensionMismatch))
			Expect(err).To(MatchError(dynamo.ErrInvalidConfiguration))
		})

		It("rejects a warm start of the wrong length", func() {
			opt, err := optimizer.New(lqrProblem(), lqrConfig(10))
			Expect(err).NotTo(HaveOccurred())
			_, err = opt.Solve(context.Background(), x0, optimizer.WithWarmStart(make([]dynamo.Control, 3)))
			Expect(err).To(MatchError(dynamo.ErrDimensionMismatch))
			Expect(err).To(MatchError(dynamo.ErrInvalidConfiguration))
		})

		It("rejects warm-start controls of the wrong dimension", func() {
			opt, err := optimizer.New(lqrProblem(), lqrConfig(2))
			Expect(err).NotTo(HaveOccurred())
			warm := []dynamo.Control{{0}, {0, 0}}
			_, err = opt.Solve(context.Background(), x0, optimizer.WithWarmStart(warm))
			Expect(err).To(MatchError(dynamo.ErrInvalidConfiguration))
		})
	})

	Describe("linear-quadratic regression", func() {
		DescribeTable("matches the Riccati solution",
			func(method optimizer.Method, mode optimizer.GradientMode) {
				cfg := lqrConfig(10)
				cfg.Method = method
				cfg.GradientMode = mode
				ref := riccati(cfg)
				_, want := ref.Rollout(x0)

				res := solve(lqrProblem(), cfg, x0)

				Expect(res.Status()).To(Equal(optimizer.StatusConverged))
				Expect(res.Cost()).To(BeNumerically("~", ref.Cost(x0), 1e-8))
				got := res.Trajectory().Controls
				Expect(got).To(HaveLen(10))
				for k := range want {
					Expect(got[k][0]).To(BeNumerically("~", want[k][0], 1e-4), "control %d", k)
				}
			},
			Entry("steepest descent, adjoint", optimizer.MethodGradient, optimizer.GradientAdjoint),
			Entry("steepest descent, finite differences", optimizer.MethodGradient, optimizer.GradientFiniteDifference),
			Entry("LBFGS", optimizer.MethodLBFGS, optimizer.GradientAdjoint),
			Entry("BFGS", optimizer.MethodBFGS, optimizer.GradientAdjoint),
		)

		DescribeTable("quasi-Newton applies the same convergence rule",
			func(method optimizer.Method) {
				cfg := lqrConfig(10)
				cfg.Method = method
				cfg.Tolerance = 1e-6

				res := solve(lqrProblem(), cfg, x0)

				Expect(res.Status()).To(Equal(optimizer.StatusConverged))
				h := res.History()
				improvement := math.Inf(1)
				if len(h) >= 2 {
					improvement = h[len(h)-2] - h[len(h)-1]
				}
				costOK := improvement < cfg.Tolerance
				gradOK := res.GradientNorm() < cfg.Tolerance
				switch res.Reason() {
				case optimizer.ReasonBoth:
					Expect(costOK && gradOK).To(BeTrue())
				case optimizer.ReasonCost:
					Expect(costOK && !gradOK).To(BeTrue())
				case optimizer.ReasonGradient:
					Expect(gradOK && !costOK).To(BeTrue())
				default:
					Fail("unexpected reason " + string(res.Reason()))
				}
			},
			Entry("LBFGS", optimizer.MethodLBFGS),
			Entry("BFGS", optimizer.MethodBFGS),
		)

		It("starts at the optimum from the Riccati policy", func() {
			cfg := lqrConfig(10)
			ref := riccati(cfg)

			res := solve(lqrProblem(), cfg, x0, optimizer.WithWarmStartPolicy(ref))

			Expect(res.Status()).To(Equal(optimizer.StatusConverged))
			Expect(res.Iterations()).To(BeNumerically("<=", 2))
			Expect(res.Cost()).To(BeNumerically("~", ref.Cost(x0), 1e-10))
		})
	})

	It("is deterministic", func() {
		cfg := optimizer.DefaultConfig()
		cfg.Horizon, cfg.Steps = 24, 24
		cfg.MaxIterations = 25
		energy := models.NewEnergyDemo().Problem()
		energy.Disturbance = dynamo.NewGaussian(3, 0, 0.5, 42)

		first := solve(energy, cfg, models.EnergyDemoState())
		second := solve(energy, cfg, models.EnergyDemoState())

		Expect(second.Trajectory()).To(Equal(first.Trajectory()))
		Expect(second.Cost()).To(Equal(first.Cost()))
		Expect(second.History()).To(Equal(first.History()))
		Expect(second.Status()).To(Equal(first.Status()))
		Expect(second.Iterations()).To(Equal(first.Iterations()))
	})

	It("handles a single step", func() {
		res := solve(lqrProblem(), lqrConfig(1), x0)

		Expect(res.Status()).To(BeElementOf(optimizer.StatusConverged, optimizer.StatusMaxIterations))
		Expect(res.Trajectory().Len()).To(Equal(1))
		Expect(res.Trajectory().States).To(HaveLen(2))
	})

	Describe("constraints", func() {
		capped := func(policy string) (dynamo.Problem, optimizer.Config) {
			p := dynamo.Problem{
				Dynamics:     models.NewScalar(0, 1),
				Adaptability: models.NewIdentityQuadratic(1, []float64{10}),
				Control:      models.NewEffort(1),
				Constraint:   models.NewStateCap(1, 0, 5),
			}
			cfg := optimizer.DefaultConfig()
			cfg.Alpha, cfg.Beta, cfg.Gamma, cfg.ControlWeight = 0, 1, 0, 0.01
			cfg.Steps = 20
			cfg.MaxIterations = 500
			cfg.ConstraintPolicy = policy
			return p, cfg
		}

		It("keeps every projected state on the feasible side", func() {
			p, cfg := capped("projection")
			res := solve(p, cfg, dynamo.State{0})

			states := res.Trajectory().States
			for k, x := range states {
				Expect(x[0]).To(BeNumerically("<=", 5+1e-6), "step %d", k)
			}
			Expect(states[len(states)-1][0]).To(BeNumerically(">", 4.5))
			Expect(res.FirstViolation()).To(Equal(-1))
			Expect(res.Status()).NotTo(Equal(optimizer.StatusInfeasible))
		})

		It("penalises violations softly", func() {
			p, cfg := capped("penalty")
			cfg.Method = optimizer.MethodLBFGS
			res := solve(p, cfg, dynamo.State{0})

			Expect(res.MaxViolation()).To(BeNumerically(">", 0))
			Expect(res.MaxViolation()).To(BeNumerically("<", 0.05))
			Expect(res.FirstViolation()).To(BeNumerically(">=", 1))
			Expect(res.Penalty()).To(BeNumerically(">", 0))
		})

		It("reports infeasible when projection keeps failing", func() {
			p, cfg := capped("projection")
			p.Constraint = impossible{}
			res := solve(p, cfg, dynamo.State{0})

			Expect(res.Status()).To(Equal(optimizer.StatusInfeasible))
			Expect(res.Reason()).To(Equal(optimizer.ReasonProjection))
			Expect(res.FirstViolation()).To(Equal(0))
		})

		It("falls back to the penalty for non-convex constraints", func() {
			p, cfg := capped("projection")
			p.Constraint = outside{}
			res := solve(p, cfg, dynamo.State{2})

			Expect(res.Warnings()).To(ContainElement(ContainSubstring("not convex")))
			Expect(res.Status()).NotTo(Equal(optimizer.StatusInfeasible))
		})
	})

	Describe("divergence", func() {
		It("reports infeasible when the start cannot be integrated", func() {
			cfg := lqrConfig(10)
			cfg.MaxDivergenceRetries = 3
			res := solve(dynamo.Problem{Dynamics: blowup{}}, cfg, dynamo.State{1e200})

			Expect(res.Status()).To(Equal(optimizer.StatusInfeasible))
			Expect(res.Reason()).To(Equal(optimizer.ReasonDivergence))
			Expect(res.Trajectory().Len()).To(BeNumerically("<=", 10))
			Expect(res.Warnings()).NotTo(BeEmpty())
		})

		fragileProblem := func() (dynamo.Problem, optimizer.Config) {
			p := dynamo.Problem{
				Dynamics:     fragile{},
				Adaptability: models.NewIdentityQuadratic(1, []float64{1000}),
			}
			cfg := lqrConfig(10)
			cfg.MaxIterations = 30
			return p, cfg
		}

		It("gives up once the retry budget is spent", func() {
			p, cfg := fragileProblem()
			cfg.MaxDivergenceRetries = 0
			res := solve(p, cfg, dynamo.State{0})

			Expect(res.Status()).To(Equal(optimizer.StatusInfeasible))
			Expect(res.Reason()).To(Equal(optimizer.ReasonDivergence))
		})

		It("shrinks the step and keeps going within the budget", func() {
			p, cfg := fragileProblem()
			res := solve(p, cfg, dynamo.State{0})

			Expect(res.Status()).NotTo(Equal(optimizer.StatusCancelled))
			Expect(res.Iterations()).To(BeNumerically(">", 0))
			for _, x := range res.Trajectory().States {
				Expect(x.IsValid()).To(BeTrue())
			}
		})

		It("treats a non-finite gradient as divergence", func() {
			p, cfg := fragileProblem()
			cfg.MaxDivergenceRetries = 1000
			res := solve(p, cfg, dynamo.State{0})

			Expect(res.Status()).To(BeElementOf(optimizer.StatusInfeasible, optimizer.StatusMaxIterations))
			if res.Status() == optimizer.StatusInfeasible {
				Expect(res.Reason()).To(Equal(optimizer.ReasonDivergence))
			}
			Expect(math.IsNaN(res.GradientNorm())).To(BeFalse())
		})

		DescribeTable("quasi-Newton keeps descending after its line search fails",
			func(method optimizer.Method) {
				p, cfg := fragileProblem()
				cfg.Method = method
				cfg.MaxDivergenceRetries = 1000
				res := solve(p, cfg, dynamo.State{0})

				Expect(res.Status()).To(BeElementOf(optimizer.StatusInfeasible, optimizer.StatusMaxIterations))
				Expect(res.Cost()).To(BeNumerically("<", res.History()[0]))
				for _, x := range res.Trajectory().States {
					Expect(x.IsValid()).To(BeTrue())
				}
			},
			Entry("LBFGS", optimizer.MethodLBFGS),
			Entry("BFGS", optimizer.MethodBFGS),
		)

		It("does not recover panics from the model", func() {
			opt, err := optimizer.New(dynamo.Problem{Dynamics: exploding{}}, lqrConfig(10))
			Expect(err).NotTo(HaveOccurred())
			Expect(func() {
				_, _ = opt.Solve(context.Background(), x0)
			}).To(PanicWith("model bug"))
		})
	})

	Describe("cancellation", func() {
		It("stops at the next iteration and keeps the best trajectory", func() {
			cfg := lqrConfig(10)
			cfg.Tolerance = 1e-300
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var costs []float64
			obs := optimizer.ObserverFunc(func(p optimizer.Progress) {
				costs = append(costs, p.Cost)
				if p.Phase == optimizer.PhaseIterating && p.Iteration == 2 {
					cancel()
				}
			})
			opt, err := optimizer.New(lqrProblem(), cfg)
			Expect(err).NotTo(HaveOccurred())
			res, err := opt.Solve(ctx, x0, optimizer.WithObserver(obs))
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Status()).To(Equal(optimizer.StatusCancelled))
			Expect(res.Reason()).To(Equal(optimizer.ReasonCancelled))
			Expect(res.Iterations()).To(Equal(2))
			Expect(res.Trajectory().Len()).To(BeNumerically("<=", cfg.Steps))
			Expect(res.Cost()).To(BeNumerically("<", costs[0]))
		})

		It("reports a timeout", func() {
			cfg := lqrConfig(10)
			cfg.Timeout = time.Nanosecond
			res := solve(lqrProblem(), cfg, x0)

			Expect(res.Status()).To(Equal(optimizer.StatusCancelled))
			Expect(res.Reason()).To(Equal(optimizer.ReasonTimeout))
		})
	})

	It("reports progress through every phase", func() {
		var phases []optimizer.Phase
		obs := optimizer.ObserverFunc(func(p optimizer.Progress) { phases = append(phases, p.Phase) })

		res := solve(lqrProblem(), lqrConfig(10), x0, optimizer.WithObserver(obs))

		Expect(res.Status()).To(Equal(optimizer.StatusConverged))
		Expect(phases[0]).To(Equal(optimizer.PhaseInitialized))
		Expect(phases).To(ContainElement(optimizer.PhaseIterating))
		Expect(phases[len(phases)-1]).To(Equal(optimizer.PhaseConverged))
		Expect(res.History()).To(HaveLen(res.Iterations() + 1))
	})
})
