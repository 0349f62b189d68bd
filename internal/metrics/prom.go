package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/san-kum/ercrd/internal/optimizer"
)

// Sink records finished solves in Prometheus metrics.
type Sink struct {
	solves     *prometheus.CounterVec
	iterations *prometheus.HistogramVec
	cost       *prometheus.GaugeVec
	duration   *prometheus.HistogramVec
	progress   *prometheus.CounterVec
}

// NewSink registers the solver metrics on reg, or on the default registerer
// when reg is nil. Collectors that are already registered are reused.
func NewSink(reg prometheus.Registerer) (*Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &Sink{
		solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ercrd_solves_total",
			Help: "Finished solves by terminal status",
		}, []string{"problem", "status", "reason"}),
		iterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ercrd_solve_iterations",
			Help:    "Optimizer iterations per solve",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"problem"}),
		cost: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ercrd_final_cost",
			Help: "Objective value of the most recent solve",
		}, []string{"problem"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ercrd_solve_duration_seconds",
			Help:    "Wall time per solve",
			Buckets: prometheus.DefBuckets,
		}, []string{"problem"}),
		progress: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ercrd_iterations_total",
			Help: "Iterations reported by running solves",
		}, []string{"problem"}),
	}

	var err error
	if s.solves, err = register(reg, s.solves); err != nil {
		return nil, err
	}
	if s.iterations, err = register(reg, s.iterations); err != nil {
		return nil, err
	}
	if s.cost, err = register(reg, s.cost); err != nil {
		return nil, err
	}
	if s.duration, err = register(reg, s.duration); err != nil {
		return nil, err
	}
	if s.progress, err = register(reg, s.progress); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// Record adds a finished solve.
func (s *Sink) Record(problem string, res *optimizer.Result) {
	s.solves.WithLabelValues(problem, res.Status().String(), string(res.Reason())).Inc()
	s.iterations.WithLabelValues(problem).Observe(float64(res.Iterations()))
	s.cost.WithLabelValues(problem).Set(res.Cost())
	s.duration.WithLabelValues(problem).Observe(res.Elapsed().Seconds())
}

// Observer counts iterations while a solve is running.
func (s *Sink) Observer(problem string) optimizer.Observer {
	c := s.progress.WithLabelValues(problem)
	return optimizer.ObserverFunc(func(p optimizer.Progress) {
		if p.Phase == optimizer.PhaseIterating {
			c.Inc()
		}
	})
}
