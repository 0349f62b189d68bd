package dynamo

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Sequence is a fixed disturbance sequence. Steps beyond its length reuse the
// last element.
type Sequence []Disturbance

func (s Sequence) Dim() int {
	if len(s) == 0 {
		return 0
	}
	return len(s[0])
}

func (s Sequence) At(k int, t float64) Disturbance {
	if len(s) == 0 {
		return Disturbance{}
	}
	if k >= len(s) {
		k = len(s) - 1
	}
	out := make(Disturbance, len(s[k]))
	copy(out, s[k])
	return out
}

// Gaussian generates independent N(Mean, Sigma²) disturbances. Draws depend
// only on Seed and the step index, so a solve is reproducible.
type Gaussian struct {
	N     int
	Mean  float64
	Sigma float64
	Seed  uint64
}

func NewGaussian(n int, mean, sigma float64, seed uint64) *Gaussian {
	return &Gaussian{N: n, Mean: mean, Sigma: sigma, Seed: seed}
}

func (g *Gaussian) Dim() int { return g.N }

func (g *Gaussian) At(k int, t float64) Disturbance {
	out := make(Disturbance, g.N)
	if g.Sigma == 0 {
		for i := range out {
			out[i] = g.Mean
		}
		return out
	}
	dist := distuv.Normal{Mu: g.Mean, Sigma: g.Sigma}
	src := rand.New(rand.NewPCG(g.Seed, uint64(k)))
	for i := range out {
		p := src.Float64()
		for p == 0 {
			p = src.Float64()
		}
		out[i] = dist.Quantile(p)
	}
	return out
}
