package dynamo

import "fmt"

// Problem bundles the domain capabilities of one optimisation problem.
// Only Dynamics is required; nil fields contribute nothing to the cost.
type Problem struct {
	Dynamics     System
	Efficiency   Field // F, penalised through ‖∇F(x)‖²
	Adaptability Field // Φ(x, t)
	Collective   Field // Ψ(x)
	Control      ControlCost
	Constraint   Constraint
	Disturbance  DisturbanceSource
}

// Validate checks that the problem is complete enough to be solved.
func (p Problem) Validate() error {
	if p.Dynamics == nil {
		return &ConfigError{Field: "dynamics", Reason: "a dynamics model is required"}
	}
	if p.Dynamics.StateDim() <= 0 {
		return &ConfigError{Field: "dynamics", Reason: fmt.Sprintf("state dimension must be positive, got %d", p.Dynamics.StateDim())}
	}
	if p.Dynamics.ControlDim() <= 0 {
		return &ConfigError{Field: "dynamics", Reason: fmt.Sprintf("control dimension must be positive, got %d", p.Dynamics.ControlDim())}
	}
	if p.Constraint != nil && p.Constraint.Dim() <= 0 {
		return &ConfigError{Field: "constraint", Reason: "constraint must have at least one component"}
	}
	if p.Disturbance != nil && p.Disturbance.Dim() < 0 {
		return &ConfigError{Field: "disturbance", Reason: "negative disturbance dimension"}
	}
	return nil
}

// SampleDisturbances draws ξ_0 … ξ_{steps-1}. Without a source every ξ_k is
// an empty vector.
func (p Problem) SampleDisturbances(times []float64, steps int) []Disturbance {
	out := make([]Disturbance, steps)
	for k := 0; k < steps; k++ {
		if p.Disturbance == nil {
			out[k] = Disturbance{}
			continue
		}
		out[k] = p.Disturbance.At(k, times[k])
	}
	return out
}
