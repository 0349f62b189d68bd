// Package dynamo provides the core primitives of the dynamic resource
// optimisation problem:
//
//	min ∫₀ᵀ α·‖∇F(x)‖² + β·Φ(x,t) + γ·Ψ(x) + L(u,t) dt
//	s.t. dx/dt = G(x,u,ξ,t), H(x) ≤ R(t), x(0) = x₀
//
// The package defines the vector types and the pluggable capabilities a
// problem domain supplies:
//
//   - [State], [Control], [Disturbance]: plain float64 vectors
//   - [System]: the dynamics G
//   - [Field]: scalar fields F, Φ and Ψ, optionally with analytic derivatives
//   - [ControlCost]: the control penalty L
//   - [Constraint]: the inequality H(x) ≤ R(t)
//   - [Problem]: the bundle handed to the optimizer
//
// # Example
//
//	p := dynamo.Problem{
//		Dynamics:     models.NewLinear(a, b),
//		Adaptability: models.NewQuadratic(q),
//		Control:      models.NewQuadraticControl(r),
//	}
//	opt, _ := optimizer.New(p, optimizer.DefaultConfig())
//	res, _ := opt.Solve(ctx, x0)
//
// # Thread Safety
//
// Implementations of the capabilities must be pure functions of their
// arguments. A Problem may then be shared by concurrent optimisation runs.
package dynamo
