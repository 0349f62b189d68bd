// Package control provides feedback policies used to warm-start the
// trajectory optimizer, and the finite-horizon LQR solution used as a
// reference for linear-quadratic problems.
//
// Policies implement [Policy] and are rolled out through the model once to
// produce the initial control sequence:
//
//   - [PID]: Proportional-Integral-Derivative on one state component
//   - [LQR]: static state feedback u = −K(x − target)
//   - [Schedule]: time-varying LQR gains from [FiniteHorizonLQR]
//   - [None]: zero control
//
// # Usage
//
//	pid := control.NewPID(1.0, 0.1, 0.01, 0.0) // Kp, Ki, Kd, setpoint
//	res, err := opt.Solve(ctx, x0, optimizer.WithWarmStartPolicy(pid))
//
// Policies implementing [dynamo.Configurable] support parameter sweeps.
package control
