// Package physics implements the host reference integrator.
//
// [Tick] advances a [dynamo.Bodies] store by one explicit Euler step using a
// direct pairwise summation of Newtonian gravity:
//
//   - every ordered pair (i, j), i != j, contributes G·m_j·d/|d|³ to body i
//   - pairs with 1/|d| >= K/dt are skipped (the singularity guard)
//   - positions move only after every velocity has been updated
//
// The same [PairAcceleration] term is used by the software compute kernel, so
// host and device results agree to float32 rounding.
//
//	b := galaxy.UnitPoints()
//	physics.Tick(b, 1.0/60, 2e-5)
//	e := physics.Energy(b, 2e-5)
package physics
