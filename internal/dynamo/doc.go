// Package dynamo provides the core data primitives shared by the simulation.
//
// The package defines the host-side body store and the helpers every other
// layer builds on:
//
//   - [Bodies]: positions, velocities and masses for N point bodies
//   - [Vec4]: 4-wide float record matching the device buffer layout
//   - [Metric]: per-frame diagnostic observer
//   - [ParallelFor]: chunked fan-out used by the host and software kernels
//
// # Example
//
//	b := galaxy.UnitPoints()
//	physics.Tick(b, 1.0/60, 2e-5)
//	px := b.Momentum()
//
// # Thread Safety
//
// Bodies is NOT thread-safe. Parallel integrators partition the store by
// body index so no two goroutines write the same record.
package dynamo
