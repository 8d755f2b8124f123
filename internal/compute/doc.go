// Package compute provides a software compute device and the body buffer
// transfer and tick dispatch built on it.
//
// The device mirrors the explicit GPU model: buffers with usage flags,
// asynchronous mapping resolved by polling, command encoders with compute
// and render passes, and an in-order queue. Kernels are Go functions
// scheduled across worker goroutines.
//
// # Buffer roles
//
// Body data lives in [BodyBuffers] sets of three buffers (positions,
// velocities, masses) typed by role:
//
//   - [Mappable]: host-writable staging, the source of an upload
//   - [Resident]: device-resident, bound to the kernels and the renderer
//   - [Readback]: host-readable copies for inspection
//
// # Upload
//
// [Upload] stages data through a transient Mappable set. Three MapWrite
// requests are issued; each callback writes its buffer and increments a
// shared atomic counter. The caller blocks in a [Barrier] that polls the
// device until all three have completed, then the staging set is unmapped,
// copied into the resident set and destroyed.
//
//	gpu, _ := compute.NewContext(compute.Options{})
//	defer gpu.Close()
//	bodies, _ := compute.NewResident(gpu.Device, b.Len())
//	if err := compute.Upload(gpu, bodies, b); err != nil { ... }
//	d, _ := compute.NewDispatcher(gpu, bodies)
//	d.Frame(1.0/60, 2e-5, renderer)
package compute
