package compute

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"

	"github.com/san-kum/nbodysim/internal/dynamo"
	"github.com/san-kum/nbodysim/internal/physics"
)

const (
	workgroupSize = 64

	// params uniform: G, dt, K, N (N as uint32 bits).
	paramsWords = 4

	bindParams     = 0
	bindPositions  = 1
	bindVelocities = 2
	bindMasses     = 3
)

var tickLayout = []gputypes.BindGroupLayoutEntry{
	{
		Binding:    bindParams,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
	},
	{
		Binding:    bindPositions,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
	},
	{
		Binding:    bindVelocities,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
	},
	{
		Binding:    bindMasses,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
	},
}

type tickParams struct {
	g, dt, k float32
	n        uint32
}

func readParams(b *Bindings) tickParams {
	p := b.Float32s(bindParams)
	return tickParams{g: p[0], dt: p[1], k: p[2], n: math.Float32bits(p[3])}
}

// accumulate runs over an N×N grid. Invocation (i, j) adds the guarded pull
// of body j to the velocity of body i. All invocations for one i share a
// workgroup column and run in ascending j.
func accumulate(b *Bindings, id [3]uint32) {
	p := readParams(b)
	i, j := id[0], id[1]
	if i >= p.n || j >= p.n || i == j {
		return
	}
	pos := b.Vec4s(bindPositions)
	mass := b.Float32s(bindMasses)

	a, ok := physics.PairAcceleration(pos[i], pos[j], mass[j], p.g, p.k/p.dt)
	if !ok {
		return
	}
	v := &b.Vec4s(bindVelocities)[i]
	v[0] += a[0] * p.dt
	v[1] += a[1] * p.dt
	v[2] += a[2] * p.dt
}

// integrate moves every body by its updated velocity.
func integrate(b *Bindings, id [3]uint32) {
	p := readParams(b)
	i := id[0]
	if i >= p.n {
		return
	}
	pos := &b.Vec4s(bindPositions)[i]
	v := b.Vec4s(bindVelocities)[i]
	pos[0] += v[0] * p.dt
	pos[1] += v[1] * p.dt
	pos[2] += v[2] * p.dt
}

// Dispatcher records the per-frame tick for one resident body set.
type Dispatcher struct {
	gpu    *Context
	bodies *BodyBuffers[Resident]

	accumulate *ComputePipeline
	integrate  *ComputePipeline
	params     *Buffer
	group      *BindGroup
}

func NewDispatcher(c *Context, bodies *BodyBuffers[Resident]) (*Dispatcher, error) {
	d := c.Device
	acc, err := d.CreateComputePipeline(ComputePipelineDescriptor{
		Label:         "nbody/accumulate",
		Layout:        tickLayout,
		WorkgroupSize: [3]uint32{1, workgroupSize, 1},
		Entry:         accumulate,
	})
	if err != nil {
		return nil, err
	}
	integ, err := d.CreateComputePipeline(ComputePipelineDescriptor{
		Label:         "nbody/integrate",
		Layout:        tickLayout,
		WorkgroupSize: [3]uint32{workgroupSize, 1, 1},
		Entry:         integrate,
	})
	if err != nil {
		return nil, err
	}

	params, err := d.CreateBuffer(BufferDescriptor{
		Label: "nbody/params",
		Size:  paramsWords * floatBytes,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	group, err := d.CreateBindGroup("nbody/bodies", tickLayout,
		[]*Buffer{params, bodies.Positions, bodies.Velocities, bodies.Masses})
	if err != nil {
		params.Destroy()
		return nil, err
	}

	return &Dispatcher{
		gpu:        c,
		bodies:     bodies,
		accumulate: acc,
		integrate:  integ,
		params:     params,
		group:      group,
	}, nil
}

func workgroups(n int) uint32 {
	return uint32((n + workgroupSize - 1) / workgroupSize)
}

// Encode writes the tick parameters and records one compute pass: the
// pairwise velocity update over an N×N grid, then the position update.
func (d *Dispatcher) Encode(enc *CommandEncoder, dt, g float32) error {
	if !(dt > 0) {
		return fmt.Errorf("%w: dt %v", dynamo.ErrInvalidParameter, dt)
	}
	n := d.bodies.Len()

	var raw [paramsWords * floatBytes]byte
	binary.NativeEndian.PutUint32(raw[0:], math.Float32bits(g))
	binary.NativeEndian.PutUint32(raw[4:], math.Float32bits(dt))
	binary.NativeEndian.PutUint32(raw[8:], math.Float32bits(physics.InverseSingularityThreshold))
	binary.NativeEndian.PutUint32(raw[12:], uint32(n))
	if err := d.gpu.Queue.WriteBuffer(d.params, 0, raw[:]); err != nil {
		return err
	}

	pass := enc.BeginComputePass()
	pass.SetBindGroup(d.group)
	pass.SetPipeline(d.accumulate)
	pass.DispatchWorkgroups(uint32(n), workgroups(n), 1)
	pass.SetPipeline(d.integrate)
	pass.DispatchWorkgroups(workgroups(n), 1, 1)
	pass.End()
	return nil
}

// Frame submits one tick followed by a render pass that draws the updated
// positions into target, as a single submission. A nil target skips drawing.
// Frame does not wait for the work to execute.
func (d *Dispatcher) Frame(dt, g float32, target RenderTarget) error {
	enc := d.gpu.Device.CreateCommandEncoder("frame")
	if err := d.Encode(enc, dt, g); err != nil {
		return err
	}
	if target != nil {
		rp := enc.BeginRenderPass(target)
		rp.SetVertexBuffer(d.bodies.Positions)
		rp.Draw(uint32(d.bodies.Len()))
		rp.End()
	}
	cmd, err := enc.Finish()
	if err != nil {
		return err
	}
	return d.gpu.Queue.Submit(cmd)
}

// Draw submits a render pass alone.
func (d *Dispatcher) Draw(target RenderTarget) error {
	enc := d.gpu.Device.CreateCommandEncoder("draw")
	rp := enc.BeginRenderPass(target)
	rp.SetVertexBuffer(d.bodies.Positions)
	rp.Draw(uint32(d.bodies.Len()))
	rp.End()
	cmd, err := enc.Finish()
	if err != nil {
		return err
	}
	return d.gpu.Queue.Submit(cmd)
}

func (d *Dispatcher) Release() {
	d.params.Destroy()
}
