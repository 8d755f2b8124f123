package compute

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/san-kum/nbodysim/internal/dynamo"
)

// RenderTarget consumes the vertices of a render pass. The points slice
// aliases device memory and is only valid for the duration of the call.
type RenderTarget interface {
	DrawPoints(points []dynamo.Vec4)
}

// command is a recorded operation. prepare validates it against the current
// buffer states at submission and returns the step the executor runs.
type command interface {
	prepare(d *Device) (func(), error)
}

// CommandBuffer is finished, submittable work.
type CommandBuffer struct {
	label     string
	commands  []command
	submitted bool
}

// CommandEncoder records copies and passes. Validation errors are sticky and
// reported by Finish.
type CommandEncoder struct {
	device   *Device
	label    string
	commands []command
	err      error
	locked   bool
	finished bool
}

func (e *CommandEncoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *CommandEncoder) recording() bool {
	switch {
	case e.finished:
		e.fail(ErrEncoderFinished)
		return false
	case e.locked:
		e.fail(ErrEncoderLocked)
		return false
	}
	return true
}

func (e *CommandEncoder) CopyBufferToBuffer(src *Buffer, srcOffset uint64, dst *Buffer, dstOffset, size uint64) {
	if !e.recording() {
		return
	}
	if err := requireUsage(src, gputypes.BufferUsageCopySrc, "copy source", "CopySrc"); err != nil {
		e.fail(err)
		return
	}
	if err := requireUsage(dst, gputypes.BufferUsageCopyDst, "copy destination", "CopyDst"); err != nil {
		e.fail(err)
		return
	}
	if src == dst {
		e.fail(fmt.Errorf("%w: %q", ErrCopySameBuffer, src.Label()))
		return
	}
	if srcOffset%4 != 0 || dstOffset%4 != 0 || size%4 != 0 {
		e.fail(fmt.Errorf("%w: src %d dst %d size %d", ErrCopyNotAligned, srcOffset, dstOffset, size))
		return
	}
	if srcOffset > src.Size() || size > src.Size()-srcOffset {
		e.fail(fmt.Errorf("%w: source %q offset %d + size %d > %d",
			ErrCopyRangeOutOfBounds, src.Label(), srcOffset, size, src.Size()))
		return
	}
	if dstOffset > dst.Size() || size > dst.Size()-dstOffset {
		e.fail(fmt.Errorf("%w: destination %q offset %d + size %d > %d",
			ErrCopyRangeOutOfBounds, dst.Label(), dstOffset, size, dst.Size()))
		return
	}
	e.commands = append(e.commands, &copyCommand{src, dst, srcOffset, dstOffset, size})
}

func (e *CommandEncoder) BeginComputePass() *ComputePass {
	e.recording()
	e.locked = true
	return &ComputePass{encoder: e}
}

func (e *CommandEncoder) BeginRenderPass(target RenderTarget) *RenderPass {
	e.recording()
	e.locked = true
	return &RenderPass{encoder: e, target: target}
}

// Finish ends recording. It returns the first validation error, if any.
func (e *CommandEncoder) Finish() (*CommandBuffer, error) {
	if e.finished {
		return nil, ErrEncoderFinished
	}
	if e.locked {
		e.fail(fmt.Errorf("%w: pass not ended", ErrEncoderLocked))
	}
	e.finished = true
	if e.err != nil {
		return nil, fmt.Errorf("encoder %q: %w", e.label, e.err)
	}
	return &CommandBuffer{label: e.label, commands: e.commands}, nil
}

// ComputePass records dispatches. Dispatches within a pass execute in order;
// each one completes before the next begins.
type ComputePass struct {
	encoder  *CommandEncoder
	pipeline *ComputePipeline
	group    *BindGroup
	ended    bool
}

func (p *ComputePass) SetPipeline(pipeline *ComputePipeline) {
	p.pipeline = pipeline
}

func (p *ComputePass) SetBindGroup(group *BindGroup) {
	p.group = group
}

func (p *ComputePass) DispatchWorkgroups(x, y, z uint32) {
	e := p.encoder
	switch {
	case p.ended:
		e.fail(fmt.Errorf("dispatch: %w", ErrEncoderFinished))
		return
	case p.pipeline == nil:
		e.fail(ErrNoPipeline)
		return
	case p.group == nil:
		e.fail(ErrNoBindGroup)
		return
	case !sameLayout(p.pipeline.desc.Layout, p.group.layout):
		e.fail(fmt.Errorf("%w: pipeline %q, bind group %q",
			ErrBindingMismatch, p.pipeline.Label(), p.group.label))
		return
	}
	if x == 0 || y == 0 || z == 0 {
		return
	}
	e.commands = append(e.commands, &dispatchCommand{
		pipeline: p.pipeline,
		group:    p.group,
		count:    [3]uint32{x, y, z},
	})
}

func (p *ComputePass) End() {
	if !p.ended {
		p.ended = true
		p.encoder.locked = false
	}
}

// RenderPass draws point lists into a RenderTarget.
type RenderPass struct {
	encoder *CommandEncoder
	target  RenderTarget
	vertex  *Buffer
	ended   bool
}

func (p *RenderPass) SetVertexBuffer(buf *Buffer) {
	if err := requireUsage(buf, gputypes.BufferUsageVertex, "vertex buffer", "Vertex"); err != nil {
		p.encoder.fail(err)
		return
	}
	p.vertex = buf
}

// Draw emits count points from the bound vertex buffer, one Vec4 each.
func (p *RenderPass) Draw(count uint32) {
	e := p.encoder
	if p.ended {
		e.fail(fmt.Errorf("draw: %w", ErrEncoderFinished))
		return
	}
	if p.vertex == nil {
		e.fail(fmt.Errorf("draw: no vertex buffer set"))
		return
	}
	if uint64(count)*16 > p.vertex.Size() {
		e.fail(fmt.Errorf("draw: %d points exceed vertex buffer %q", count, p.vertex.Label()))
		return
	}
	if p.target == nil || count == 0 {
		return
	}
	e.commands = append(e.commands, &drawCommand{target: p.target, vertex: p.vertex, count: count})
}

func (p *RenderPass) End() {
	if !p.ended {
		p.ended = true
		p.encoder.locked = false
	}
}

type copyCommand struct {
	src, dst             *Buffer
	srcOffset, dstOffset uint64
	size                 uint64
}

func (c *copyCommand) prepare(*Device) (func(), error) {
	_, src, err := c.src.acquire()
	if err != nil {
		return nil, err
	}
	_, dst, err := c.dst.acquire()
	if err != nil {
		return nil, err
	}
	return func() {
		copy(dst[c.dstOffset:c.dstOffset+c.size], src[c.srcOffset:c.srcOffset+c.size])
	}, nil
}

type dispatchCommand struct {
	pipeline *ComputePipeline
	group    *BindGroup
	count    [3]uint32
}

func (c *dispatchCommand) prepare(d *Device) (func(), error) {
	b, err := c.group.bindings()
	if err != nil {
		return nil, err
	}
	return func() { run(c.pipeline.desc, b, c.count, d.workers) }, nil
}

// run executes a dispatch. Workgroups that share an x coordinate run on one
// goroutine in ascending (z, y) order, and invocations inside a workgroup run
// in ascending (z, y, x) order.
func run(desc ComputePipelineDescriptor, b *Bindings, count [3]uint32, workers int) {
	size := desc.WorkgroupSize
	kernel := desc.Entry
	dynamo.ParallelForWorkers(int(count[0]), 1, workers, func(start, end int) {
		var id [3]uint32
		for wx := uint32(start); wx < uint32(end); wx++ {
			for wz := uint32(0); wz < count[2]; wz++ {
				for wy := uint32(0); wy < count[1]; wy++ {
					for lz := uint32(0); lz < size[2]; lz++ {
						id[2] = wz*size[2] + lz
						for ly := uint32(0); ly < size[1]; ly++ {
							id[1] = wy*size[1] + ly
							for lx := uint32(0); lx < size[0]; lx++ {
								id[0] = wx*size[0] + lx
								kernel(b, id)
							}
						}
					}
				}
			}
		}
	})
}

type drawCommand struct {
	target RenderTarget
	vertex *Buffer
	count  uint32
}

func (c *drawCommand) prepare(*Device) (func(), error) {
	mem, _, err := c.vertex.acquire()
	if err != nil {
		return nil, err
	}
	points := vec4View(mem)[:c.count]
	return func() { c.target.DrawPoints(points) }, nil
}
