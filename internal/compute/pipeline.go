package compute

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/san-kum/nbodysim/internal/dynamo"
)

// Bindings gives a kernel invocation access to the buffers of its bind
// group, indexed by binding number.
type Bindings struct {
	words [][]float32
	vecs  [][]dynamo.Vec4
}

func (b *Bindings) Float32s(binding int) []float32  { return b.words[binding] }
func (b *Bindings) Vec4s(binding int) []dynamo.Vec4 { return b.vecs[binding] }

// Kernel is one shader entry point, called once per invocation with its
// global invocation id.
type Kernel func(b *Bindings, id [3]uint32)

// ComputePipelineDescriptor describes a compute pipeline.
type ComputePipelineDescriptor struct {
	Label         string
	Layout        []gputypes.BindGroupLayoutEntry
	WorkgroupSize [3]uint32
	Entry         Kernel
}

type ComputePipeline struct {
	desc ComputePipelineDescriptor
}

func (p *ComputePipeline) Label() string { return p.desc.Label }

func (d *Device) CreateComputePipeline(desc ComputePipelineDescriptor) (*ComputePipeline, error) {
	if desc.Entry == nil {
		return nil, fmt.Errorf("compute: pipeline %q has no entry point", desc.Label)
	}
	for k, s := range desc.WorkgroupSize {
		if s == 0 {
			return nil, fmt.Errorf("compute: pipeline %q workgroup size[%d] is 0", desc.Label, k)
		}
	}
	for i, e := range desc.Layout {
		if e.Binding != uint32(i) {
			return nil, fmt.Errorf("compute: pipeline %q layout entry %d has binding %d", desc.Label, i, e.Binding)
		}
		if e.Buffer == nil {
			return nil, fmt.Errorf("compute: pipeline %q binding %d is not a buffer binding", desc.Label, i)
		}
	}
	return &ComputePipeline{desc: desc}, nil
}

// BindGroup binds buffers to the binding slots of a layout.
type BindGroup struct {
	label   string
	layout  []gputypes.BindGroupLayoutEntry
	buffers []*Buffer
}

func (d *Device) CreateBindGroup(label string, layout []gputypes.BindGroupLayoutEntry, buffers []*Buffer) (*BindGroup, error) {
	if len(layout) != len(buffers) {
		return nil, fmt.Errorf("%w: %q has %d buffers for %d entries",
			ErrBindingMismatch, label, len(buffers), len(layout))
	}
	for i, e := range layout {
		buf := buffers[i]
		if buf == nil {
			return nil, fmt.Errorf("%w: %q binding %d is nil", ErrBindingMismatch, label, i)
		}
		var err error
		switch e.Buffer.Type {
		case gputypes.BufferBindingTypeUniform:
			err = requireUsage(buf, gputypes.BufferUsageUniform, "uniform binding", "Uniform")
		default:
			err = requireUsage(buf, gputypes.BufferUsageStorage, "storage binding", "Storage")
		}
		if err != nil {
			return nil, err
		}
	}
	return &BindGroup{label: label, layout: layout, buffers: buffers}, nil
}

func (g *BindGroup) bindings() (*Bindings, error) {
	b := &Bindings{
		words: make([][]float32, len(g.buffers)),
		vecs:  make([][]dynamo.Vec4, len(g.buffers)),
	}
	for i, buf := range g.buffers {
		mem, _, err := buf.acquire()
		if err != nil {
			return nil, err
		}
		b.words[i] = mem
		b.vecs[i] = vec4View(mem)
	}
	return b, nil
}

func sameLayout(a, b []gputypes.BindGroupLayoutEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Binding != b[i].Binding || a[i].Buffer == nil || b[i].Buffer == nil ||
			a[i].Buffer.Type != b[i].Buffer.Type {
			return false
		}
	}
	return true
}
