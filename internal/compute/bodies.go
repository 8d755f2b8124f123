package compute

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
)

const (
	vec4Bytes  = 16
	floatBytes = 4

	// bodyBufferCount is the number of buffers in a body set and so the
	// number of mapping requests one transfer waits for.
	bodyBufferCount = 3
)

// Role is the closed set of capabilities a body buffer set can have. A set
// changes role only by being copied into a set of another role.
type Role interface {
	Mappable | Resident | Readback
}

// Mappable sets are host-writable staging memory: MapWrite | CopySrc.
type Mappable struct {
	Completion
}

// Resident sets live on the device and feed the kernels and the point
// renderer: Storage | Vertex | CopyDst | CopySrc. They cannot be mapped.
type Resident struct{}

// Readback sets receive copies of resident data for host inspection:
// MapRead | CopyDst.
type Readback struct {
	Completion
}

func roleInfo[R Role]() (string, gputypes.BufferUsage) {
	var r *R
	switch any(r).(type) {
	case *Mappable:
		return "mappable", gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc
	case *Readback:
		return "readback", gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	default:
		return "resident", gputypes.BufferUsageStorage | gputypes.BufferUsageVertex |
			gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc
	}
}

// Completion counts the mapping requests of one transfer that have finished
// their work. The count is shared with callbacks running on other
// goroutines, so it is only touched atomically.
type Completion struct {
	count atomic.Int32

	mu  sync.Mutex
	err error
}

// Reset zeroes the count and clears any recorded failure.
func (c *Completion) Reset() {
	c.mu.Lock()
	c.err = nil
	c.mu.Unlock()
	c.count.Store(0)
}

func (c *Completion) Count() int32 { return c.count.Load() }

func (c *Completion) done() { c.count.Add(1) }

func (c *Completion) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

// Err returns the first failure recorded since the last Reset.
func (c *Completion) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// BodyBuffers holds positions, velocities and masses for n bodies in
// device memory, all with the usage of role R.
type BodyBuffers[R Role] struct {
	Positions  *Buffer
	Velocities *Buffer
	Masses     *Buffer

	n    int
	role R
}

func NewMappable(d *Device, n int) (*BodyBuffers[Mappable], error) {
	return newBodyBuffers[Mappable](d, n)
}

func NewResident(d *Device, n int) (*BodyBuffers[Resident], error) {
	return newBodyBuffers[Resident](d, n)
}

func NewReadback(d *Device, n int) (*BodyBuffers[Readback], error) {
	return newBodyBuffers[Readback](d, n)
}

func newBodyBuffers[R Role](d *Device, n int) (*BodyBuffers[R], error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d bodies", ErrInvalidBufferSize, n)
	}
	name, usage := roleInfo[R]()

	bb := &BodyBuffers[R]{n: n}
	var err error
	create := func(field string, size uint64) *Buffer {
		if err != nil {
			return nil
		}
		var buf *Buffer
		buf, err = d.CreateBuffer(BufferDescriptor{
			Label: name + "/" + field,
			Size:  size,
			Usage: usage,
		})
		return buf
	}
	bb.Positions = create("positions", uint64(n)*vec4Bytes)
	bb.Velocities = create("velocities", uint64(n)*vec4Bytes)
	bb.Masses = create("masses", uint64(n)*floatBytes)
	if err != nil {
		bb.Destroy()
		return nil, err
	}
	return bb, nil
}

// Len is the declared body count.
func (bb *BodyBuffers[R]) Len() int { return bb.n }

// Role exposes role-specific state, such as a staging set's Completion.
func (bb *BodyBuffers[R]) Role() *R { return &bb.role }

func (bb *BodyBuffers[R]) buffers() [bodyBufferCount]*Buffer {
	return [bodyBufferCount]*Buffer{bb.Positions, bb.Velocities, bb.Masses}
}

// Unmap unmaps every buffer in the set.
func (bb *BodyBuffers[R]) Unmap() error {
	for _, b := range bb.buffers() {
		if err := b.Unmap(); err != nil {
			return err
		}
	}
	return nil
}

func (bb *BodyBuffers[R]) Destroy() {
	for _, b := range bb.buffers() {
		if b != nil {
			b.Destroy()
		}
	}
}

// encodeCopy records full-length copies of all three buffers from src to dst.
func encodeCopy[S, D Role](enc *CommandEncoder, src *BodyBuffers[S], dst *BodyBuffers[D]) {
	s, d := src.buffers(), dst.buffers()
	for k := range s {
		enc.CopyBufferToBuffer(s[k], 0, d[k], 0, s[k].Size())
	}
}
