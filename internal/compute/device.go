package compute

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/gogpu/gputypes"
	"go.uber.org/zap"
)

// Options configures a software device.
type Options struct {
	// Workers bounds how many workgroup columns run at once. Zero means
	// runtime.NumCPU.
	Workers int

	// MapFault, when set, is consulted for every mapping request the device
	// resolves. Returning true fails that request with MapStatusError.
	MapFault func(label string) bool

	Logger *zap.Logger
}

// Context owns a device and its queue. It is created once and passed
// explicitly to everything that records or submits work.
type Context struct {
	Device *Device
	Queue  *Queue
}

func NewContext(opts Options) (*Context, error) {
	if opts.Workers < 0 {
		return nil, fmt.Errorf("compute: workers must be >= 0, got %d", opts.Workers)
	}
	if opts.Workers == 0 {
		opts.Workers = runtime.NumCPU()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	d := &Device{
		log:     log.Named("compute"),
		workers: opts.Workers,
		fault:   opts.MapFault,
	}
	q := newQueue(d)
	d.queue = q

	d.log.Debug("device created", zap.Int("workers", d.workers))
	return &Context{Device: d, Queue: q}, nil
}

// Close drains submitted work and stops the device. Pending mapping requests
// are left unresolved.
func (c *Context) Close() {
	c.Queue.close()
	c.Device.mu.Lock()
	c.Device.closed = true
	c.Device.pending = nil
	c.Device.mu.Unlock()
	c.Device.log.Debug("device closed")
}

// Device creates resources and resolves mapping requests.
type Device struct {
	log     *zap.Logger
	workers int
	fault   func(label string) bool
	queue   *Queue

	mu      sync.Mutex
	pending []*Buffer
	closed  bool
}

func (d *Device) Workers() int { return d.workers }

func (d *Device) CreateBuffer(desc BufferDescriptor) (*Buffer, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrDeviceClosed
	}

	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: %q has size 0", ErrInvalidBufferSize, desc.Label)
	}
	if desc.Usage == 0 {
		return nil, fmt.Errorf("%w: %q has no usage flags", ErrInvalidUsage, desc.Label)
	}
	// Mappable buffers may only pair with the copy direction that feeds or
	// drains them.
	if desc.Usage.Contains(gputypes.BufferUsageMapWrite) &&
		desc.Usage&^(gputypes.BufferUsageMapWrite|gputypes.BufferUsageCopySrc) != 0 {
		return nil, fmt.Errorf("%w: %q: MapWrite combines only with CopySrc", ErrInvalidUsage, desc.Label)
	}
	if desc.Usage.Contains(gputypes.BufferUsageMapRead) &&
		desc.Usage&^(gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst) != 0 {
		return nil, fmt.Errorf("%w: %q: MapRead combines only with CopyDst", ErrInvalidUsage, desc.Label)
	}

	b := newBuffer(d, desc)
	d.log.Debug("buffer created",
		zap.String("label", desc.Label),
		zap.Uint64("size", desc.Size),
	)
	return b, nil
}

func (d *Device) enqueueMap(b *Buffer) {
	d.mu.Lock()
	d.pending = append(d.pending, b)
	d.mu.Unlock()
}

// Poll drives the device. With wait set it blocks until every submitted
// command buffer has executed; otherwise it returns false immediately if
// work is still in flight. Once the queue is idle, all pending mapping
// requests are resolved. Their callbacks run on separate goroutines and may
// not have finished when Poll returns.
func (d *Device) Poll(wait bool) bool {
	if wait {
		d.queue.waitIdle()
	} else if !d.queue.idle() {
		return false
	}

	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, b := range pending {
		b.resolve(d.fault)
	}
	return true
}

func (d *Device) CreateCommandEncoder(label string) *CommandEncoder {
	return &CommandEncoder{device: d, label: label}
}
