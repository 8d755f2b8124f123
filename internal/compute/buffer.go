package compute

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"go.uber.org/zap"

	"github.com/san-kum/nbodysim/internal/dynamo"
)

// MapState is the mapping state of a buffer.
type MapState int

const (
	MapStateUnmapped MapState = iota
	MapStatePending
	MapStateMapped
)

func (s MapState) String() string {
	switch s {
	case MapStateUnmapped:
		return "Unmapped"
	case MapStatePending:
		return "Pending"
	case MapStateMapped:
		return "Mapped"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// MapStatus is the result delivered to a MapAsync callback.
type MapStatus int

const (
	MapStatusSuccess MapStatus = iota
	MapStatusError
	MapStatusUnmappedBeforeCallback
	MapStatusDestroyedBeforeCallback
)

func (s MapStatus) String() string {
	switch s {
	case MapStatusSuccess:
		return "Success"
	case MapStatusError:
		return "Error"
	case MapStatusUnmappedBeforeCallback:
		return "UnmappedBeforeCallback"
	case MapStatusDestroyedBeforeCallback:
		return "DestroyedBeforeCallback"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// BufferDescriptor describes a buffer to create.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage gputypes.BufferUsage
}

// Buffer is a block of device memory.
//
// Mapping follows the usual asynchronous pattern: MapAsync moves the buffer
// to Pending, a later Device.Poll resolves it and runs the callback on its
// own goroutine, GetMappedRange exposes the bytes until Unmap.
//
// Buffer is safe for concurrent use.
type Buffer struct {
	mu sync.RWMutex

	device     *Device
	descriptor BufferDescriptor

	// mem backs the buffer as float32 words so kernels can read it without
	// conversion; bytes is the same memory viewed as bytes.
	mem   []float32
	bytes []byte

	mapState MapState
	mapMode  gputypes.MapMode
	callback func(MapStatus)

	destroyed bool
}

func newBuffer(d *Device, desc BufferDescriptor) *Buffer {
	words := (desc.Size + 3) / 4
	mem := make([]float32, words)
	return &Buffer{
		device:     d,
		descriptor: desc,
		mem:        mem,
		bytes:      unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(mem))), desc.Size),
	}
}

func (b *Buffer) Label() string               { return b.descriptor.Label }
func (b *Buffer) Size() uint64                { return b.descriptor.Size }
func (b *Buffer) Usage() gputypes.BufferUsage { return b.descriptor.Usage }

func (b *Buffer) MapState() MapState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mapState
}

func (b *Buffer) IsDestroyed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.destroyed
}

// MapAsync requests host access to the whole buffer. The mode must match the
// buffer's usage flags. The callback runs once, after a Device.Poll resolves
// the request or when Unmap or Destroy cancels it.
func (b *Buffer) MapAsync(mode gputypes.MapMode, callback func(MapStatus)) error {
	if callback == nil {
		return ErrCallbackNil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return ErrBufferDestroyed
	}
	if b.mapState != MapStateUnmapped {
		return ErrBufferAlreadyMapped
	}

	switch mode {
	case gputypes.MapModeRead:
		if !b.descriptor.Usage.Contains(gputypes.BufferUsageMapRead) {
			return fmt.Errorf("%w: %q does not have MapRead usage", ErrMapUsageMismatch, b.descriptor.Label)
		}
	case gputypes.MapModeWrite:
		if !b.descriptor.Usage.Contains(gputypes.BufferUsageMapWrite) {
			return fmt.Errorf("%w: %q does not have MapWrite usage", ErrMapUsageMismatch, b.descriptor.Label)
		}
	default:
		return fmt.Errorf("%w: %d", ErrInvalidMapMode, mode)
	}

	b.mapState = MapStatePending
	b.mapMode = mode
	b.callback = callback
	b.device.enqueueMap(b)
	return nil
}

// resolve completes a pending map. Called by Device.Poll once the queue has
// drained.
func (b *Buffer) resolve(fault func(label string) bool) {
	b.mu.Lock()
	if b.mapState != MapStatePending {
		b.mu.Unlock()
		return
	}

	status := MapStatusSuccess
	if fault != nil && fault(b.descriptor.Label) {
		status = MapStatusError
		b.mapState = MapStateUnmapped
	} else {
		b.mapState = MapStateMapped
	}
	callback := b.callback
	b.callback = nil
	b.mu.Unlock()

	go callback(status)
}

// GetMappedRange returns size bytes of the mapped buffer starting at offset.
// The slice is valid until Unmap.
func (b *Buffer) GetMappedRange(offset, size uint64) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return nil, ErrBufferDestroyed
	}
	switch b.mapState {
	case MapStatePending:
		return nil, ErrBufferMapPending
	case MapStateUnmapped:
		return nil, ErrBufferNotMapped
	}
	if offset > b.descriptor.Size || size > b.descriptor.Size-offset {
		return nil, fmt.Errorf("%w: offset %d + size %d > buffer size %d",
			ErrInvalidMapRange, offset, size, b.descriptor.Size)
	}
	return b.bytes[offset : offset+size : offset+size], nil
}

// Unmap returns the buffer to the device. A pending request is cancelled and
// its callback receives MapStatusUnmappedBeforeCallback.
func (b *Buffer) Unmap() error {
	b.mu.Lock()

	if b.destroyed {
		b.mu.Unlock()
		return ErrBufferDestroyed
	}

	callback := b.callback
	pending := b.mapState == MapStatePending
	b.mapState = MapStateUnmapped
	b.callback = nil
	b.mu.Unlock()

	if pending && callback != nil {
		callback(MapStatusUnmappedBeforeCallback)
	}
	return nil
}

// Destroy releases the buffer. Idempotent. Work already submitted that
// references the buffer still completes.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	callback := b.callback
	pending := b.mapState == MapStatePending
	b.mapState = MapStateUnmapped
	b.callback = nil
	b.mem = nil
	b.bytes = nil
	b.mu.Unlock()

	if pending && callback != nil {
		callback(MapStatusDestroyedBeforeCallback)
	}
	b.device.log.Debug("buffer destroyed", zap.String("label", b.descriptor.Label))
}

// acquire returns the backing memory for use by queued work. Mapped or
// destroyed buffers cannot be used by the queue.
func (b *Buffer) acquire() ([]float32, []byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return nil, nil, fmt.Errorf("%w: %q", ErrBufferDestroyed, b.descriptor.Label)
	}
	if b.mapState != MapStateUnmapped {
		return nil, nil, fmt.Errorf("%w: %q is %s", ErrBufferInUse, b.descriptor.Label, b.mapState)
	}
	return b.mem, b.bytes, nil
}

func vec4View(mem []float32) []dynamo.Vec4 {
	if len(mem) < 4 {
		return nil
	}
	return unsafe.Slice((*dynamo.Vec4)(unsafe.Pointer(unsafe.SliceData(mem))), len(mem)/4)
}

func requireUsage(b *Buffer, usage gputypes.BufferUsage, op, name string) error {
	if !b.descriptor.Usage.Contains(usage) {
		return &UsageError{Label: b.descriptor.Label, Op: op, Need: name}
	}
	return nil
}
