package compute

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"go.uber.org/zap"
)

// Queue executes submitted work in submission order on a single executor
// goroutine.
type Queue struct {
	device *Device
	work   chan []func()
	done   chan struct{}

	mu       sync.Mutex
	idleCond *sync.Cond
	inflight int
	closed   bool
}

func newQueue(d *Device) *Queue {
	q := &Queue{
		device: d,
		work:   make(chan []func(), 16),
		done:   make(chan struct{}),
	}
	q.idleCond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for steps := range q.work {
		q.execute(steps)
		q.mu.Lock()
		q.inflight--
		if q.inflight == 0 {
			q.idleCond.Broadcast()
		}
		q.mu.Unlock()
	}
}

func (q *Queue) execute(steps []func()) {
	defer func() {
		if r := recover(); r != nil {
			q.device.log.Error("command execution panicked", zap.Any("panic", r))
		}
	}()
	for _, step := range steps {
		step()
	}
}

func (q *Queue) enqueue(steps []func()) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrDeviceClosed
	}
	q.inflight++
	q.mu.Unlock()

	q.work <- steps
	return nil
}

// Submit schedules command buffers for execution, in order, after all
// previously submitted work. Every referenced buffer must be unmapped and
// alive at submission; a buffer destroyed afterwards stays valid for the
// work that was already submitted.
func (q *Queue) Submit(cmds ...*CommandBuffer) error {
	var steps []func()
	for _, cb := range cmds {
		if cb == nil {
			continue
		}
		if cb.submitted {
			return fmt.Errorf("%w: %q", ErrCommandBufferUsed, cb.label)
		}
		for _, c := range cb.commands {
			step, err := c.prepare(q.device)
			if err != nil {
				return fmt.Errorf("submit %q: %w", cb.label, err)
			}
			steps = append(steps, step)
		}
	}
	for _, cb := range cmds {
		if cb != nil {
			cb.submitted = true
		}
	}
	if len(steps) == 0 {
		return nil
	}
	return q.enqueue(steps)
}

// WriteBuffer schedules a copy of data into buf at offset. The write lands
// before any work submitted after this call.
func (q *Queue) WriteBuffer(buf *Buffer, offset uint64, data []byte) error {
	if err := requireUsage(buf, gputypes.BufferUsageCopyDst, "queue write", "CopyDst"); err != nil {
		return err
	}
	size := uint64(len(data))
	if offset%4 != 0 || size%4 != 0 {
		return fmt.Errorf("%w: offset %d size %d", ErrCopyNotAligned, offset, size)
	}
	if offset > buf.Size() || size > buf.Size()-offset {
		return fmt.Errorf("%w: offset %d + size %d > buffer size %d",
			ErrCopyRangeOutOfBounds, offset, size, buf.Size())
	}
	_, mem, err := buf.acquire()
	if err != nil {
		return err
	}
	staged := append([]byte(nil), data...)
	return q.enqueue([]func(){func() {
		copy(mem[offset:offset+size], staged)
	}})
}

func (q *Queue) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight == 0
}

func (q *Queue) waitIdle() {
	q.mu.Lock()
	for q.inflight > 0 {
		q.idleCond.Wait()
	}
	q.mu.Unlock()
}

func (q *Queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.waitIdle()
	close(q.work)
	<-q.done
}
