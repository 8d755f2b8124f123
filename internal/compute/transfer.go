package compute

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime"

	"github.com/gogpu/gputypes"

	"github.com/san-kum/nbodysim/internal/dynamo"
)

// Barrier blocks until want mapping requests tracked by c have completed or
// one of them failed.
type Barrier interface {
	Await(d *Device, c *Completion, want int32) error
}

// PollBarrier spins on Device.Poll until the completion count is reached.
// It has no timeout.
type PollBarrier struct{}

func (PollBarrier) Await(d *Device, c *Completion, want int32) error {
	for {
		if err := c.Err(); err != nil {
			return err
		}
		if c.Count() >= want {
			return nil
		}
		d.Poll(true)
		runtime.Gosched()
	}
}

// EnsureMappingComplete waits for every buffer of a staging set to finish its
// write callback.
func EnsureMappingComplete(d *Device, staging *BodyBuffers[Mappable]) error {
	return PollBarrier{}.Await(d, &staging.Role().Completion, bodyBufferCount)
}

// WriteAsync resets the staging set's completion count and issues one
// MapWrite request per buffer. Each callback encodes its slice of data into
// the mapped range and then bumps the count. The caller must keep data
// unchanged until the barrier returns.
func WriteAsync(staging *BodyBuffers[Mappable], data *dynamo.Bodies) error {
	if err := data.ValidateLen(staging.Len()); err != nil {
		return err
	}
	done := &staging.Role().Completion
	done.Reset()

	writes := [bodyBufferCount]func([]byte){
		func(dst []byte) { putVec4s(dst, data.Positions) },
		func(dst []byte) { putVec4s(dst, data.Velocities) },
		func(dst []byte) { putFloat32s(dst, data.Masses) },
	}
	for k, buf := range staging.buffers() {
		buf, write := buf, writes[k]
		err := buf.MapAsync(gputypes.MapModeWrite, func(status MapStatus) {
			if status != MapStatusSuccess {
				done.fail(fmt.Errorf("%w: %s: %s", ErrMappingFailed, buf.Label(), status))
				return
			}
			mem, err := buf.GetMappedRange(0, buf.Size())
			if err != nil {
				done.fail(fmt.Errorf("%w: %s: %v", ErrMappingFailed, buf.Label(), err))
				return
			}
			write(mem)
			done.done()
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Upload copies data into the resident set dst. It returns once the copies
// are submitted; they execute before any later submission.
//
// A length mismatch between data's slices or against dst fails with a
// *dynamo.LengthError and leaves dst untouched. A failed mapping request
// fails with ErrMappingFailed and nothing is copied.
func Upload(c *Context, dst *BodyBuffers[Resident], data *dynamo.Bodies) error {
	return UploadWith(c, dst, data, PollBarrier{})
}

// UploadWith is Upload with a caller-supplied completion barrier.
func UploadWith(c *Context, dst *BodyBuffers[Resident], data *dynamo.Bodies, barrier Barrier) error {
	if err := data.ValidateLen(dst.Len()); err != nil {
		return err
	}

	staging, err := NewMappable(c.Device, dst.Len())
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer staging.Destroy()

	if err := WriteAsync(staging, data); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if err := barrier.Await(c.Device, &staging.Role().Completion, bodyBufferCount); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if err := staging.Unmap(); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	enc := c.Device.CreateCommandEncoder("upload")
	encodeCopy(enc, staging, dst)
	cmd, err := enc.Finish()
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if err := c.Queue.Submit(cmd); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}

// Read copies src back to the host. It waits for all previously submitted
// work to finish.
func Read(c *Context, src *BodyBuffers[Resident]) (*dynamo.Bodies, error) {
	n := src.Len()
	rb, err := NewReadback(c.Device, n)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	defer rb.Destroy()

	enc := c.Device.CreateCommandEncoder("readback")
	encodeCopy(enc, src, rb)
	cmd, err := enc.Finish()
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if err := c.Queue.Submit(cmd); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	out := &dynamo.Bodies{
		Positions:  make([]dynamo.Vec4, n),
		Velocities: make([]dynamo.Vec4, n),
		Masses:     make([]float32, n),
	}
	done := &rb.Role().Completion
	done.Reset()

	reads := [bodyBufferCount]func([]byte){
		func(src []byte) { getVec4s(out.Positions, src) },
		func(src []byte) { getVec4s(out.Velocities, src) },
		func(src []byte) { getFloat32s(out.Masses, src) },
	}
	for k, buf := range rb.buffers() {
		buf, read := buf, reads[k]
		err := buf.MapAsync(gputypes.MapModeRead, func(status MapStatus) {
			if status != MapStatusSuccess {
				done.fail(fmt.Errorf("%w: %s: %s", ErrMappingFailed, buf.Label(), status))
				return
			}
			mem, err := buf.GetMappedRange(0, buf.Size())
			if err != nil {
				done.fail(fmt.Errorf("%w: %s: %v", ErrMappingFailed, buf.Label(), err))
				return
			}
			read(mem)
			done.done()
		})
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
	}

	if err := (PollBarrier{}).Await(c.Device, done, bodyBufferCount); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if err := rb.Unmap(); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return out, nil
}

// Device memory holds float32 words in host byte order.

func putVec4s(dst []byte, src []dynamo.Vec4) {
	for i, v := range src {
		for k := 0; k < 4; k++ {
			binary.NativeEndian.PutUint32(dst[i*vec4Bytes+k*floatBytes:], math.Float32bits(v[k]))
		}
	}
}

func putFloat32s(dst []byte, src []float32) {
	for i, f := range src {
		binary.NativeEndian.PutUint32(dst[i*floatBytes:], math.Float32bits(f))
	}
}

func getVec4s(dst []dynamo.Vec4, src []byte) {
	for i := range dst {
		for k := 0; k < 4; k++ {
			dst[i][k] = math.Float32frombits(binary.NativeEndian.Uint32(src[i*vec4Bytes+k*floatBytes:]))
		}
	}
}

func getFloat32s(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.NativeEndian.Uint32(src[i*floatBytes:]))
	}
}
