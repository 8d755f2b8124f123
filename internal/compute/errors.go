package compute

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceClosed = errors.New("compute: device is closed")

	// Buffer lifecycle.
	ErrInvalidBufferSize   = errors.New("compute: invalid buffer size")
	ErrInvalidUsage        = errors.New("compute: invalid buffer usage")
	ErrBufferDestroyed     = errors.New("compute: buffer has been destroyed")
	ErrBufferAlreadyMapped = errors.New("compute: buffer is already mapped or mapping is pending")
	ErrBufferNotMapped     = errors.New("compute: buffer is not mapped")
	ErrBufferMapPending    = errors.New("compute: buffer mapping is pending")
	ErrBufferInUse         = errors.New("compute: buffer is mapped and cannot be used by the queue")
	ErrInvalidMapMode      = errors.New("compute: invalid map mode")
	ErrInvalidMapRange     = errors.New("compute: map range out of bounds")
	ErrMapUsageMismatch    = errors.New("compute: map mode does not match buffer usage flags")
	ErrCallbackNil         = errors.New("compute: map callback is nil")

	// ErrMappingFailed reports a mapping request the device resolved with a
	// non-success status. The transfer that issued it cannot complete.
	ErrMappingFailed = errors.New("compute: buffer mapping failed")

	// Command recording.
	ErrEncoderLocked        = errors.New("compute: encoder is locked (pass in progress)")
	ErrEncoderFinished      = errors.New("compute: encoder already finished")
	ErrCommandBufferUsed    = errors.New("compute: command buffer already submitted")
	ErrCopyRangeOutOfBounds = errors.New("compute: copy range out of bounds")
	ErrCopyNotAligned       = errors.New("compute: copy offset and size must be 4-byte aligned")
	ErrCopySameBuffer       = errors.New("compute: source and destination are the same buffer")
	ErrNoPipeline           = errors.New("compute: no pipeline set")
	ErrNoBindGroup          = errors.New("compute: no bind group set")
	ErrBindingMismatch      = errors.New("compute: bind group does not match pipeline layout")
)

// UsageError reports a buffer used in a way its usage flags do not allow.
type UsageError struct {
	Label string
	Op    string
	Need  string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("compute: buffer %q used for %s without %s usage", e.Label, e.Op, e.Need)
}

func (e *UsageError) Unwrap() error { return ErrInvalidUsage }
