package sim

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/san-kum/nbodysim/internal/compute"
	"github.com/san-kum/nbodysim/internal/dynamo"
	"github.com/san-kum/nbodysim/internal/physics"
)

// Backend kinds accepted by NewBackend.
const (
	KindAuto   = "auto"
	KindDevice = "device"
	KindHost   = "host"
)

// Backend advances a body set and draws its positions.
type Backend interface {
	Name() string
	// Tick advances one step without drawing.
	Tick(dt float32) error
	// Step advances one step and draws the result into target. A nil target
	// skips drawing.
	Step(dt float32, target compute.RenderTarget) error
	Draw(target compute.RenderTarget) error
	// Reset replaces the simulated bodies; the count must not change.
	Reset(b *dynamo.Bodies) error
	// Snapshot returns a host copy of the current bodies.
	Snapshot() (*dynamo.Bodies, error)
	Len() int
	Gravitation() float32
	Close()
}

// HostBackend runs the reference integrator on host memory.
type HostBackend struct {
	bodies     *dynamo.Bodies
	g          float32
	integrator *physics.Integrator
}

// NewHostBackend takes a copy of bodies.
func NewHostBackend(bodies *dynamo.Bodies, g float32, parallel bool) (*HostBackend, error) {
	if err := bodies.Validate(); err != nil {
		return nil, err
	}
	return &HostBackend{
		bodies:     bodies.Clone(),
		g:          g,
		integrator: physics.NewIntegrator(parallel),
	}, nil
}

func (h *HostBackend) Name() string { return h.integrator.Name() }
func (h *HostBackend) Len() int     { return h.bodies.Len() }

func (h *HostBackend) Gravitation() float32 { return h.g }

// Integrator exposes the tick hook.
func (h *HostBackend) Integrator() *physics.Integrator { return h.integrator }

func (h *HostBackend) Tick(dt float32) error {
	return h.Step(dt, nil)
}

func (h *HostBackend) Step(dt float32, target compute.RenderTarget) error {
	if !(dt > 0) {
		return fmt.Errorf("%w: dt %v", dynamo.ErrInvalidParameter, dt)
	}
	h.integrator.Step(h.bodies, dt, h.g)
	if target != nil {
		target.DrawPoints(h.bodies.Positions)
	}
	return nil
}

func (h *HostBackend) Draw(target compute.RenderTarget) error {
	target.DrawPoints(h.bodies.Positions)
	return nil
}

func (h *HostBackend) Reset(b *dynamo.Bodies) error {
	if err := b.ValidateLen(h.bodies.Len()); err != nil {
		return err
	}
	h.bodies = b.Clone()
	return nil
}

func (h *HostBackend) Snapshot() (*dynamo.Bodies, error) {
	return h.bodies.Clone(), nil
}

func (h *HostBackend) Close() {}

// DeviceBackend owns the resident buffers for one simulation. Bodies are
// uploaded once; every step after that runs on the device.
type DeviceBackend struct {
	gpu        *compute.Context
	bodies     *compute.BodyBuffers[compute.Resident]
	dispatcher *compute.Dispatcher
	g          float32
	log        *zap.Logger
}

func NewDeviceBackend(c *compute.Context, bodies *dynamo.Bodies, g float32, log *zap.Logger) (*DeviceBackend, error) {
	if err := bodies.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	resident, err := compute.NewResident(c.Device, bodies.Len())
	if err != nil {
		return nil, err
	}
	if err := compute.Upload(c, resident, bodies); err != nil {
		resident.Destroy()
		return nil, fmt.Errorf("upload bodies: %w", err)
	}
	dispatcher, err := compute.NewDispatcher(c, resident)
	if err != nil {
		resident.Destroy()
		return nil, err
	}

	log.Info("bodies uploaded", zap.Int("bodies", bodies.Len()))
	return &DeviceBackend{
		gpu:        c,
		bodies:     resident,
		dispatcher: dispatcher,
		g:          g,
		log:        log,
	}, nil
}

func (d *DeviceBackend) Name() string { return KindDevice }
func (d *DeviceBackend) Len() int     { return d.bodies.Len() }

func (d *DeviceBackend) Gravitation() float32 { return d.g }

func (d *DeviceBackend) Tick(dt float32) error {
	return d.dispatcher.Frame(dt, d.g, nil)
}

// Step records the tick and the render pass in one submission. It returns
// once the work is queued.
func (d *DeviceBackend) Step(dt float32, target compute.RenderTarget) error {
	return d.dispatcher.Frame(dt, d.g, target)
}

func (d *DeviceBackend) Draw(target compute.RenderTarget) error {
	return d.dispatcher.Draw(target)
}

// Wait blocks until submitted work has executed.
func (d *DeviceBackend) Wait() {
	d.gpu.Device.Poll(true)
}

func (d *DeviceBackend) Reset(b *dynamo.Bodies) error {
	d.Wait()
	return compute.Upload(d.gpu, d.bodies, b)
}

func (d *DeviceBackend) Snapshot() (*dynamo.Bodies, error) {
	return compute.Read(d.gpu, d.bodies)
}

// Close releases the device resources. The context stays open.
func (d *DeviceBackend) Close() {
	d.Wait()
	d.dispatcher.Release()
	d.bodies.Destroy()
}

// BackendOptions configures NewBackend.
type BackendOptions struct {
	Kind     string
	Context  *compute.Context // required for "device"; "auto" falls back to host without it
	G        float32
	Parallel bool // host only
	Logger   *zap.Logger
}

// NewBackend builds the backend named by opts.Kind.
func NewBackend(bodies *dynamo.Bodies, opts BackendOptions) (Backend, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	kind := opts.Kind
	if kind == "" || kind == KindAuto {
		kind = autoSelect(opts.Context)
		log.Debug("backend selected", zap.String("backend", kind))
	}

	switch kind {
	case KindDevice:
		if opts.Context == nil {
			return nil, fmt.Errorf("%w: device backend needs a compute context", dynamo.ErrInvalidParameter)
		}
		return NewDeviceBackend(opts.Context, bodies, opts.G, log)
	case KindHost:
		return NewHostBackend(bodies, opts.G, opts.Parallel)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", dynamo.ErrInvalidParameter, opts.Kind)
	}
}

func autoSelect(c *compute.Context) string {
	if c != nil {
		return KindDevice
	}
	return KindHost
}

// ListBackends returns the accepted backend kinds.
func ListBackends() []string {
	return []string{KindAuto, KindDevice, KindHost}
}
