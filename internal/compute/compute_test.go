package compute_test

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/nbodysim/internal/compute"
	"github.com/san-kum/nbodysim/internal/dynamo"
	"github.com/san-kum/nbodysim/internal/galaxy"
	"github.com/san-kum/nbodysim/internal/physics"
)

func sampleBodies(n int) *dynamo.Bodies {
	b := dynamo.NewBodies(n)
	for i := 0; i < n; i++ {
		f := float32(i)
		b.Positions[i] = dynamo.Vec4{f, -f / 2, f * 0.25, 1}
		b.Velocities[i] = dynamo.Vec4{0.1 * f, 0, -0.3, 0}
		b.Masses[i] = 1 + f
	}
	return b
}

type recorder struct {
	mu     sync.Mutex
	frames [][]dynamo.Vec4
}

func (r *recorder) DrawPoints(points []dynamo.Vec4) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]dynamo.Vec4(nil), points...))
}

func (r *recorder) last() []dynamo.Vec4 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1]
}

type countingBarrier struct {
	calls    int
	observed int32
}

func (c *countingBarrier) Await(d *compute.Device, done *compute.Completion, want int32) error {
	c.calls++
	err := compute.PollBarrier{}.Await(d, done, want)
	c.observed = done.Count()
	return err
}

var _ = Describe("Buffer", func() {
	var gpu *compute.Context

	BeforeEach(func() {
		var err error
		gpu, err = compute.NewContext(compute.Options{Workers: 2})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(gpu.Close)
	})

	It("rejects invalid descriptors", func() {
		_, err := gpu.Device.CreateBuffer(compute.BufferDescriptor{Label: "empty", Usage: gputypes.BufferUsageStorage})
		Expect(err).To(MatchError(compute.ErrInvalidBufferSize))

		_, err = gpu.Device.CreateBuffer(compute.BufferDescriptor{Label: "nousage", Size: 16})
		Expect(err).To(MatchError(compute.ErrInvalidUsage))

		_, err = gpu.Device.CreateBuffer(compute.BufferDescriptor{
			Label: "mixed",
			Size:  16,
			Usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageStorage,
		})
		Expect(err).To(MatchError(compute.ErrInvalidUsage))
	})

	It("checks map mode against usage", func() {
		buf, err := gpu.Device.CreateBuffer(compute.BufferDescriptor{
			Label: "staging",
			Size:  16,
			Usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc,
		})
		Expect(err).NotTo(HaveOccurred())

		err = buf.MapAsync(gputypes.MapModeRead, func(compute.MapStatus) {})
		Expect(err).To(MatchError(compute.ErrMapUsageMismatch))
		Expect(buf.MapState()).To(Equal(compute.MapStateUnmapped))
	})

	It("resolves mapping only when the device is polled", func() {
		buf, err := gpu.Device.CreateBuffer(compute.BufferDescriptor{
			Label: "staging",
			Size:  16,
			Usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc,
		})
		Expect(err).NotTo(HaveOccurred())

		statuses := make(chan compute.MapStatus, 1)
		Expect(buf.MapAsync(gputypes.MapModeWrite, func(s compute.MapStatus) { statuses <- s })).To(Succeed())
		Expect(buf.MapState()).To(Equal(compute.MapStatePending))
		Consistently(statuses).ShouldNot(Receive())

		_, err = buf.GetMappedRange(0, 16)
		Expect(err).To(MatchError(compute.ErrBufferMapPending))
		Expect(buf.MapAsync(gputypes.MapModeWrite, func(compute.MapStatus) {})).To(MatchError(compute.ErrBufferAlreadyMapped))

		Expect(gpu.Device.Poll(true)).To(BeTrue())
		Eventually(statuses).Should(Receive(Equal(compute.MapStatusSuccess)))
		Expect(buf.MapState()).To(Equal(compute.MapStateMapped))

		mem, err := buf.GetMappedRange(0, 16)
		Expect(err).NotTo(HaveOccurred())
		Expect(mem).To(HaveLen(16))
		_, err = buf.GetMappedRange(8, 16)
		Expect(err).To(MatchError(compute.ErrInvalidMapRange))

		Expect(buf.Unmap()).To(Succeed())
		_, err = buf.GetMappedRange(0, 16)
		Expect(err).To(MatchError(compute.ErrBufferNotMapped))
	})

	It("cancels pending requests on unmap and destroy", func() {
		desc := compute.BufferDescriptor{
			Size:  16,
			Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
		}
		desc.Label = "a"
		a, err := gpu.Device.CreateBuffer(desc)
		Expect(err).NotTo(HaveOccurred())
		desc.Label = "b"
		b, err := gpu.Device.CreateBuffer(desc)
		Expect(err).NotTo(HaveOccurred())

		var sa, sb compute.MapStatus
		Expect(a.MapAsync(gputypes.MapModeRead, func(s compute.MapStatus) { sa = s })).To(Succeed())
		Expect(b.MapAsync(gputypes.MapModeRead, func(s compute.MapStatus) { sb = s })).To(Succeed())

		Expect(a.Unmap()).To(Succeed())
		b.Destroy()
		b.Destroy()

		Expect(sa).To(Equal(compute.MapStatusUnmappedBeforeCallback))
		Expect(sb).To(Equal(compute.MapStatusDestroyedBeforeCallback))
		Expect(b.IsDestroyed()).To(BeTrue())
		Expect(b.Unmap()).To(MatchError(compute.ErrBufferDestroyed))
	})
})

var _ = Describe("Upload", func() {
	var (
		gpu      *compute.Context
		resident *compute.BodyBuffers[compute.Resident]
		faulty   atomic.Value
	)

	BeforeEach(func() {
		faulty.Store("")
		var err error
		gpu, err = compute.NewContext(compute.Options{
			Workers:  4,
			MapFault: func(label string) bool { return label == faulty.Load().(string) },
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(gpu.Close)

		resident, err = compute.NewResident(gpu.Device, 5)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resident.Destroy)
	})

	It("round-trips body data exactly", func() {
		data := sampleBodies(5)
		Expect(compute.Upload(gpu, resident, data)).To(Succeed())

		got, err := compute.Read(gpu, resident)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Positions).To(Equal(data.Positions))
		Expect(got.Velocities).To(Equal(data.Velocities))
		Expect(got.Masses).To(Equal(data.Masses))
	})

	It("waits for all three write callbacks", func() {
		barrier := &countingBarrier{}
		Expect(compute.UploadWith(gpu, resident, sampleBodies(5), barrier)).To(Succeed())
		Expect(barrier.calls).To(Equal(1))
		Expect(barrier.observed).To(BeEquivalentTo(3))
	})

	It("rejects diverging lengths without touching the target", func() {
		original := sampleBodies(5)
		Expect(compute.Upload(gpu, resident, original)).To(Succeed())

		bad := sampleBodies(5)
		bad.Velocities = bad.Velocities[:4]
		err := compute.Upload(gpu, resident, bad)
		Expect(err).To(MatchError(dynamo.ErrLengthMismatch))
		var le *dynamo.LengthError
		Expect(errors.As(err, &le)).To(BeTrue())
		Expect(le.Velocities).To(Equal(4))

		err = compute.Upload(gpu, resident, sampleBodies(6))
		Expect(err).To(MatchError(dynamo.ErrLengthMismatch))

		got, err := compute.Read(gpu, resident)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Positions).To(Equal(original.Positions))
		Expect(got.Velocities).To(Equal(original.Velocities))
	})

	It("fails the transfer when a mapping request fails", func() {
		original := sampleBodies(5)
		Expect(compute.Upload(gpu, resident, original)).To(Succeed())

		faulty.Store("mappable/velocities")
		changed := sampleBodies(5)
		changed.Positions[0][0] = 42
		err := compute.Upload(gpu, resident, changed)
		Expect(err).To(MatchError(compute.ErrMappingFailed))

		faulty.Store("")
		got, err := compute.Read(gpu, resident)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Positions).To(Equal(original.Positions))
	})

	It("fails after the context is closed", func() {
		gpu.Close()
		Expect(compute.Upload(gpu, resident, sampleBodies(5))).To(MatchError(compute.ErrDeviceClosed))
	})

	It("exposes the staging completion counter", func() {
		staging, err := compute.NewMappable(gpu.Device, 5)
		Expect(err).NotTo(HaveOccurred())
		defer staging.Destroy()

		Expect(compute.WriteAsync(staging, sampleBodies(5))).To(Succeed())
		Expect(staging.Role().Count()).To(BeEquivalentTo(0))
		Expect(compute.EnsureMappingComplete(gpu.Device, staging)).To(Succeed())
		Expect(staging.Role().Count()).To(BeEquivalentTo(3))
		Expect(staging.Positions.MapState()).To(Equal(compute.MapStateMapped))
		Expect(staging.Unmap()).To(Succeed())
	})
})

var _ = Describe("CommandEncoder", func() {
	var gpu *compute.Context

	BeforeEach(func() {
		var err error
		gpu, err = compute.NewContext(compute.Options{Workers: 2})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(gpu.Close)
	})

	It("reports usage violations from Finish", func() {
		resident, err := compute.NewResident(gpu.Device, 2)
		Expect(err).NotTo(HaveOccurred())
		staging, err := compute.NewMappable(gpu.Device, 2)
		Expect(err).NotTo(HaveOccurred())

		enc := gpu.Device.CreateCommandEncoder("bad copy")
		enc.CopyBufferToBuffer(resident.Positions, 0, staging.Positions, 0, 32)
		_, err = enc.Finish()
		var ue *compute.UsageError
		Expect(errors.As(err, &ue)).To(BeTrue())
		Expect(ue.Need).To(Equal("CopyDst"))

		enc = gpu.Device.CreateCommandEncoder("bad draw")
		rp := enc.BeginRenderPass(&recorder{})
		rp.SetVertexBuffer(staging.Positions)
		rp.End()
		_, err = enc.Finish()
		Expect(err).To(MatchError(compute.ErrInvalidUsage))
	})

	It("requires passes to end before Finish", func() {
		enc := gpu.Device.CreateCommandEncoder("open")
		enc.BeginComputePass()
		_, err := enc.Finish()
		Expect(err).To(MatchError(compute.ErrEncoderLocked))
	})

	It("refuses mapped buffers and resubmission", func() {
		staging, err := compute.NewMappable(gpu.Device, 1)
		Expect(err).NotTo(HaveOccurred())
		resident, err := compute.NewResident(gpu.Device, 1)
		Expect(err).NotTo(HaveOccurred())

		Expect(compute.WriteAsync(staging, dynamo.NewBodies(1))).To(Succeed())
		Expect(compute.EnsureMappingComplete(gpu.Device, staging)).To(Succeed())

		enc := gpu.Device.CreateCommandEncoder("copy")
		enc.CopyBufferToBuffer(staging.Masses, 0, resident.Masses, 0, 4)
		cmd, err := enc.Finish()
		Expect(err).NotTo(HaveOccurred())
		Expect(gpu.Queue.Submit(cmd)).To(MatchError(compute.ErrBufferInUse))

		Expect(staging.Unmap()).To(Succeed())
		Expect(gpu.Queue.Submit(cmd)).To(Succeed())
		Expect(gpu.Queue.Submit(cmd)).To(MatchError(compute.ErrCommandBufferUsed))
	})
})

var _ = Describe("Dispatcher", func() {
	const (
		dt = float32(1.0 / 60.0)
		g  = float32(2e-5)
	)

	var gpu *compute.Context

	BeforeEach(func() {
		var err error
		gpu, err = compute.NewContext(compute.Options{Workers: 4})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(gpu.Close)
	})

	run := func(host *dynamo.Bodies, frames int, target compute.RenderTarget) *dynamo.Bodies {
		resident, err := compute.NewResident(gpu.Device, host.Len())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resident.Destroy)
		Expect(compute.Upload(gpu, resident, host)).To(Succeed())

		d, err := compute.NewDispatcher(gpu, resident)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(d.Release)

		for i := 0; i < frames; i++ {
			Expect(d.Frame(dt, g, target)).To(Succeed())
		}
		out, err := compute.Read(gpu, resident)
		Expect(err).NotTo(HaveOccurred())
		return out
	}

	It("matches the reference tick on the seven-body configuration", func() {
		want := galaxy.UnitPoints()
		got := run(galaxy.UnitPoints(), 1, nil)
		physics.Tick(want, dt, g)

		Expect(got.Positions).To(Equal(want.Positions))
		Expect(got.Velocities).To(Equal(want.Velocities))
		Expect(got.Masses).To(Equal(want.Masses))
	})

	It("matches the reference tick over many frames of a galaxy", func() {
		p := galaxy.DefaultParams()
		p.Count = 150
		want, err := galaxy.Generate(p, galaxy.NewSource(5))
		Expect(err).NotTo(HaveOccurred())

		got := run(want.Clone(), 10, nil)
		for i := 0; i < 10; i++ {
			physics.Tick(want, dt, g)
		}
		Expect(got.Positions).To(Equal(want.Positions))
		Expect(got.Velocities).To(Equal(want.Velocities))
	})

	It("draws the updated positions in the same submission", func() {
		rec := &recorder{}
		got := run(galaxy.UnitPoints(), 2, rec)
		Expect(rec.frames).To(HaveLen(2))
		Expect(rec.last()).To(Equal(got.Positions))
	})

	It("rejects a non-positive step", func() {
		resident, err := compute.NewResident(gpu.Device, 2)
		Expect(err).NotTo(HaveOccurred())
		d, err := compute.NewDispatcher(gpu, resident)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Frame(0, g, nil)).To(MatchError(dynamo.ErrInvalidParameter))
	})
})
