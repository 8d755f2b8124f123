package sim

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/san-kum/nbodysim/internal/compute"
	"github.com/san-kum/nbodysim/internal/dynamo"
	"github.com/san-kum/nbodysim/internal/galaxy"
	"github.com/san-kum/nbodysim/internal/logging"
	"github.com/san-kum/nbodysim/internal/metrics"
)

const testG = 2e-5

type countingTarget struct {
	calls int
	last  []dynamo.Vec4
}

func (c *countingTarget) DrawPoints(points []dynamo.Vec4) {
	c.calls++
	c.last = append(c.last[:0], points...)
}

func newContext(t *testing.T) *compute.Context {
	t.Helper()
	c, err := compute.NewContext(compute.Options{Workers: 4})
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func testBodies(t *testing.T, n int) *dynamo.Bodies {
	t.Helper()
	p := galaxy.DefaultParams()
	p.Count = n
	b, err := galaxy.Generate(p, galaxy.NewSource(11))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestNewBackend(t *testing.T) {
	c := newContext(t)
	b := galaxy.UnitPoints()

	tests := []struct {
		kind string
		ctx  *compute.Context
		want string
	}{
		{KindAuto, c, "device"},
		{KindAuto, nil, "host"},
		{"", nil, "host"},
		{KindHost, c, "host"},
		{KindDevice, c, "device"},
	}
	for _, tt := range tests {
		backend, err := NewBackend(b, BackendOptions{Kind: tt.kind, Context: tt.ctx, G: testG})
		if err != nil {
			t.Fatalf("%s: %v", tt.kind, err)
		}
		if backend.Name() != tt.want {
			t.Errorf("kind %q: got %s, want %s", tt.kind, backend.Name(), tt.want)
		}
		if backend.Len() != 7 {
			t.Errorf("kind %q: len %d", tt.kind, backend.Len())
		}
		backend.Close()
	}
}

func TestNewBackend_Errors(t *testing.T) {
	b := galaxy.UnitPoints()
	if _, err := NewBackend(b, BackendOptions{Kind: "cuda"}); !errors.Is(err, dynamo.ErrInvalidParameter) {
		t.Errorf("unknown kind: %v", err)
	}
	if _, err := NewBackend(b, BackendOptions{Kind: KindDevice}); !errors.Is(err, dynamo.ErrInvalidParameter) {
		t.Errorf("device without context: %v", err)
	}

	bad := dynamo.NewBodies(3)
	bad.Velocities = bad.Velocities[:1]
	if _, err := NewBackend(bad, BackendOptions{Kind: KindHost}); !errors.Is(err, dynamo.ErrLengthMismatch) {
		t.Errorf("mismatched bodies: %v", err)
	}
}

func TestBackends_Agree(t *testing.T) {
	c := newContext(t)
	b := testBodies(t, 96)

	host, err := NewHostBackend(b, testG, false)
	if err != nil {
		t.Fatal(err)
	}
	device, err := NewDeviceBackend(c, b, testG, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer device.Close()

	var ht, dt countingTarget
	for i := 0; i < 5; i++ {
		if err := host.Step(1.0/60, &ht); err != nil {
			t.Fatal(err)
		}
		if err := device.Step(1.0/60, &dt); err != nil {
			t.Fatal(err)
		}
	}
	device.Wait()

	if ht.calls != 5 || dt.calls != 5 {
		t.Fatalf("draw calls host=%d device=%d", ht.calls, dt.calls)
	}
	hs, _ := host.Snapshot()
	ds, err := device.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < b.Len(); i++ {
		if hs.Positions[i] != ds.Positions[i] || hs.Velocities[i] != ds.Velocities[i] {
			t.Fatalf("body %d differs: host %v device %v", i, hs.Positions[i], ds.Positions[i])
		}
		if ht.last[i] != dt.last[i] {
			t.Fatalf("drawn point %d differs", i)
		}
	}
}

func TestHostBackend_SnapshotIsCopy(t *testing.T) {
	b := galaxy.UnitPoints()
	host, _ := NewHostBackend(b, testG, false)

	b.Positions[0][0] = 99
	snap, _ := host.Snapshot()
	if snap.Positions[0][0] == 99 {
		t.Error("backend aliases the caller's bodies")
	}
	snap.Positions[1][0] = 42
	again, _ := host.Snapshot()
	if again.Positions[1][0] == 42 {
		t.Error("snapshot aliases the backend's bodies")
	}
}

func TestBackend_Reset(t *testing.T) {
	c := newContext(t)
	for _, kind := range []string{KindHost, KindDevice} {
		backend, err := NewBackend(galaxy.UnitPoints(), BackendOptions{Kind: kind, Context: c, G: testG})
		if err != nil {
			t.Fatal(err)
		}

		next := galaxy.UnitPoints()
		next.Positions[0] = dynamo.Vec4{0.5, 0.5, 0.5, 1}
		if err := backend.Reset(next); err != nil {
			t.Fatalf("%s: reset: %v", kind, err)
		}
		snap, err := backend.Snapshot()
		if err != nil {
			t.Fatal(err)
		}
		if snap.Positions[0] != next.Positions[0] {
			t.Errorf("%s: reset not applied", kind)
		}

		if err := backend.Reset(dynamo.NewBodies(3)); !errors.Is(err, dynamo.ErrLengthMismatch) {
			t.Errorf("%s: expected ErrLengthMismatch, got %v", kind, err)
		}
		backend.Close()
	}
}

func TestInputState(t *testing.T) {
	var s InputState
	s.AddDrag(3, -1)
	s.AddDrag(1, 1)
	s.AddScroll([2]float64{0, 0.5})
	s.Dragging = true

	in := s.Pop(0.016)
	if in.Drag != [2]float64{4, 0} || in.Scroll != [2]float64{0, 0.5} || !in.Dragging || in.Elapsed != 0.016 {
		t.Errorf("unexpected input %+v", in)
	}
	if again := s.Pop(0.016); again.Drag != [2]float64{} || again.Scroll != [2]float64{} {
		t.Errorf("deltas not cleared: %+v", again)
	}
}

func TestSimulation_Frame(t *testing.T) {
	host, _ := NewHostBackend(galaxy.UnitPoints(), testG, false)
	s, err := New(host, Config{Dt: 1.0 / 60}, nil)
	if err != nil {
		t.Fatal(err)
	}
	col := metrics.NewCollectors()
	s.Instrument(col)

	var target countingTarget
	before := s.Camera.Eye
	in := Input{Elapsed: 0.016, Drag: [2]float64{10, 0}, Dragging: true}
	if err := s.Frame(in, &target); err != nil {
		t.Fatal(err)
	}
	if s.Frames() != 1 || target.calls != 1 {
		t.Errorf("frames=%d draws=%d", s.Frames(), target.calls)
	}
	if s.Camera.Eye == before {
		t.Error("drag did not move the camera")
	}

	s.SetPaused(true)
	if err := s.Frame(Input{Elapsed: 0.016}, &target); err != nil {
		t.Fatal(err)
	}
	if s.Frames() != 1 || target.calls != 2 {
		t.Errorf("paused frame ticked: frames=%d draws=%d", s.Frames(), target.calls)
	}

	if got := testutil.ToFloat64(col.Frames.WithLabelValues("host")); got != 1 {
		t.Errorf("frames counter = %v", got)
	}
	if got := testutil.ToFloat64(col.Bodies); got != 7 {
		t.Errorf("bodies gauge = %v", got)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	host, _ := NewHostBackend(galaxy.UnitPoints(), testG, false)
	if _, err := New(host, Config{}, nil); !errors.Is(err, dynamo.ErrInvalidParameter) {
		t.Errorf("zero dt: %v", err)
	}
	if _, err := New(host, Config{Dt: 0.1, SampleEvery: -1}, nil); !errors.Is(err, dynamo.ErrInvalidParameter) {
		t.Errorf("negative sample interval: %v", err)
	}
}

func TestSimulation_Run(t *testing.T) {
	c := newContext(t)
	for _, kind := range []string{KindHost, KindDevice} {
		t.Run(kind, func(t *testing.T) {
			backend, err := NewBackend(testBodies(t, 64), BackendOptions{Kind: kind, Context: c, G: testG})
			if err != nil {
				t.Fatal(err)
			}
			defer backend.Close()

			s, _ := New(backend, Config{Dt: 1.0 / 60, SampleEvery: 4}, nil)
			stability := metrics.NewStability(100)
			result, err := s.Run(context.Background(), 10, stability)
			if err != nil {
				t.Fatal(err)
			}

			if result.Frames != 10 || s.Frames() != 10 {
				t.Errorf("frames = %d", result.Frames)
			}
			// initial, frame 4, frame 8, last frame
			if len(result.Times) != 4 || len(result.Momentum) != 4 || len(result.Energy) != 4 {
				t.Errorf("samples: times=%d momentum=%d", len(result.Times), len(result.Momentum))
			}
			if result.Metrics["momentum_drift"] > 1e-4 {
				t.Errorf("momentum drift %g", result.Metrics["momentum_drift"])
			}
			if result.Metrics["stability"] != 1 {
				t.Errorf("stability %g", result.Metrics["stability"])
			}
			if result.Final == nil || result.Final.Len() != 64 || result.FirstError != nil {
				t.Errorf("final=%v err=%v", result.Final, result.FirstError)
			}
		})
	}
}

func TestSimulation_RunCancelled(t *testing.T) {
	host, _ := NewHostBackend(galaxy.UnitPoints(), testG, false)
	s, _ := New(host, Config{Dt: 1.0 / 60}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := s.Run(ctx, 100)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.Frames != 0 {
		t.Errorf("ran %d frames after cancel", result.Frames)
	}
}

func TestSimulation_RunUnstable(t *testing.T) {
	b := dynamo.NewBodies(2)
	b.Velocities[1] = dynamo.Vec4{float32(math.Inf(1)), 0, 0, 0}
	host, _ := NewHostBackend(b, testG, false)
	s, _ := New(host, Config{Dt: 1.0 / 60}, nil)

	result, err := s.Run(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(result.FirstError, dynamo.ErrUnstable) {
		t.Errorf("expected ErrUnstable, got %v", result.FirstError)
	}
}

func tickDurationSum(t *testing.T, col *metrics.Collectors, backend string) (sum float64, count uint64) {
	t.Helper()
	families, err := col.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != "nbodysim_tick_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "backend" && l.GetValue() == backend {
					return m.GetHistogram().GetSampleSum(), m.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	t.Fatalf("no tick histogram for %s", backend)
	return 0, 0
}

func TestSimulation_TickDurationCoversExecution(t *testing.T) {
	c := newContext(t)
	for _, kind := range []string{KindHost, KindDevice} {
		t.Run(kind, func(t *testing.T) {
			backend, err := NewBackend(testBodies(t, 400), BackendOptions{Kind: kind, Context: c, G: testG})
			if err != nil {
				t.Fatal(err)
			}
			defer backend.Close()

			s, _ := New(backend, Config{Dt: 1.0 / 60, SampleEvery: 1000}, nil)
			col := metrics.NewCollectors()
			s.Instrument(col)

			const frames = 20
			result, err := s.Run(context.Background(), frames)
			if err != nil {
				t.Fatal(err)
			}

			sum, count := tickDurationSum(t, col, backend.Name())
			elapsed := result.Elapsed.Seconds()
			if count != frames {
				t.Errorf("observed %d ticks, want %d", count, frames)
			}
			// Only the first and last frames are sampled, so ticks dominate
			// the run.
			if sum > elapsed || sum < 0.4*elapsed {
				t.Errorf("tick durations sum to %.4fs over a %.4fs run", sum, elapsed)
			}
		})
	}
}

func TestSimulation_LogsTicksAtDebug(t *testing.T) {
	c := newContext(t)
	for _, kind := range []string{KindHost, KindDevice} {
		t.Run(kind, func(t *testing.T) {
			backend, err := NewBackend(galaxy.UnitPoints(), BackendOptions{Kind: kind, Context: c, G: testG})
			if err != nil {
				t.Fatal(err)
			}
			defer backend.Close()

			var buf bytes.Buffer
			s, _ := New(backend, Config{Dt: 1.0 / 60}, logging.NewWriter(&buf, "debug"))
			var target countingTarget
			if err := s.Frame(Input{Elapsed: 0.016}, &target); err != nil {
				t.Fatal(err)
			}

			var ticks int
			sc := bufio.NewScanner(&buf)
			for sc.Scan() {
				var entry map[string]interface{}
				if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
					t.Fatalf("bad log line %q: %v", sc.Text(), err)
				}
				if entry["msg"] != "physics tick" {
					continue
				}
				ticks++
				if entry["level"] != "debug" || entry["bodies"] != float64(7) || entry["backend"] != backend.Name() {
					t.Errorf("unexpected tick entry %v", entry)
				}
				if _, ok := entry["elapsed"].(string); !ok {
					t.Errorf("missing elapsed in %v", entry)
				}
			}
			if ticks != 1 {
				t.Errorf("logged %d ticks, want 1", ticks)
			}

			buf.Reset()
			s.SetPaused(true)
			if err := s.Frame(Input{Elapsed: 0.016}, &target); err != nil {
				t.Fatal(err)
			}
			if bytes.Contains(buf.Bytes(), []byte("physics tick")) {
				t.Error("paused frame logged a tick")
			}
		})
	}
}
