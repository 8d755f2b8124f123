package sim

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/nbodysim/internal/camera"
	"github.com/san-kum/nbodysim/internal/compute"
	"github.com/san-kum/nbodysim/internal/dynamo"
	"github.com/san-kum/nbodysim/internal/metrics"
)

// Input is one frame's worth of user input. Drag and Scroll are deltas
// accumulated since the previous frame.
type Input struct {
	Elapsed  float64 // seconds since the previous frame
	Drag     [2]float64
	Scroll   [2]float64
	Dragging bool
}

// InputState accumulates pointer deltas between frames.
type InputState struct {
	drag     [2]float64
	scroll   [2]float64
	Dragging bool
}

func (s *InputState) AddDrag(dx, dy float64) {
	s.drag[0] += dx
	s.drag[1] += dy
}

func (s *InputState) AddScroll(delta [2]float64) {
	s.scroll[0] += delta[0]
	s.scroll[1] += delta[1]
}

// Pop returns the accumulated input and clears the deltas.
func (s *InputState) Pop(elapsed float64) Input {
	in := Input{
		Elapsed:  elapsed,
		Drag:     s.drag,
		Scroll:   s.scroll,
		Dragging: s.Dragging,
	}
	s.drag = [2]float64{}
	s.scroll = [2]float64{}
	return in
}

type Config struct {
	Dt float32
	// SampleEvery is the number of frames between metric observations.
	// Zero means every frame.
	SampleEvery int
}

type Result struct {
	Frames     int
	Elapsed    time.Duration
	Times      []float64
	Momentum   []float64 // momentum drift at every sample
	Energy     []float64 // relative energy drift at every sample
	Metrics    map[string]float64
	Final      *dynamo.Bodies
	FirstError error
}

// CameraTarget is a render target that projects through the camera. Frame
// hands it the camera before drawing.
type CameraTarget interface {
	compute.RenderTarget
	SetCamera(c *camera.Camera)
}

type waiter interface {
	Wait()
}

// Simulation drives a backend one frame at a time.
type Simulation struct {
	backend    Backend
	cfg        Config
	Camera     *camera.Camera
	Controls   camera.Controls
	collectors *metrics.Collectors
	log        *zap.Logger

	paused bool
	frames int
}

func New(backend Backend, cfg Config, log *zap.Logger) (*Simulation, error) {
	if !(cfg.Dt > 0) {
		return nil, fmt.Errorf("%w: dt %v", dynamo.ErrInvalidParameter, cfg.Dt)
	}
	if cfg.SampleEvery < 0 {
		return nil, fmt.Errorf("%w: sample interval %d", dynamo.ErrInvalidParameter, cfg.SampleEvery)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Simulation{
		backend:  backend,
		cfg:      cfg,
		Camera:   camera.Default(1),
		Controls: camera.DefaultControls(),
		log:      log,
	}, nil
}

// Instrument reports tick timings and the body count to c.
func (s *Simulation) Instrument(c *metrics.Collectors) {
	s.collectors = c
	if c != nil {
		c.Bodies.Set(float64(s.backend.Len()))
	}
}

func (s *Simulation) Backend() Backend { return s.backend }
func (s *Simulation) Frames() int      { return s.frames }
func (s *Simulation) Paused() bool     { return s.paused }

func (s *Simulation) SetPaused(p bool) { s.paused = p }

// Frame applies input to the camera, advances one tick unless paused, draws
// into target and waits for the frame to be presented.
func (s *Simulation) Frame(in Input, target compute.RenderTarget) error {
	s.Controls.Apply(s.Camera, in.Drag, in.Dragging, in.Scroll, in.Elapsed)
	if ct, ok := target.(CameraTarget); ok {
		ct.SetCamera(s.Camera)
	}

	if !s.paused {
		return s.step(target)
	}
	if target == nil {
		return nil
	}
	if err := s.backend.Draw(target); err != nil {
		return err
	}
	s.present()
	return nil
}

func (s *Simulation) present() {
	if w, ok := s.backend.(waiter); ok {
		w.Wait()
	}
}

// step times one tick. Device work is queued by Step, so the timing
// includes the wait for it to execute.
func (s *Simulation) step(target compute.RenderTarget) error {
	start := time.Now()
	if err := s.backend.Step(s.cfg.Dt, target); err != nil {
		return err
	}
	s.present()
	elapsed := time.Since(start)

	s.frames++
	if s.collectors != nil {
		s.collectors.ObserveTick(s.backend.Name(), elapsed)
	}
	s.log.Debug("physics tick",
		zap.String("backend", s.backend.Name()),
		zap.Int("bodies", s.backend.Len()),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

// Reset replaces the bodies and restarts the frame count.
func (s *Simulation) Reset(b *dynamo.Bodies) error {
	if err := s.backend.Reset(b); err != nil {
		return err
	}
	s.frames = 0
	s.log.Info("bodies reset", zap.Int("bodies", b.Len()))
	return nil
}

// Run advances frames ticks without drawing. Cancelling ctx stops the loop
// between frames and returns the partial result with ctx.Err().
func (s *Simulation) Run(ctx context.Context, frames int, extra ...dynamo.Metric) (*Result, error) {
	if frames < 0 {
		return nil, fmt.Errorf("%w: frames %d", dynamo.ErrInvalidParameter, frames)
	}
	every := s.cfg.SampleEvery
	if every == 0 {
		every = 1
	}

	snap, err := s.backend.Snapshot()
	if err != nil {
		return nil, err
	}

	momentum := metrics.NewMomentumDrift()
	energy := metrics.NewEnergyDrift(float64(s.backend.Gravitation()))
	observers := append([]dynamo.Metric{momentum, energy}, extra...)
	for _, m := range observers {
		m.Reset()
	}

	result := &Result{Metrics: make(map[string]float64)}
	start := time.Now()
	finish := func() {
		result.Elapsed = time.Since(start)
		result.Final = snap
		result.Momentum = momentum.History()
		result.Energy = energy.History()
		for _, m := range observers {
			result.Metrics[m.Name()] = m.Value()
		}
	}
	observe := func(b *dynamo.Bodies) {
		t := float64(s.frames) * float64(s.cfg.Dt)
		for _, m := range observers {
			m.Observe(b, t)
		}
		result.Times = append(result.Times, t)
	}
	observe(snap)

	for i := 0; i < frames; i++ {
		select {
		case <-ctx.Done():
			finish()
			return result, ctx.Err()
		default:
		}

		if err := s.step(nil); err != nil {
			finish()
			return result, err
		}
		result.Frames++

		if (i+1)%every != 0 && i != frames-1 {
			continue
		}
		snap, err = s.backend.Snapshot()
		if err != nil {
			finish()
			return result, err
		}
		observe(snap)
		if !snap.IsFinite() && result.FirstError == nil {
			result.FirstError = fmt.Errorf("%w at frame %d", dynamo.ErrUnstable, s.frames)
			s.log.Warn("non-finite bodies", zap.Int("frame", s.frames))
		}
	}

	finish()
	s.log.Info("run complete",
		zap.Int("frames", result.Frames),
		zap.Duration("elapsed", result.Elapsed),
		zap.Float64("momentum_drift", momentum.Value()),
	)
	return result, nil
}
