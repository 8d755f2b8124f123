package physics

import (
	"time"

	"github.com/san-kum/nbodysim/internal/dynamo"
)

// TickObserver receives the wall time of each tick.
type TickObserver func(bodies int, elapsed time.Duration)

// Integrator runs the reference tick, serial or row-parallel.
type Integrator struct {
	Parallel bool
	observe  TickObserver
}

func NewIntegrator(parallel bool) *Integrator {
	return &Integrator{Parallel: parallel}
}

// Observe installs a timing hook; nil disables it.
func (it *Integrator) Observe(fn TickObserver) {
	it.observe = fn
}

func (it *Integrator) Name() string {
	if it.Parallel {
		return "host-parallel"
	}
	return "host"
}

func (it *Integrator) Step(b *dynamo.Bodies, dt, g float32) {
	start := time.Now()
	if it.Parallel {
		TickParallel(b, dt, g)
	} else {
		Tick(b, dt, g)
	}
	if it.observe != nil {
		it.observe(b.Len(), time.Since(start))
	}
}
