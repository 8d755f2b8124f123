package metrics

import (
	"math"

	"github.com/san-kum/nbodysim/internal/dynamo"
	"github.com/san-kum/nbodysim/internal/physics"
)

// MomentumDrift tracks how far total momentum wanders from its value at the
// first observation. Value is the largest |P(t) - P(0)| seen.
type MomentumDrift struct {
	name     string
	initial  [3]float64
	current  float64
	maxDrift float64
	samples  int
	history  []float64
}

func NewMomentumDrift() *MomentumDrift {
	return &MomentumDrift{name: "momentum_drift"}
}

func (m *MomentumDrift) Name() string { return m.name }

func (m *MomentumDrift) Observe(b *dynamo.Bodies, t float64) {
	p := b.Momentum()
	if m.samples == 0 {
		m.initial = p
	}
	m.samples++

	dx, dy, dz := p[0]-m.initial[0], p[1]-m.initial[1], p[2]-m.initial[2]
	m.current = math.Sqrt(dx*dx + dy*dy + dz*dz)
	m.maxDrift = math.Max(m.maxDrift, m.current)
	m.history = append(m.history, m.current)
}

func (m *MomentumDrift) Value() float64 { return m.maxDrift }

// History is the drift at every observation.
func (m *MomentumDrift) History() []float64 { return m.history }

func (m *MomentumDrift) Reset() {
	m.initial = [3]float64{}
	m.current = 0
	m.maxDrift = 0
	m.samples = 0
	m.history = nil
}

// EnergyDrift tracks the relative change in total energy, |E - E0| / |E0|.
type EnergyDrift struct {
	name          string
	g             float64
	initialEnergy float64
	currentEnergy float64
	maxDrift      float64
	samples       int
	history       []float64
}

func NewEnergyDrift(g float64) *EnergyDrift {
	return &EnergyDrift{
		name: "energy_drift",
		g:    g,
	}
}

func (e *EnergyDrift) Name() string { return e.name }

func (e *EnergyDrift) Observe(b *dynamo.Bodies, t float64) {
	energy := physics.Energy(b, e.g)

	if e.samples == 0 {
		e.initialEnergy = energy
	}

	e.currentEnergy = energy
	e.samples++

	drift := 0.0
	if e.initialEnergy != 0 {
		drift = math.Abs(energy-e.initialEnergy) / math.Abs(e.initialEnergy)
		e.maxDrift = math.Max(e.maxDrift, drift)
	}
	e.history = append(e.history, drift)
}

func (e *EnergyDrift) Value() float64 {
	return e.maxDrift
}

func (e *EnergyDrift) Current() float64 { return e.currentEnergy }

func (e *EnergyDrift) History() []float64 { return e.history }

func (e *EnergyDrift) Reset() {
	e.initialEnergy = 0
	e.currentEnergy = 0
	e.maxDrift = 0
	e.samples = 0
	e.history = nil
}
