package dynamo

import (
	"fmt"
	"math"
)

// Vec4 is a 3D vector padded to 16 bytes; W is the homogeneous component.
type Vec4 [4]float32

// Bodies is the host-resident body store. Index i of each field describes
// the same body.
type Bodies struct {
	Positions  []Vec4
	Velocities []Vec4
	Masses     []float32
}

// NewBodies allocates n bodies at the origin with unit mass and zero velocity.
func NewBodies(n int) *Bodies {
	b := &Bodies{
		Positions:  make([]Vec4, n),
		Velocities: make([]Vec4, n),
		Masses:     make([]float32, n),
	}
	for i := 0; i < n; i++ {
		b.Positions[i][3] = 1
		b.Masses[i] = 1
	}
	return b
}

// Len returns the body count. Diverging field lengths are a logic error.
func (b *Bodies) Len() int {
	n := len(b.Masses)
	if len(b.Positions) != n || len(b.Velocities) != n {
		panic(b.lengthError(-1))
	}
	return n
}

// Validate reports whether the field lengths agree.
func (b *Bodies) Validate() error {
	return b.ValidateLen(-1)
}

// ValidateLen reports whether the field lengths agree with each other and,
// when want >= 0, with want.
func (b *Bodies) ValidateLen(want int) error {
	n := len(b.Masses)
	if len(b.Positions) != n || len(b.Velocities) != n || (want >= 0 && n != want) {
		return b.lengthError(want)
	}
	return nil
}

func (b *Bodies) lengthError(want int) *LengthError {
	return &LengthError{
		Positions:  len(b.Positions),
		Velocities: len(b.Velocities),
		Masses:     len(b.Masses),
		Want:       want,
	}
}

func (b *Bodies) Clone() *Bodies {
	c := &Bodies{
		Positions:  make([]Vec4, len(b.Positions)),
		Velocities: make([]Vec4, len(b.Velocities)),
		Masses:     make([]float32, len(b.Masses)),
	}
	copy(c.Positions, b.Positions)
	copy(c.Velocities, b.Velocities)
	copy(c.Masses, b.Masses)
	return c
}

// Momentum returns the total linear momentum Σ m·v, accumulated in float64.
func (b *Bodies) Momentum() [3]float64 {
	var p [3]float64
	for i := 0; i < b.Len(); i++ {
		m := float64(b.Masses[i])
		for k := 0; k < 3; k++ {
			p[k] += m * float64(b.Velocities[i][k])
		}
	}
	return p
}

func (b *Bodies) TotalMass() float64 {
	sum := 0.0
	for _, m := range b.Masses {
		sum += float64(m)
	}
	return sum
}

// IsFinite reports whether every position and velocity component is finite.
func (b *Bodies) IsFinite() bool {
	for i := 0; i < b.Len(); i++ {
		for k := 0; k < 3; k++ {
			p := float64(b.Positions[i][k])
			v := float64(b.Velocities[i][k])
			if math.IsNaN(p) || math.IsInf(p, 0) || math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func (b *Bodies) String() string {
	return fmt.Sprintf("Bodies(n=%d, mass=%.3f)", len(b.Masses), b.TotalMass())
}

// Metric observes the body store once per frame.
type Metric interface {
	Name() string
	Observe(b *Bodies, t float64)
	Value() float64
	Reset()
}
