// Package galaxy builds initial conditions for the simulation: a randomly
// sampled rotating disc and a fixed seven-point test configuration.
package galaxy

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/san-kum/nbodysim/internal/dynamo"
)

// Params describes a disc galaxy.
type Params struct {
	MaxRadius float64
	MaxPhi    float64 // largest out-of-plane angle, radians, at most pi/2
	Count     int
	Up        r3.Vec // disc normal, need not be unit length
	G         float64
}

// DefaultParams matches the interactive viewer's startup galaxy.
func DefaultParams() Params {
	return Params{
		MaxRadius: 1,
		MaxPhi:    0.1,
		Count:     2000,
		Up:        r3.Vec{X: 0, Y: 0, Z: 1},
		G:         2e-5,
	}
}

func (p Params) Validate() error {
	switch {
	case p.Count <= 0:
		return fmt.Errorf("%w: count %d", dynamo.ErrInvalidParameter, p.Count)
	case !(p.MaxRadius > 0):
		return fmt.Errorf("%w: max radius %v", dynamo.ErrInvalidParameter, p.MaxRadius)
	case p.MaxPhi < 0 || p.MaxPhi > math.Pi/2 || math.IsNaN(p.MaxPhi):
		return fmt.Errorf("%w: max phi %v", dynamo.ErrInvalidParameter, p.MaxPhi)
	case r3.Norm(p.Up) == 0:
		return fmt.Errorf("%w: zero up vector", dynamo.ErrInvalidParameter)
	case p.G < 0:
		return fmt.Errorf("%w: gravitation constant %v", dynamo.ErrInvalidParameter, p.G)
	}
	return nil
}

// Sample is the raw draw behind one generated body.
type Sample struct {
	Radius float64
	Theta  float64
	Phi    float64
}

// Generate samples p.Count bodies. Body 0 is a heavy core at the origin.
func Generate(p Params, src rand.Source) (*dynamo.Bodies, error) {
	b, _, err := GenerateWithSamples(p, src)
	return b, err
}

// GenerateWithSamples is Generate that also returns the per-body draws.
func GenerateWithSamples(p Params, src rand.Source) (*dynamo.Bodies, []Sample, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}

	up := r3.Unit(p.Up)
	rAxis := radialAxis(up)
	phiAxis := r3.Unit(r3.Cross(up, rAxis))

	unit := distuv.Uniform{Min: 0, Max: 1, Src: src}
	angle := distuv.Uniform{Min: 0, Max: 2 * math.Pi, Src: src}
	tilt := distuv.Uniform{Min: -p.MaxPhi, Max: p.MaxPhi, Src: src}

	b := dynamo.NewBodies(p.Count)
	samples := make([]Sample, p.Count)
	mass := float64(p.Count)

	for i := 0; i < p.Count; i++ {
		// Cube root spreads bodies evenly by volume rather than by radius.
		r := math.Cbrt(unit.Rand()) * p.MaxRadius
		theta := angle.Rand()
		phi := tilt.Rand()
		phi *= math.Sqrt(math.Cos(phi))

		spin := r3.NewRotation(theta, up)
		dir := spin.Rotate(r3.NewRotation(phi, phiAxis).Rotate(rAxis))
		pos := r3.Scale(r, dir)

		var vel r3.Vec
		if r > 0 {
			speed := math.Sqrt(p.G*mass/r) * r / p.MaxRadius
			vel = r3.Scale(speed, spin.Rotate(phiAxis))
		}

		b.Positions[i] = dynamo.Vec4{float32(pos.X), float32(pos.Y), float32(pos.Z), 1}
		b.Velocities[i] = dynamo.Vec4{float32(vel.X), float32(vel.Y), float32(vel.Z), 0}
		samples[i] = Sample{Radius: r, Theta: theta, Phi: phi}
	}

	b.Positions[0] = dynamo.Vec4{0, 0, 0, 1}
	b.Velocities[0] = dynamo.Vec4{}
	b.Masses[0] = float32(mass / 8)
	samples[0] = Sample{}

	return b, samples, nil
}

// radialAxis returns a unit vector in the plane orthogonal to up.
func radialAxis(up r3.Vec) r3.Vec {
	if up.Z != 0 {
		return r3.Unit(r3.Vec{X: 1, Y: 1, Z: (up.X + up.Y) / -up.Z})
	}
	// up lies in the xy plane; z is always orthogonal to it.
	return r3.Vec{X: 0, Y: 0, Z: 1}
}

// UnitPoints returns the octahedron vertices plus the origin, all at rest
// with unit mass.
func UnitPoints() *dynamo.Bodies {
	b := dynamo.NewBodies(7)
	copy(b.Positions, []dynamo.Vec4{
		{1, 0, 0, 1},
		{0, 1, 0, 1},
		{-1, 0, 0, 1},
		{0, -1, 0, 1},
		{0, 0, 1, 1},
		{0, 0, -1, 1},
		{0, 0, 0, 1},
	})
	return b
}

// NewSource returns the generator's deterministic source for seed.
func NewSource(seed uint64) rand.Source {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}
