package physics

import (
	"math"

	"github.com/san-kum/nbodysim/internal/dynamo"
)

// InverseSingularityThreshold is K in the singularity guard rinv < K/dt.
const InverseSingularityThreshold float32 = 5e3

// minParallelRows is the body count below which TickParallel stays serial.
const minParallelRows = 64

// GuardLimit returns the largest reciprocal distance a pair may have and
// still contribute at step size dt.
func GuardLimit(dt float32) float32 {
	return InverseSingularityThreshold / dt
}

// PairAcceleration returns the acceleration body i at pi receives from body j
// at pj with mass mj. ok is false when the guard suppresses the pair, which
// includes coincident positions (rinv is +Inf).
func PairAcceleration(pi, pj dynamo.Vec4, mj, g, limit float32) (a [3]float32, ok bool) {
	dx := pj[0] - pi[0]
	dy := pj[1] - pi[1]
	dz := pj[2] - pi[2]

	r2 := dx*dx + dy*dy + dz*dz
	rinv := float32(1 / math.Sqrt(float64(r2)))
	if !(rinv < limit) {
		return a, false
	}

	s := g * mj * rinv * rinv * rinv
	a[0] = s * dx
	a[1] = s * dy
	a[2] = s * dz
	return a, true
}

// Tick advances b by one explicit Euler step under mutual gravitation.
// All velocity updates complete before any position moves.
func Tick(b *dynamo.Bodies, dt, g float32) {
	n := b.Len()
	Accumulate(b, 0, n, dt, g)
	Advance(b, 0, n, dt)
}

// TickParallel produces the same result as Tick with rows spread across
// goroutines. Each row still sums j in ascending order.
func TickParallel(b *dynamo.Bodies, dt, g float32) {
	n := b.Len()
	dynamo.ParallelFor(n, minParallelRows, func(start, end int) {
		Accumulate(b, start, end, dt, g)
	})
	dynamo.ParallelFor(n, minParallelRows, func(start, end int) {
		Advance(b, start, end, dt)
	})
}

// Accumulate applies the pairwise velocity updates for rows [start, end).
// It reads every position and writes only velocities inside the range.
func Accumulate(b *dynamo.Bodies, start, end int, dt, g float32) {
	limit := GuardLimit(dt)
	pos := b.Positions
	for i := start; i < end; i++ {
		pi := pos[i]
		vi := &b.Velocities[i]
		for j := range pos {
			if i == j {
				continue
			}
			a, ok := PairAcceleration(pi, pos[j], b.Masses[j], g, limit)
			if !ok {
				continue
			}
			vi[0] += a[0] * dt
			vi[1] += a[1] * dt
			vi[2] += a[2] * dt
		}
	}
}

// Advance moves positions [start, end) by velocity·dt.
func Advance(b *dynamo.Bodies, start, end int, dt float32) {
	for i := start; i < end; i++ {
		b.Positions[i][0] += b.Velocities[i][0] * dt
		b.Positions[i][1] += b.Velocities[i][1] * dt
		b.Positions[i][2] += b.Velocities[i][2] * dt
	}
}

func KineticEnergy(b *dynamo.Bodies) float64 {
	ke := 0.0
	for i := 0; i < b.Len(); i++ {
		v := b.Velocities[i]
		v2 := float64(v[0])*float64(v[0]) + float64(v[1])*float64(v[1]) + float64(v[2])*float64(v[2])
		ke += 0.5 * float64(b.Masses[i]) * v2
	}
	return ke
}

// PotentialEnergy sums -G·m_i·m_j/r over unordered pairs; coincident pairs are skipped.
func PotentialEnergy(b *dynamo.Bodies, g float64) float64 {
	pe := 0.0
	n := b.Len()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dx := float64(b.Positions[j][0] - b.Positions[i][0])
			dy := float64(b.Positions[j][1] - b.Positions[i][1])
			dz := float64(b.Positions[j][2] - b.Positions[i][2])
			r := math.Sqrt(dx*dx + dy*dy + dz*dz)
			if r == 0 {
				continue
			}
			pe -= g * float64(b.Masses[i]) * float64(b.Masses[j]) / r
		}
	}
	return pe
}

func Energy(b *dynamo.Bodies, g float64) float64 {
	return KineticEnergy(b) + PotentialEnergy(b, g)
}
