package metrics

import (
	"math"

	"github.com/san-kum/nbodysim/internal/dynamo"
)

// Stability is the fraction of observations in which every body was finite
// and inside the escape radius.
type Stability struct {
	name       string
	threshold  float64
	violations int
	samples    int
}

func NewStability(threshold float64) *Stability {
	return &Stability{
		name:      "stability",
		threshold: threshold,
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(b *dynamo.Bodies, t float64) {
	s.samples++
	if !b.IsFinite() {
		s.violations++
		return
	}
	for _, p := range b.Positions {
		r := math.Sqrt(float64(p[0])*float64(p[0]) + float64(p[1])*float64(p[1]) + float64(p[2])*float64(p[2]))
		if r > s.threshold {
			s.violations++
			break
		}
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}
