package dynamo

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"
)

func TestNewBodies(t *testing.T) {
	b := NewBodies(4)
	if b.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", b.Len())
	}
	for i := 0; i < 4; i++ {
		if b.Masses[i] != 1 {
			t.Errorf("mass[%d] = %v, want 1", i, b.Masses[i])
		}
		if b.Positions[i][3] != 1 {
			t.Errorf("position[%d].w = %v, want 1", i, b.Positions[i][3])
		}
	}
}

func TestBodies_ValidateLen(t *testing.T) {
	tests := []struct {
		name    string
		p, v, m int
		want    int
		wantErr bool
	}{
		{"equal", 5, 5, 5, -1, false},
		{"equal with count", 5, 5, 5, 5, false},
		{"short velocities", 5, 4, 5, -1, true},
		{"short masses", 5, 5, 3, -1, true},
		{"count mismatch", 5, 5, 5, 6, true},
		{"empty", 0, 0, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Bodies{
				Positions:  make([]Vec4, tt.p),
				Velocities: make([]Vec4, tt.v),
				Masses:     make([]float32, tt.m),
			}
			err := b.ValidateLen(tt.want)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateLen() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			if !errors.Is(err, ErrLengthMismatch) {
				t.Errorf("error %v does not wrap ErrLengthMismatch", err)
			}
			var le *LengthError
			if !errors.As(err, &le) {
				t.Fatalf("error %T is not a *LengthError", err)
			}
			if le.Positions != tt.p || le.Velocities != tt.v || le.Masses != tt.m {
				t.Errorf("LengthError = %+v", le)
			}
		})
	}
}

func TestBodies_LenPanicsOnMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for diverging lengths")
		}
	}()
	b := &Bodies{Positions: make([]Vec4, 2), Velocities: make([]Vec4, 1), Masses: make([]float32, 2)}
	b.Len()
}

func TestBodies_Clone(t *testing.T) {
	b := NewBodies(2)
	b.Positions[0] = Vec4{1, 2, 3, 1}
	c := b.Clone()

	c.Positions[0][0] = 99
	c.Masses[1] = 7
	if b.Positions[0][0] != 1 || b.Masses[1] != 1 {
		t.Error("Clone did not create independent copy")
	}
}

func TestBodies_Momentum(t *testing.T) {
	b := NewBodies(2)
	b.Masses[0], b.Masses[1] = 2, 3
	b.Velocities[0] = Vec4{1, 0, 0, 0}
	b.Velocities[1] = Vec4{0, -1, 2, 0}

	p := b.Momentum()
	want := [3]float64{2, -3, 6}
	for k := range want {
		if math.Abs(p[k]-want[k]) > 1e-12 {
			t.Errorf("Momentum()[%d] = %v, want %v", k, p[k], want[k])
		}
	}
	if b.TotalMass() != 5 {
		t.Errorf("TotalMass() = %v, want 5", b.TotalMass())
	}
}

func TestBodies_IsFinite(t *testing.T) {
	tests := []struct {
		name  string
		value float32
		valid bool
	}{
		{"normal", 1.5, true},
		{"zero", 0, true},
		{"NaN", float32(math.NaN()), false},
		{"+Inf", float32(math.Inf(1)), false},
		{"-Inf", float32(math.Inf(-1)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBodies(3)
			b.Velocities[2][1] = tt.value
			if got := b.IsFinite(); got != tt.valid {
				t.Errorf("IsFinite() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestParallelFor_CoversRange(t *testing.T) {
	for _, n := range []int{0, 1, 7, 64, 1001} {
		seen := make([]int32, n)
		ParallelForWorkers(n, 4, 8, func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&seen[i], 1)
			}
		})
		for i, c := range seen {
			if c != 1 {
				t.Fatalf("n=%d: index %d visited %d times", n, i, c)
			}
		}
	}
}
