package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for body store operations.
var (
	// ErrLengthMismatch indicates a position/velocity/mass triplet whose lengths disagree.
	ErrLengthMismatch = errors.New("dynamo: length mismatch between body fields")

	// ErrInvalidParameter indicates a parameter value is outside valid range.
	ErrInvalidParameter = errors.New("dynamo: parameter out of valid bounds")

	// ErrUnstable indicates the body store contains NaN or Inf.
	ErrUnstable = errors.New("dynamo: simulation unstable (state diverged)")
)

// LengthError describes a triplet whose field lengths disagree with each other
// or with the declared body count. Want is -1 when no count was declared.
type LengthError struct {
	Positions  int
	Velocities int
	Masses     int
	Want       int
}

func (e *LengthError) Error() string {
	if e.Want < 0 {
		return fmt.Sprintf("%v: positions=%d velocities=%d masses=%d",
			ErrLengthMismatch, e.Positions, e.Velocities, e.Masses)
	}
	return fmt.Sprintf("%v: positions=%d velocities=%d masses=%d, want %d",
		ErrLengthMismatch, e.Positions, e.Velocities, e.Masses, e.Want)
}

func (e *LengthError) Unwrap() error {
	return ErrLengthMismatch
}
