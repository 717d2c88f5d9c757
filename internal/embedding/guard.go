package embedding

import (
	"errors"
	"fmt"
)

// Guard errors are deterministic data errors: retrying the same input cannot
// fix them, so the worker drops the queue row instead of looping.
var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrZeroVector        = errors.New("embedding is the zero vector")
)

// Guard validates provider output before it is written to a target table.
// A provider silently returning the wrong dimension would otherwise fail
// deep inside the insert with an opaque pgvector error.
type Guard struct {
	dimensions int
}

// NewGuard creates a guard for the configured dimension.
func NewGuard(dimensions int) *Guard {
	return &Guard{dimensions: dimensions}
}

// Check validates one embedding vector.
func (g *Guard) Check(vec []float32) error {
	if g.dimensions > 0 && len(vec) != g.dimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), g.dimensions)
	}
	allZero := true
	for _, x := range vec {
		if x != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return ErrZeroVector
	}
	return nil
}
