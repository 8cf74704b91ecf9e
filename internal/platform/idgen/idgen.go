// Package idgen generates identifiers for payments, refunds and orders.
package idgen

import (
	"errors"
	"sync/atomic"
)

var (
	ErrInvalidNodeID       = errors.New("node ID must be between 0 and 1023")
	ErrClockMovedBackwards = errors.New("clock moved backwards, refusing to generate ID")
	ErrSequenceExhausted   = errors.New("sequence exhausted and clock did not advance")
)

type Generator interface {
	Generate() (int64, error)
}

// Sequence hands out consecutive ids. Safe for concurrent use.
type Sequence struct {
	last atomic.Int64
}

// NewSequence returns a generator whose first id is start+1.
func NewSequence(start int64) *Sequence {
	s := &Sequence{}
	s.last.Store(start)
	return s
}

func (s *Sequence) Generate() (int64, error) {
	return s.last.Add(1), nil
}
