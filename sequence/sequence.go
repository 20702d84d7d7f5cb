// Package sequence holds the in-memory model of a move sequence for a
// Gemini motor drive: parabolic point-to-point moves grouped into
// blocks that can be looped, with rest pauses between moves.
package sequence

import "fmt"

// Move is a single point-to-point motion. The drive accelerates from
// rest at Accel up to MaxVelocity (or the peak it can reach if Distance
// is too short), then decelerates at Decel back to rest.
//
// The sign of Distance gives the direction. Decel of 0 means "use the
// acceleration value"; the drive applies that substitution itself in
// program mode, while profile compilation has to spell it out (see the
// compiler package).
type Move struct {
	Distance    float64 `yaml:"distance"`
	MaxVelocity float64 `yaml:"max_velocity"`
	Accel       float64 `yaml:"accel"`
	Decel       float64 `yaml:"decel"`
}

// Block is a group of moves executed Iterations times in a row.
// WaitTimes[i] is the pause in seconds, at rest, after Moves[i] and
// before the next move (0 = no pause). Both slices must have the same
// length.
type Block struct {
	Iterations int       `yaml:"iterations"`
	Moves      []Move    `yaml:"moves"`
	WaitTimes  []float64 `yaml:"wait_times"`
}

// Sequence is an ordered list of blocks, executed strictly in order.
// It is the unit of compilation and of time estimation.
type Sequence []Block

// ValidationError describes a structural problem in a sequence. Block
// and Move locate the offending element; Move is -1 for block-level
// problems.
type ValidationError struct {
	Block  int
	Move   int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Move < 0 {
		return fmt.Sprintf("block %d: %s", e.Block, e.Reason)
	}
	return fmt.Sprintf("block %d, move %d: %s", e.Block, e.Move, e.Reason)
}

// Validate checks the structural invariants of the sequence. It
// returns a *ValidationError describing the first problem found, or
// nil. Compilation and time estimation refuse to start on an invalid
// sequence, so nothing is ever partially emitted.
func (s Sequence) Validate() error {
	for bi, block := range s {
		if block.Iterations < 1 {
			return &ValidationError{Block: bi, Move: -1,
				Reason: fmt.Sprintf("iterations must be >= 1, got %d", block.Iterations)}
		}
		if len(block.Moves) == 0 {
			return &ValidationError{Block: bi, Move: -1, Reason: "block has no moves"}
		}
		if len(block.WaitTimes) != len(block.Moves) {
			return &ValidationError{Block: bi, Move: -1,
				Reason: fmt.Sprintf("wait_times length %d does not match moves length %d",
					len(block.WaitTimes), len(block.Moves))}
		}
		for wi, w := range block.WaitTimes {
			if w < 0 {
				return &ValidationError{Block: bi, Move: wi,
					Reason: fmt.Sprintf("wait time must be >= 0, got %g", w)}
			}
		}
		for mi, m := range block.Moves {
			if m.Distance == 0 {
				return &ValidationError{Block: bi, Move: mi, Reason: "distance must be nonzero"}
			}
			if m.MaxVelocity <= 0 {
				return &ValidationError{Block: bi, Move: mi,
					Reason: fmt.Sprintf("max velocity must be > 0, got %g", m.MaxVelocity)}
			}
			if m.Accel <= 0 {
				return &ValidationError{Block: bi, Move: mi,
					Reason: fmt.Sprintf("acceleration must be > 0, got %g", m.Accel)}
			}
			if m.Decel < 0 {
				return &ValidationError{Block: bi, Move: mi,
					Reason: fmt.Sprintf("deceleration must be >= 0, got %g", m.Decel)}
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the sequence. Conversions and
// compilation work on copies so the caller's sequence is never
// touched.
func (s Sequence) Clone() Sequence {
	out := make(Sequence, len(s))
	for i, block := range s {
		out[i] = Block{
			Iterations: block.Iterations,
			Moves:      append([]Move(nil), block.Moves...),
			WaitTimes:  append([]float64(nil), block.WaitTimes...),
		}
	}
	return out
}
