// Package compiler turns a validated move sequence into the ordered
// list of ASCII commands a Gemini drive executes, and predicts how
// long the sequence will take to run.
//
// Two command dialects exist. Program commands are interpreted by the
// drive one at a time and may block (GO1, WAIT, T). Profile commands
// describe buffered motion segments that the drive pre-compiles for
// low-latency execution (GOBUF1, GOWHEN); a stored profile cannot be
// read back. The compiler tracks the parameter values it has already
// emitted and skips commands for unchanged parameters, which is safe
// because the drive keeps the last value it was told until overwritten.
package compiler

import (
	"fmt"

	"github.com/frejanordsiek/GeminiMotorDrive/sequence"
	"github.com/frejanordsiek/GeminiMotorDrive/units"
)

// Mode selects the command dialect to compile for.
type Mode int

const (
	// ModeProgram produces interpreted commands for a drive program
	// or for direct command-line execution.
	ModeProgram Mode = iota
	// ModeProfile produces buffered-motion commands for a drive
	// profile.
	ModeProfile
)

func (m Mode) String() string {
	switch m {
	case ModeProgram:
		return "program"
	case ModeProfile:
		return "profile"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// state is the compiler's record of the last value each motion
// parameter was set to on the drive. It is threaded through the walk
// over the sequence; each Compile call owns a fresh one.
type state struct {
	accel, decel, velocity, distance             float64
	haveAccel, haveDecel, haveVelocity, haveDist bool

	// Final velocity currently programmed for the end of a buffered
	// segment. Profile mode only.
	finalVelocity     float64
	haveFinalVelocity bool
}

func (st *state) reset() {
	*st = state{}
}

// emitter is the mode-specific half of compilation: default
// substitution, the motion command itself, inter-move waits, and loop
// brackets. The shared walk in Compile handles parameter diffing.
type emitter interface {
	substitute(m sequence.Move) sequence.Move
	motion(st *state, m sequence.Move) []string
	wait(seconds float64) string
	loopBegin(iterations int) string
	loopEnd() string
}

// programEmitter emits interpreted commands: a blocking GO1 + WAIT
// pair per move and a T pause for nonzero wait times.
type programEmitter struct{}

func (programEmitter) substitute(m sequence.Move) sequence.Move {
	// The drive itself treats AD0 as "mirror A" when interpreting, so
	// a literal 0 is fine here.
	return m
}

func (programEmitter) motion(st *state, m sequence.Move) []string {
	return []string{"GO1", "WAIT(AS.1=b0)"}
}

func (programEmitter) wait(seconds float64) string {
	return "T" + formatTime(seconds)
}

func (programEmitter) loopBegin(iterations int) string {
	return fmt.Sprintf("L%d", iterations)
}

func (programEmitter) loopEnd() string { return "LN" }

// profileEmitter emits buffered-motion commands. Profiles cannot
// block, so waits become a time-gated condition on the next segment,
// and every segment must explicitly end at zero velocity.
type profileEmitter struct{}

func (profileEmitter) substitute(m sequence.Move) sequence.Move {
	// The profile compiler on the drive has no notion of an
	// unspecified deceleration and silently mirrors the acceleration
	// when given 0. Doing the substitution here keeps the diffing
	// state in step with what the drive will actually use.
	if m.Decel == 0 {
		m.Decel = m.Accel
	}
	return m
}

func (profileEmitter) motion(st *state, m sequence.Move) []string {
	var cmds []string
	if !st.haveFinalVelocity || st.finalVelocity != m.MaxVelocity {
		cmds = append(cmds, "VF0")
		st.finalVelocity = 0
		st.haveFinalVelocity = true
	}
	return append(cmds, "GOBUF1")
}

func (profileEmitter) wait(seconds float64) string {
	return fmt.Sprintf("GOWHEN(T=%d)", int64(seconds*1e3))
}

func (profileEmitter) loopBegin(iterations int) string {
	return fmt.Sprintf("PLOOP%d", iterations)
}

func (profileEmitter) loopEnd() string { return "PLN" }

// Compile builds the command list for a move sequence already in
// motor units. The sequence is validated first and is never mutated;
// on error no commands are returned.
func Compile(s sequence.Sequence, mode Mode) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	var em emitter
	switch mode {
	case ModeProgram:
		em = programEmitter{}
	case ModeProfile:
		em = profileEmitter{}
	default:
		return nil, fmt.Errorf("unknown compilation mode %v", mode)
	}

	var commands []string
	var st state
	for _, block := range s {
		looped := block.Iterations > 1
		if looped {
			// The drive re-executes the bracketed commands natively,
			// so the loop body must set every parameter itself: what
			// held before the loop is not what holds when the body
			// runs again after the last move of an iteration.
			st.reset()
			commands = append(commands, em.loopBegin(block.Iterations))
		}

		for i, move := range block.Moves {
			m := em.substitute(move)
			commands = append(commands, diffParams(&st, m)...)
			commands = append(commands, em.motion(&st, m)...)
			if w := block.WaitTimes[i]; w != 0 {
				commands = append(commands, em.wait(w))
			}
		}

		if looped {
			commands = append(commands, em.loopEnd())
		}
	}
	return commands, nil
}

// CompilePhysical converts the sequence to motor units with conv and
// compiles it.
func CompilePhysical(s sequence.Sequence, mode Mode, conv *units.Converter) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return Compile(conv.ToNative(s), mode)
}

// diffParams emits set commands for the parameters of m that differ
// from the last emitted values, updating st. A parameter is always
// emitted on its first use; an unchanged parameter is never
// re-emitted. A distance that is the exact negation of the last one
// gets the drive's D~ reversal shorthand instead of the literal value.
func diffParams(st *state, m sequence.Move) []string {
	var cmds []string

	if !st.haveAccel || st.accel != m.Accel {
		cmds = append(cmds, "A"+formatParam(m.Accel))
		st.accel = m.Accel
		st.haveAccel = true
	}
	if !st.haveDecel || st.decel != m.Decel {
		cmds = append(cmds, "AD"+formatParam(m.Decel))
		st.decel = m.Decel
		st.haveDecel = true
	}
	if !st.haveVelocity || st.velocity != m.MaxVelocity {
		cmds = append(cmds, "V"+formatParam(m.MaxVelocity))
		st.velocity = m.MaxVelocity
		st.haveVelocity = true
	}
	if !st.haveDist || st.distance != m.Distance {
		if st.haveDist && st.distance == -m.Distance {
			cmds = append(cmds, "D~")
		} else {
			cmds = append(cmds, "D"+formatDistance(m.Distance))
		}
		st.distance = m.Distance
		st.haveDist = true
	}

	return cmds
}
