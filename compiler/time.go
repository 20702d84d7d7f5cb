package compiler

import (
	"fmt"
	"math"

	"github.com/frejanordsiek/GeminiMotorDrive/sequence"
)

// MoveTime computes how long a single move takes, assuming the motor
// starts and ends at rest. Values are in motor units; eres is the
// encoder resolution, which converts the distance (encoder counts)
// into the pitch-based units of velocity and acceleration.
//
// If the distance is long enough, the motor reaches MaxVelocity and
// the velocity profile is a trapezoid: ramp up, cruise, ramp down.
// Otherwise the profile is a triangle that peaks below MaxVelocity.
// A Decel of 0 means the drive mirrors the acceleration, and the
// estimate assumes the same.
func MoveTime(m sequence.Move, eres float64) (float64, error) {
	if eres <= 0 {
		return 0, fmt.Errorf("encoder resolution must be > 0, got %g", eres)
	}
	a := math.Abs(m.Accel)
	v := math.Abs(m.MaxVelocity)
	if a == 0 || v == 0 {
		return 0, fmt.Errorf("move needs nonzero acceleration and velocity")
	}
	ad := math.Abs(m.Decel)
	if ad == 0 {
		ad = a
	}
	d := math.Abs(m.Distance) / eres

	// Time and distance to ramp from rest to v and from v to rest.
	accelTime := v / a
	decelTime := v / ad
	rampDist := 0.5*a*accelTime*accelTime + 0.5*ad*decelTime*decelTime

	if rampDist <= d {
		// Trapezoid: both ramps plus a cruise over the remainder.
		return accelTime + decelTime + (d-rampDist)/v, nil
	}

	// Triangle: the ramps meet at a peak velocity below v. With
	// t = t1 + t2 and a*t1 = ad*t2, the distance constraint
	// d = a*t1^2/2 + ad*t2^2/2 solves to t = sqrt(2d(1 + a/ad)/a).
	return math.Sqrt(2 * d * (1 + a/ad) / a), nil
}

// SequenceTime computes the total execution time of a sequence in
// motor units: per-block, iterations times the sum of move durations
// and wait times. The sequence is validated first.
func SequenceTime(s sequence.Sequence, eres float64) (float64, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}

	total := 0.0
	for _, block := range s {
		blockTime := 0.0
		for _, w := range block.WaitTimes {
			blockTime += w
		}
		for _, m := range block.Moves {
			mt, err := MoveTime(m, eres)
			if err != nil {
				return 0, err
			}
			blockTime += mt
		}
		total += float64(block.Iterations) * blockTime
	}
	return total, nil
}

// SequenceTimePhysical computes the execution time of a sequence in
// physical units. No conversion is needed: the unit scale factors
// cancel between distance and velocity, which is the same as using an
// encoder resolution of 1.
func SequenceTimePhysical(s sequence.Sequence) (float64, error) {
	return SequenceTime(s, 1)
}
