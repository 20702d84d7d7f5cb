// Package units converts distances, velocities, and accelerations
// between a physical unit system (meters and seconds, or a scaled
// distance unit) and the motor units a Gemini drive expects: encoder
// counts for distance, pitches/s for velocity, and pitches/s^2 for
// acceleration.
package units

import (
	"fmt"
	"math"

	"github.com/frejanordsiek/GeminiMotorDrive/sequence"
)

// Converter holds the two motor constants that fix the unit relations,
// plus the physical distance-unit basis. It is an immutable value:
// every conversion is a pure function of its fields.
//
// ElectricalPitch is the motor's electrical pitch (DMEPIT) in mm, the
// spacing of a full magnetic cycle on a linear motor. EncoderResolution
// (ERES) is in counts per pitch. MetersPerUnit scales the caller's
// distance unit to meters (1 for meters, 0.001 for millimeters); it is
// applied before the drive-specific relations. Time is always in
// seconds and is never converted.
type Converter struct {
	ElectricalPitch   float64
	EncoderResolution float64
	MetersPerUnit     float64
}

// NewConverter builds a Converter, checking that both motor constants
// are positive. metersPerUnit of 0 defaults to 1 (meters).
func NewConverter(electricalPitch, encoderResolution, metersPerUnit float64) (*Converter, error) {
	if electricalPitch <= 0 {
		return nil, fmt.Errorf("electrical pitch must be > 0, got %g", electricalPitch)
	}
	if encoderResolution <= 0 {
		return nil, fmt.Errorf("encoder resolution must be > 0, got %g", encoderResolution)
	}
	if metersPerUnit == 0 {
		metersPerUnit = 1
	}
	if metersPerUnit < 0 {
		return nil, fmt.Errorf("meters per unit must be > 0, got %g", metersPerUnit)
	}
	return &Converter{
		ElectricalPitch:   electricalPitch,
		EncoderResolution: encoderResolution,
		MetersPerUnit:     metersPerUnit,
	}, nil
}

// NativeDistance converts a physical distance to encoder counts.
// Distance is the one quantity that picks up the encoder resolution.
func (c *Converter) NativeDistance(d float64) float64 {
	return d * c.MetersPerUnit * 1e3 * c.EncoderResolution / c.ElectricalPitch
}

// NativeVelocity converts a physical velocity to pitches/s.
func (c *Converter) NativeVelocity(v float64) float64 {
	return v * c.MetersPerUnit * 1e3 / c.ElectricalPitch
}

// NativeAcceleration converts a physical acceleration to pitches/s^2.
// The relation is the same as for velocity.
func (c *Converter) NativeAcceleration(a float64) float64 {
	return c.NativeVelocity(a)
}

// PhysicalDistance converts encoder counts back to the physical
// distance unit.
func (c *Converter) PhysicalDistance(d float64) float64 {
	return d * c.ElectricalPitch / (1e3 * c.EncoderResolution * c.MetersPerUnit)
}

// PhysicalVelocity converts pitches/s back to the physical unit.
func (c *Converter) PhysicalVelocity(v float64) float64 {
	return v * c.ElectricalPitch / (1e3 * c.MetersPerUnit)
}

// PhysicalAcceleration converts pitches/s^2 back to the physical unit.
func (c *Converter) PhysicalAcceleration(a float64) float64 {
	return c.PhysicalVelocity(a)
}

// ToNative returns a deep copy of the sequence with every move
// converted to motor units. Native distances are truncated to whole
// encoder counts, which is what the drive works in. Wait times are in
// seconds and stay untouched.
func (c *Converter) ToNative(s sequence.Sequence) sequence.Sequence {
	out := s.Clone()
	for bi := range out {
		for mi := range out[bi].Moves {
			m := &out[bi].Moves[mi]
			m.Distance = math.Trunc(c.NativeDistance(m.Distance))
			m.MaxVelocity = c.NativeVelocity(m.MaxVelocity)
			m.Accel = c.NativeAcceleration(m.Accel)
			m.Decel = c.NativeAcceleration(m.Decel)
		}
	}
	return out
}

// ToPhysical returns a deep copy of the sequence with every move
// converted from motor units to the physical unit system.
func (c *Converter) ToPhysical(s sequence.Sequence) sequence.Sequence {
	out := s.Clone()
	for bi := range out {
		for mi := range out[bi].Moves {
			m := &out[bi].Moves[mi]
			m.Distance = c.PhysicalDistance(m.Distance)
			m.MaxVelocity = c.PhysicalVelocity(m.MaxVelocity)
			m.Accel = c.PhysicalAcceleration(m.Accel)
			m.Decel = c.PhysicalAcceleration(m.Decel)
		}
	}
	return out
}
