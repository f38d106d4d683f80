// Package pwm drives the fan's PWM output.
// The real implementation uses the Linux sysfs PWM interface.
// The fake implementation allows testing without hardware.
package pwm

// MaxDuty is the full-scale duty value accepted by SetDuty.
const MaxDuty = 65535

// DefaultFrequency is the PWM carrier frequency in Hz. 20 kHz is above the
// audible range and within the range accepted by 4-pin PC fans.
const DefaultFrequency = 20000

// Driver sets the duty cycle of one PWM output.
type Driver interface {
	// SetDuty sets the duty cycle, 0 (off) to MaxDuty (full on).
	// Setting the current value again is a no-op.
	SetDuty(duty uint16) error

	// Duty returns the last duty successfully applied.
	Duty() uint16

	// Close stops the output and releases it.
	Close() error
}

// scale converts a 16-bit duty into a fraction of period.
func scale(duty uint16, period uint64) uint64 {
	return period * uint64(duty) / MaxDuty
}
