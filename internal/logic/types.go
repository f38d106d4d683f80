// Package logic contains the pure control logic of the fan driver.
// This package has NO external dependencies (no GPIO, PWM, MQTT or OS access).
// Time is always carried in values, never read from a clock.
package logic

import "time"

// MaxDuty is the full-scale PWM duty value (16-bit).
const MaxDuty = 65535

// Default transfer function coefficients. With these, the fan starts at
// 22 °C and reaches full speed at about 34 °C.
const (
	DefaultSlope  = 5500.0
	DefaultOffset = -121000.0
)

// Params holds the two coefficients of the linear temperature-to-duty
// transfer function: duty = Slope*temperature + Offset.
type Params struct {
	Slope  float64
	Offset float64
}

// DefaultParams returns the coefficients used at process start.
func DefaultParams() Params {
	return Params{Slope: DefaultSlope, Offset: DefaultOffset}
}

// Measurement is a single sensor acquisition.
type Measurement struct {
	Temperature float64 // °C
	Humidity    float64 // % relative
	Time        time.Time
}

// DriveLevel is the fan drive derived from a measurement.
type DriveLevel struct {
	// Raw is the unclamped transfer function result, truncated toward zero.
	Raw int64
	// Duty is Raw saturated into [0, MaxDuty].
	Duty uint16
	// Percent is floor(100*Duty/MaxDuty).
	Percent int
}
