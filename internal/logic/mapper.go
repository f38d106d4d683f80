package logic

import "math"

// Compute maps a temperature to a fan drive level using
// raw = trunc(slope*temperature + offset).
//
// The product is truncated toward zero (not rounded to nearest) so that the
// boundaries at duty 0 and MaxDuty are identical on every platform. Results
// outside the int64 range saturate. A NaN result maps to zero duty.
func Compute(temperature, slope, offset float64) DriveLevel {
	raw := truncate(slope*temperature + offset)

	duty := raw
	if duty < 0 {
		duty = 0
	} else if duty > MaxDuty {
		duty = MaxDuty
	}

	level := LevelOf(uint16(duty))
	level.Raw = raw
	return level
}

// LevelOf returns the drive level of an applied duty.
func LevelOf(duty uint16) DriveLevel {
	return DriveLevel{
		Raw:     int64(duty),
		Duty:    duty,
		Percent: int(duty) * 100 / MaxDuty,
	}
}

// ComputeWith is Compute with the coefficients taken from p.
func ComputeWith(temperature float64, p Params) DriveLevel {
	return Compute(temperature, p.Slope, p.Offset)
}

func truncate(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(math.Trunc(v))
}
