package pwm

// FakeDriver records duty writes for test assertions.
type FakeDriver struct {
	// Writes contains every duty that reached the "hardware",
	// excluding no-op repeats.
	Writes []uint16

	// SetError, if set, will be returned by SetDuty.
	SetError error

	// Closed tracks if Close was called.
	Closed bool

	duty    uint16
	applied bool
}

// NewFakeDriver creates a FakeDriver at zero duty.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{}
}

// SetDuty records the duty.
func (f *FakeDriver) SetDuty(duty uint16) error {
	if f.SetError != nil {
		return f.SetError
	}
	if f.applied && duty == f.duty {
		return nil
	}
	f.duty = duty
	f.applied = true
	f.Writes = append(f.Writes, duty)
	return nil
}

// Duty returns the last applied duty.
func (f *FakeDriver) Duty() uint16 {
	return f.duty
}

// Close marks the driver closed and zeroes the duty.
func (f *FakeDriver) Close() error {
	f.Closed = true
	f.duty = 0
	return nil
}
