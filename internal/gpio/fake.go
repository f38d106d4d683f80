package gpio

// FakeOutput is a test double that records driven values.
type FakeOutput struct {
	// History contains every value passed to Set, in order.
	History []bool

	// On is the current line state.
	On bool

	// Closed tracks if Close was called
	Closed bool

	// SetError, if set, will be returned by Set()
	SetError error
}

// NewFakeOutput creates a FakeOutput that is initially off.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Set records the value.
func (f *FakeOutput) Set(on bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.History = append(f.History, on)
	f.On = on
	return nil
}

// Close marks the output as closed.
func (f *FakeOutput) Close() error {
	f.Closed = true
	return nil
}

// Reset clears recorded history.
func (f *FakeOutput) Reset() {
	f.History = nil
	f.On = false
	f.Closed = false
	f.SetError = nil
}

// Nop is an Output that does nothing, used when no LED is configured.
type Nop struct{}

// Set does nothing.
func (Nop) Set(bool) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }
