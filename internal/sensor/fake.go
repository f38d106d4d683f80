package sensor

import (
	"errors"
	"time"

	"github.com/sweeney/picofan/internal/logic"
)

// FakeReader is a test double that returns scripted measurements.
type FakeReader struct {
	// Samples contains scripted results. Each call to Read consumes the
	// next sample; the last one repeats once the script is exhausted.
	Samples []Sample

	// ReadError, if set, is returned by every Read.
	ReadError error

	// Reads counts calls to Read.
	Reads int

	// Closed tracks if Close was called.
	Closed bool

	index int
}

// Sample is a single scripted acquisition.
type Sample struct {
	Temperature float64
	Humidity    float64
	Err         error // if set, Read fails with this error wrapped in *Error
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples ...Sample) *FakeReader {
	return &FakeReader{Samples: samples}
}

// Read returns the next scripted sample.
func (f *FakeReader) Read() (logic.Measurement, error) {
	f.Reads++
	if f.ReadError != nil {
		return logic.Measurement{}, &Error{Op: "read", Err: f.ReadError}
	}
	if len(f.Samples) == 0 {
		return logic.Measurement{}, &Error{Op: "read", Err: errors.New("no samples configured")}
	}

	s := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	if s.Err != nil {
		return logic.Measurement{}, &Error{Op: "read", Err: s.Err}
	}
	return logic.Measurement{
		Temperature: s.Temperature,
		Humidity:    s.Humidity,
		Time:        time.Now(),
	}, nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}

// Reset rewinds the script.
func (f *FakeReader) Reset() {
	f.index = 0
	f.Reads = 0
	f.Closed = false
}
