// Package sensor reads ambient temperature and humidity.
// The real implementation reads the Linux dht11 IIO driver (DHT11/DHT22).
// The fake implementation allows testing without hardware.
package sensor

import (
	"errors"
	"fmt"

	"github.com/sweeney/picofan/internal/logic"
)

// Transient acquisition failures. A failed read never affects the next one.
var (
	ErrTimeout    = errors.New("bus timeout")
	ErrChecksum   = errors.New("checksum mismatch")
	ErrNoResponse = errors.New("no response")
)

// Reader acquires measurements from one physical sensor.
type Reader interface {
	// Read performs exactly one acquisition cycle. It does not retry.
	// Failures are returned as *Error.
	Read() (logic.Measurement, error)

	// Close releases sensor resources.
	Close() error
}

// Error reports a failed acquisition.
type Error struct {
	Op  string // e.g. "read temperature"
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sensor %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
