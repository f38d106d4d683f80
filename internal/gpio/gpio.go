// Package gpio drives digital outputs with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Output drives a single digital output line, such as the activity LED.
type Output interface {
	// Set drives the line: true = on.
	Set(on bool) error

	// Close releases GPIO resources.
	Close() error
}

// Defaults (BCM numbering)
const (
	DefaultChip   = "gpiochip0"
	DefaultLEDPin = 17 // activity LED
)
