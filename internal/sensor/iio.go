package sensor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sweeney/picofan/internal/logic"
)

// IIORoot is where the kernel exposes Industrial I/O devices.
const IIORoot = "/sys/bus/iio/devices"

// DriverName is the IIO device name of the kernel DHT11/DHT22 driver.
const DriverName = "dht11"

const (
	tempFile     = "in_temp_input"
	humidityFile = "in_humidityrelative_input"
)

// IIOReader reads a DHT sensor through the Linux dht11 IIO driver
// (dtoverlay=dht11 on a Raspberry Pi). The driver performs the acquisition
// when a channel is read and caches the result for about two seconds, so one
// Read is one acquisition.
type IIOReader struct {
	dir string
	now func() time.Time
}

// NewIIOReader creates a reader for the IIO device directory dir.
// If dir is empty, the first dht11 device under IIORoot is used.
func NewIIOReader(dir string) (*IIOReader, error) {
	if dir == "" {
		found, err := FindDevice(IIORoot)
		if err != nil {
			return nil, err
		}
		dir = found
	}
	if _, err := os.Stat(filepath.Join(dir, tempFile)); err != nil {
		return nil, fmt.Errorf("open iio device %s: %w", dir, err)
	}
	return &IIOReader{dir: dir, now: time.Now}, nil
}

// FindDevice returns the first device directory under root whose name is
// DriverName.
func FindDevice(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("list iio devices: %w", err)
	}
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		name, err := os.ReadFile(filepath.Join(dir, "name"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(name)) == DriverName {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no %s device under %s", DriverName, root)
}

// Dir returns the IIO device directory.
func (r *IIOReader) Dir() string {
	return r.dir
}

// Read returns one measurement.
func (r *IIOReader) Read() (logic.Measurement, error) {
	temp, err := r.readMilli(tempFile)
	if err != nil {
		return logic.Measurement{}, &Error{Op: "read temperature", Err: err}
	}
	hum, err := r.readMilli(humidityFile)
	if err != nil {
		return logic.Measurement{}, &Error{Op: "read humidity", Err: err}
	}
	return logic.Measurement{
		Temperature: temp,
		Humidity:    hum,
		Time:        r.now(),
	}, nil
}

// Close is a no-op; the driver keeps no open handles between reads.
func (r *IIOReader) Close() error {
	return nil
}

// readMilli reads a channel reported in thousandths of its unit.
func (r *IIOReader) readMilli(file string) (float64, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, file))
	if err != nil {
		return 0, classify(err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrChecksum, err)
	}
	return float64(v) / 1000, nil
}

// classify maps the errno values returned by the dht11 driver onto the
// transient sensor errors.
func classify(err error) error {
	switch {
	case errors.Is(err, syscall.ETIMEDOUT):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, syscall.EIO):
		return fmt.Errorf("%w: %w", ErrChecksum, err)
	case errors.Is(err, os.ErrNotExist), errors.Is(err, syscall.ENODEV):
		return fmt.Errorf("%w: %w", ErrNoResponse, err)
	}
	return err
}
