package sensor

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeDevice creates a fake IIO device directory.
func writeDevice(t *testing.T, root, dev, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, dev)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "name"), []byte(name+"\n"), 0o644))
	for f, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte(content), 0o644))
	}
	return dir
}

func TestIIOReaderRead(t *testing.T) {
	dir := writeDevice(t, t.TempDir(), "iio:device0", DriverName, map[string]string{
		tempFile:     "22100\n",
		humidityFile: "48700\n",
	})

	r, err := NewIIOReader(dir)
	require.NoError(t, err)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	m, err := r.Read()
	require.NoError(t, err)
	assert.InDelta(t, 22.1, m.Temperature, 1e-9)
	assert.InDelta(t, 48.7, m.Humidity, 1e-9)
	assert.Equal(t, fixed, m.Time)
	assert.NoError(t, r.Close())
}

func TestIIOReaderNegativeTemperature(t *testing.T) {
	dir := writeDevice(t, t.TempDir(), "iio:device0", DriverName, map[string]string{
		tempFile:     "-5300",
		humidityFile: "91000",
	})
	r, err := NewIIOReader(dir)
	require.NoError(t, err)

	m, err := r.Read()
	require.NoError(t, err)
	assert.InDelta(t, -5.3, m.Temperature, 1e-9)
}

func TestIIOReaderMissingDevice(t *testing.T) {
	_, err := NewIIOReader(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestIIOReaderGarbageIsChecksumError(t *testing.T) {
	dir := writeDevice(t, t.TempDir(), "iio:device0", DriverName, map[string]string{
		tempFile:     "garbage",
		humidityFile: "50000",
	})
	r, err := NewIIOReader(dir)
	require.NoError(t, err)

	_, err = r.Read()
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "read temperature", se.Op)
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestIIOReaderRecoversAfterFailure(t *testing.T) {
	dir := writeDevice(t, t.TempDir(), "iio:device0", DriverName, map[string]string{
		tempFile: "21000",
	})
	r, err := NewIIOReader(dir)
	require.NoError(t, err)

	_, err = r.Read()
	require.ErrorIs(t, err, ErrNoResponse, "humidity channel missing")

	require.NoError(t, os.WriteFile(filepath.Join(dir, humidityFile), []byte("40000"), 0o644))
	m, err := r.Read()
	require.NoError(t, err)
	assert.InDelta(t, 21.0, m.Temperature, 1e-9)
	assert.InDelta(t, 40.0, m.Humidity, 1e-9)
}

func TestFindDevice(t *testing.T) {
	root := t.TempDir()
	writeDevice(t, root, "iio:device0", "mcp3008", nil)
	want := writeDevice(t, root, "iio:device1", DriverName, nil)

	got, err := FindDevice(root)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFindDeviceNone(t *testing.T) {
	root := t.TempDir()
	writeDevice(t, root, "iio:device0", "mcp3008", nil)

	_, err := FindDevice(root)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		in   error
		want error
	}{
		{&os.PathError{Op: "read", Path: "x", Err: syscall.ETIMEDOUT}, ErrTimeout},
		{&os.PathError{Op: "read", Path: "x", Err: syscall.EIO}, ErrChecksum},
		{&os.PathError{Op: "open", Path: "x", Err: os.ErrNotExist}, ErrNoResponse},
	}
	for _, tt := range tests {
		got := classify(tt.in)
		assert.ErrorIs(t, got, tt.want)
		assert.ErrorIs(t, got, tt.in, "errno kept in chain")
	}

	other := errors.New("other")
	assert.Equal(t, other, classify(other))
}

func TestFakeReaderScript(t *testing.T) {
	f := NewFakeReader(
		Sample{Temperature: 20, Humidity: 40},
		Sample{Err: ErrChecksum},
		Sample{Temperature: 25, Humidity: 45},
	)

	m, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, 20.0, m.Temperature)

	_, err = f.Read()
	require.ErrorIs(t, err, ErrChecksum)

	m, err = f.Read()
	require.NoError(t, err)
	assert.Equal(t, 25.0, m.Temperature)

	// exhausted: last sample repeats
	m, err = f.Read()
	require.NoError(t, err)
	assert.Equal(t, 25.0, m.Temperature)
	assert.Equal(t, 4, f.Reads)
}

func TestFakeReaderError(t *testing.T) {
	f := NewFakeReader(Sample{Temperature: 20})
	f.ReadError = ErrTimeout

	_, err := f.Read()
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestFakeReaderNoSamples(t *testing.T) {
	_, err := NewFakeReader().Read()
	assert.Error(t, err)
}

func TestFakeReaderCloseReset(t *testing.T) {
	f := NewFakeReader(Sample{Temperature: 1}, Sample{Temperature: 2})
	f.Read()
	require.NoError(t, f.Close())
	assert.True(t, f.Closed)

	f.Reset()
	assert.False(t, f.Closed)
	m, _ := f.Read()
	assert.Equal(t, 1.0, m.Temperature)
}
