package pwm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// SysfsDriver drives /sys/class/pwm/pwmchipN/pwmM
// (dtoverlay=pwm on a Raspberry Pi).
type SysfsDriver struct {
	dir      string
	periodNs uint64
	duty     uint16
	applied  bool
}

// exportWait bounds how long we wait for udev to create the channel
// directory after an export.
var exportWait = 2 * time.Second

// NewSysfsDriver exports channel on chipDir (e.g. /sys/class/pwm/pwmchip0),
// programs the period for freqHz and enables the output at zero duty.
func NewSysfsDriver(chipDir string, channel, freqHz int) (*SysfsDriver, error) {
	if freqHz <= 0 {
		return nil, fmt.Errorf("pwm: invalid frequency %d Hz", freqHz)
	}
	dir := filepath.Join(chipDir, fmt.Sprintf("pwm%d", channel))
	if err := export(chipDir, dir, channel); err != nil {
		return nil, err
	}

	d := &SysfsDriver{
		dir:      dir,
		periodNs: uint64(time.Second) / uint64(freqHz),
	}

	// duty_cycle must never exceed period, so zero it before changing period.
	if err := d.write("duty_cycle", 0); err != nil {
		return nil, err
	}
	if err := d.write("period", d.periodNs); err != nil {
		return nil, err
	}
	if err := d.write("enable", 1); err != nil {
		return nil, err
	}
	d.applied = true
	return d, nil
}

func export(chipDir, dir string, channel int) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	if err := os.WriteFile(filepath.Join(chipDir, "export"), []byte(strconv.Itoa(channel)), 0o644); err != nil {
		return fmt.Errorf("pwm: export channel %d: %w", channel, err)
	}
	deadline := time.Now().Add(exportWait)
	for {
		if _, err := os.Stat(dir); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("pwm: channel %d not exported under %s", channel, chipDir)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Period returns the programmed PWM period.
func (d *SysfsDriver) Period() time.Duration {
	return time.Duration(d.periodNs)
}

// SetDuty writes the duty cycle, scaled to the period.
func (d *SysfsDriver) SetDuty(duty uint16) error {
	if d.applied && duty == d.duty {
		return nil
	}
	if err := d.write("duty_cycle", scale(duty, d.periodNs)); err != nil {
		return err
	}
	d.duty = duty
	d.applied = true
	return nil
}

// Duty returns the last applied duty.
func (d *SysfsDriver) Duty() uint16 {
	return d.duty
}

// Close stops the fan signal and disables the channel.
// The channel stays exported so a restart does not race udev.
func (d *SysfsDriver) Close() error {
	var errs []error
	if err := d.write("duty_cycle", 0); err != nil {
		errs = append(errs, err)
	}
	if err := d.write("enable", 0); err != nil {
		errs = append(errs, err)
	}
	d.duty = 0
	return errors.Join(errs...)
}

func (d *SysfsDriver) write(attr string, v uint64) error {
	path := filepath.Join(d.dir, attr)
	if err := os.WriteFile(path, []byte(strconv.FormatUint(v, 10)), 0o644); err != nil {
		return fmt.Errorf("pwm: write %s: %w", attr, err)
	}
	return nil
}
