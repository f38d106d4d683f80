// Package config loads the picofan YAML configuration.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/picofan/internal/gpio"
	"github.com/sweeney/picofan/internal/logic"
	"github.com/sweeney/picofan/internal/pwm"
)

// DefaultPath is where the daemon looks for its configuration file.
const DefaultPath = "/etc/picofan/picofan.yaml"

// Config is the daemon configuration.
type Config struct {
	Control   Control   `yaml:"control"`
	Sensor    Sensor    `yaml:"sensor"`
	PWM       PWM       `yaml:"pwm"`
	LED       LED       `yaml:"led"`
	MQTT      MQTT      `yaml:"mqtt"`
	Network   Network   `yaml:"network"`
	Reconnect Reconnect `yaml:"reconnect"`
	HTTP      HTTP      `yaml:"http"`
}

type Control struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	FirstSample    time.Duration `yaml:"first_sample"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	// Initial transfer coefficients, until overridden over MQTT.
	Slope  float64 `yaml:"slope"`
	Offset float64 `yaml:"offset"`
}

type Sensor struct {
	// IIO device directory; empty finds the dht11 device.
	Device string `yaml:"device"`
}

type PWM struct {
	Chip      string `yaml:"chip"`
	Channel   int    `yaml:"channel"`
	Frequency int    `yaml:"frequency"`
}

type LED struct {
	Enabled bool   `yaml:"enabled"`
	Chip    string `yaml:"chip"`
	Pin     int    `yaml:"pin"`
}

type MQTT struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ClientID       string        `yaml:"client_id"`
	KeepAlive      time.Duration `yaml:"keepalive"`
	TLS            bool          `yaml:"tls"`
	TLSSkipVerify  bool          `yaml:"tls_skip_verify"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	QueueSize      int           `yaml:"queue_size"`
}

type Network struct {
	// Interface restricts the association check; empty accepts any.
	Interface    string        `yaml:"interface"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type Reconnect struct {
	Delay      time.Duration `yaml:"delay"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Attempts   int           `yaml:"attempts"`
}

type HTTP struct {
	// Addr is the status server address; empty disables it.
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Control: Control{
			PollInterval:   100 * time.Millisecond,
			FirstSample:    5 * time.Second,
			SampleInterval: 30 * time.Second,
			Slope:          logic.DefaultSlope,
			Offset:         logic.DefaultOffset,
		},
		PWM: PWM{
			Chip:      "/sys/class/pwm/pwmchip0",
			Frequency: pwm.DefaultFrequency,
		},
		LED: LED{
			Enabled: true,
			Chip:    gpio.DefaultChip,
			Pin:     gpio.DefaultLEDPin,
		},
		MQTT: MQTT{
			Host:           "localhost",
			Port:           1883,
			KeepAlive:      60 * time.Second,
			TopicPrefix:    "picofan",
			ConnectTimeout: 10 * time.Second,
			QueueSize:      64,
		},
		Network: Network{
			Timeout:      30 * time.Second,
			PollInterval: 500 * time.Millisecond,
		},
		Reconnect: Reconnect{
			Delay:      time.Second,
			RetryDelay: 2 * time.Second,
			Attempts:   1,
		},
		HTTP: HTTP{Addr: ":8080"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults
// unless required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return cfg, nil
		}
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if err := Decode(f, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads YAML from r into cfg, leaving absent keys untouched.
// Unknown keys are rejected.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d))
		}
	}
	positive("control.poll_interval", c.Control.PollInterval)
	positive("control.sample_interval", c.Control.SampleInterval)
	positive("network.timeout", c.Network.Timeout)
	positive("network.poll_interval", c.Network.PollInterval)
	positive("mqtt.keepalive", c.MQTT.KeepAlive)

	if c.Control.FirstSample < 0 {
		errs = append(errs, fmt.Errorf("control.first_sample must not be negative, got %v", c.Control.FirstSample))
	}
	if c.Reconnect.Delay < 0 || c.Reconnect.RetryDelay < 0 {
		errs = append(errs, errors.New("reconnect delays must not be negative"))
	}
	if c.Reconnect.Attempts < 1 {
		errs = append(errs, fmt.Errorf("reconnect.attempts must be at least 1, got %d", c.Reconnect.Attempts))
	}
	if c.MQTT.Host == "" {
		errs = append(errs, errors.New("mqtt.host is required"))
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		errs = append(errs, fmt.Errorf("mqtt.port out of range: %d", c.MQTT.Port))
	}
	if c.PWM.Frequency <= 0 {
		errs = append(errs, fmt.Errorf("pwm.frequency must be positive, got %d", c.PWM.Frequency))
	}
	if c.PWM.Channel < 0 {
		errs = append(errs, fmt.Errorf("pwm.channel must not be negative, got %d", c.PWM.Channel))
	}
	if c.LED.Enabled && c.LED.Pin < 0 {
		errs = append(errs, fmt.Errorf("led.pin must not be negative, got %d", c.LED.Pin))
	}
	return errors.Join(errs...)
}

// BrokerURL returns the paho broker address.
func (m MQTT) BrokerURL() string {
	scheme := "tcp"
	if m.TLS {
		scheme = "ssl"
	}
	return scheme + "://" + net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// TLSConfig returns the client TLS settings, or nil for plain TCP.
func (m MQTT) TLSConfig() *tls.Config {
	if !m.TLS {
		return nil
	}
	return &tls.Config{
		ServerName:         m.Host,
		InsecureSkipVerify: m.TLSSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
}

// Params returns the initial transfer coefficients.
func (c Control) Params() logic.Params {
	return logic.Params{Slope: c.Slope, Offset: c.Offset}
}
