// Package control runs the fan control loop: it polls for parameter updates,
// keeps the broker connection alive and samples the sensor on a fixed cadence
// to drive the fan.
package control

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sweeney/picofan/internal/gpio"
	"github.com/sweeney/picofan/internal/logic"
	"github.com/sweeney/picofan/internal/mqtt"
	"github.com/sweeney/picofan/internal/pwm"
	"github.com/sweeney/picofan/internal/sensor"
	"github.com/sweeney/picofan/internal/status"
)

// State is the loop's current activity.
type State int32

const (
	Idle State = iota
	Polling
	Sampling
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Polling:
		return "POLLING"
	case Sampling:
		return "SAMPLING"
	case Reconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Connection is the part of the MQTT manager the loop drives.
type Connection interface {
	PollInbound() error
	Reconnect(ctx context.Context) error
}

// Telemetry publishes one cycle's results.
type Telemetry interface {
	Publish(m logic.Measurement, d logic.DriveLevel) error
}

// Config holds the sampling cadence.
type Config struct {
	FirstSample    time.Duration
	SampleInterval time.Duration
}

// DefaultConfig returns a first sample after 5s and one every 30s after that.
func DefaultConfig() Config {
	return Config{
		FirstSample:    5 * time.Second,
		SampleInterval: 30 * time.Second,
	}
}

// Deps are the collaborators of a Loop. LED and Log are optional.
type Deps struct {
	Sensor    sensor.Reader
	Fan       pwm.Driver
	LED       gpio.Output
	Conn      Connection
	Params    *logic.ParameterStore
	Telemetry Telemetry
	Topics    mqtt.Topics
	Tracker   *status.Tracker
	Log       *slog.Logger
}

// Loop is the control loop. Run, Step and HandleMessage must be called from
// a single goroutine; State may be read from any goroutine.
type Loop struct {
	Deps
	cfg Config
	now func() time.Time

	state      atomic.Int32
	nextSample time.Time
}

// New creates an idle Loop.
func New(cfg Config, deps Deps) *Loop {
	if deps.LED == nil {
		deps.LED = gpio.Nop{}
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultConfig().SampleInterval
	}
	return &Loop{Deps: deps, cfg: cfg, now: time.Now}
}

// State returns the current loop state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	if State(l.state.Swap(int32(s))) != s {
		l.Tracker.SetLoopState(s.String())
	}
}

// Run services ticks until ctx is cancelled, then returns nil.
func (l *Loop) Run(ctx context.Context, tick <-chan time.Time) error {
	l.begin()
	defer l.setState(Idle)

	l.Log.Info("control loop started",
		"first_sample", l.cfg.FirstSample, "interval", l.cfg.SampleInterval)
	for {
		select {
		case <-ctx.Done():
			l.Log.Info("control loop stopped", "reason", ctx.Err())
			return nil
		case <-tick:
			l.Step(ctx)
		}
	}
}

func (l *Loop) begin() {
	l.nextSample = l.now().Add(l.cfg.FirstSample)
	l.setState(Polling)
}

// Step runs one tick: poll or reconnect, then sample if a sample is due.
// Sampling happens whatever the connection state. Driven directly without
// Run, the first Step samples.
func (l *Loop) Step(ctx context.Context) {
	if l.State() == Reconnecting {
		l.reconnect(ctx)
	} else if err := l.Conn.PollInbound(); err != nil {
		l.Log.Warn("inbound poll failed, reconnecting", "err", err)
		l.setState(Reconnecting)
		l.reconnect(ctx)
	}

	now := l.now()
	if now.Before(l.nextSample) {
		return
	}
	l.sample()

	l.nextSample = l.nextSample.Add(l.cfg.SampleInterval)
	if !l.nextSample.After(now) {
		// fell behind (long reconnect); don't burst
		l.nextSample = now.Add(l.cfg.SampleInterval)
	}
}

func (l *Loop) reconnect(ctx context.Context) {
	if err := l.Conn.Reconnect(ctx); err != nil {
		if ctx.Err() == nil {
			l.Log.Warn("reconnect failed, retrying next tick", "err", err)
		}
		return
	}
	l.Tracker.RecordReconnect()
	l.setState(Polling)
}

// sample runs one acquisition cycle with the LED lit. A failed read holds
// the previous duty; a failed SetDuty publishes the duty still applied.
func (l *Loop) sample() {
	prev := l.State()
	l.setState(Sampling)
	defer l.setState(prev)

	if err := l.LED.Set(true); err != nil {
		l.Log.Warn("led on failed", "err", err)
	}
	defer func() {
		if err := l.LED.Set(false); err != nil {
			l.Log.Warn("led off failed", "err", err)
		}
	}()

	m, err := l.Sensor.Read()
	if err != nil {
		l.Log.Warn("sensor read failed, holding duty", "err", err, "duty", l.Fan.Duty())
		l.Tracker.RecordSensorError()
		return
	}

	p := l.Params.Snapshot()
	level := logic.ComputeWith(m.Temperature, p)
	if err := l.Fan.SetDuty(level.Duty); err != nil {
		l.Log.Error("set duty failed", "duty", level.Duty, "err", err)
		// report what the fan is actually running at
		level = logic.LevelOf(l.Fan.Duty())
	}
	l.Log.Info("cycle",
		"temperature", m.Temperature,
		"humidity", m.Humidity,
		"duty", level.Duty,
		"percent", level.Percent)

	if err := l.Telemetry.Publish(m, level); err != nil {
		l.Log.Warn("telemetry publish failed", "err", err)
		l.Tracker.RecordPublishError()
	}
	l.Tracker.RecordCycle(m, level, p)
}

// HandleMessage applies an inbound parameter update. Payloads that do not
// parse are logged and leave the parameters unchanged.
func (l *Loop) HandleMessage(msg mqtt.Message) {
	log := l.Log.With("topic", msg.Topic, "payload", string(msg.Payload))
	channel, ok := l.Topics.Channel(msg.Topic)
	if !ok {
		log.Debug("ignoring message outside prefix")
		return
	}

	var update func(string) (float64, error)
	switch channel {
	case mqtt.ChannelSlope:
		update = l.Params.UpdateSlope
	case mqtt.ChannelOffset:
		update = l.Params.UpdateOffset
	default:
		log.Debug("ignoring message")
		return
	}

	v, err := update(string(msg.Payload))
	if err != nil {
		log.Warn("rejected parameter update", "err", err)
		l.Tracker.RecordParseError()
		return
	}
	log.Info("parameter updated", "value", v, "retained", msg.Retained, "duplicate", msg.Duplicate)
	l.Tracker.RecordParams(l.Params.Snapshot())
}
