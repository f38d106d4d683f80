// Package status provides a thread-safe status tracker for the picofan daemon.
// It is written by the control loop and read by the HTTP handler and the
// system events published over MQTT.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/picofan/internal/logic"
)

// NetworkInfo describes the link the daemon uses. This is a local copy to
// avoid importing internal/mqtt from status.
type NetworkInfo struct {
	Interface string
	IP        string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	SampleMs    int64
	Broker      string
	TopicPrefix string
	HTTPAddr    string
}

// Counts tracks loop activity since startup.
type Counts struct {
	Cycles        int
	SensorErrors  int
	PublishErrors int
	ParamUpdates  int
	ParseErrors   int
	Reconnects    int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	StartTime  time.Time
	Now        time.Time
	LoopState  string
	Connection string
	Params     logic.Params

	// Last successful cycle; nil before the first one.
	Measurement *logic.Measurement
	Drive       *logic.DriveLevel

	Counts  Counts
	Network *NetworkInfo
	Config  Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, params logic.Params, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime:  startTime,
			Params:     params,
			Config:     cfg,
			LoopState:  "IDLE",
			Connection: "DISCONNECTED",
		},
	}
}

// RecordCycle stores the result of a successful sampling cycle.
func (t *Tracker) RecordCycle(m logic.Measurement, d logic.DriveLevel, p logic.Params) {
	t.mu.Lock()
	t.snap.Measurement = &m
	t.snap.Drive = &d
	t.snap.Params = p
	t.snap.Counts.Cycles++
	t.mu.Unlock()
}

// RecordSensorError counts a skipped cycle.
func (t *Tracker) RecordSensorError() {
	t.mu.Lock()
	t.snap.Counts.SensorErrors++
	t.mu.Unlock()
}

// RecordPublishError counts a failed telemetry publish.
func (t *Tracker) RecordPublishError() {
	t.mu.Lock()
	t.snap.Counts.PublishErrors++
	t.mu.Unlock()
}

// RecordParams stores parameters after an accepted update.
func (t *Tracker) RecordParams(p logic.Params) {
	t.mu.Lock()
	t.snap.Params = p
	t.snap.Counts.ParamUpdates++
	t.mu.Unlock()
}

// RecordParseError counts a rejected parameter payload.
func (t *Tracker) RecordParseError() {
	t.mu.Lock()
	t.snap.Counts.ParseErrors++
	t.mu.Unlock()
}

// RecordReconnect counts a successful reconnect.
func (t *Tracker) RecordReconnect() {
	t.mu.Lock()
	t.snap.Counts.Reconnects++
	t.mu.Unlock()
}

// SetConnection sets the MQTT connection state.
func (t *Tracker) SetConnection(state string) {
	t.mu.Lock()
	t.snap.Connection = state
	t.mu.Unlock()
}

// SetLoopState sets the control loop state.
func (t *Tracker) SetLoopState(state string) {
	t.mu.Lock()
	t.snap.LoopState = state
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
