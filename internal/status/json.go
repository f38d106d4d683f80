package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Loop          string       `json:"loop"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Params        ParamsJSON   `json:"params"`
	Last          *CycleJSON   `json:"last_cycle,omitempty"`
	Counts        CountsJSON   `json:"counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	State  string `json:"state"`
	Broker string `json:"broker"`
}

// ParamsJSON is the JSON representation of the transfer coefficients.
type ParamsJSON struct {
	Slope  float64 `json:"slope"`
	Offset float64 `json:"offset"`
}

// CycleJSON is the last successful sampling cycle.
type CycleJSON struct {
	Timestamp   string  `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Raw         int64   `json:"raw"`
	Duty        uint16  `json:"duty"`
	DutyPercent int     `json:"duty_percent"`
}

// CountsJSON is the JSON representation of loop counters.
type CountsJSON struct {
	Cycles        int `json:"cycles"`
	SensorErrors  int `json:"sensor_errors"`
	PublishErrors int `json:"publish_errors"`
	ParamUpdates  int `json:"param_updates"`
	ParseErrors   int `json:"parse_errors"`
	Reconnects    int `json:"reconnects"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Interface string `json:"interface"`
	IP        string `json:"ip"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	SampleMs    int64  `json:"sample_ms"`
	Broker      string `json:"broker"`
	TopicPrefix string `json:"topic_prefix"`
	HTTPAddr    string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Loop:          snap.LoopState,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{State: snap.Connection, Broker: snap.Config.Broker},
		Params:        ParamsJSON{Slope: snap.Params.Slope, Offset: snap.Params.Offset},
		Counts: CountsJSON{
			Cycles:        snap.Counts.Cycles,
			SensorErrors:  snap.Counts.SensorErrors,
			PublishErrors: snap.Counts.PublishErrors,
			ParamUpdates:  snap.Counts.ParamUpdates,
			ParseErrors:   snap.Counts.ParseErrors,
			Reconnects:    snap.Counts.Reconnects,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			SampleMs:    snap.Config.SampleMs,
			Broker:      snap.Config.Broker,
			TopicPrefix: snap.Config.TopicPrefix,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}

	if snap.Measurement != nil && snap.Drive != nil {
		inner.Last = &CycleJSON{
			Timestamp:   snap.Measurement.Time.UTC().Format(time.RFC3339),
			Temperature: snap.Measurement.Temperature,
			Humidity:    snap.Measurement.Humidity,
			Raw:         snap.Drive.Raw,
			Duty:        snap.Drive.Duty,
			DutyPercent: snap.Drive.Percent,
		}
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Interface: snap.Network.Interface,
			IP:        snap.Network.IP,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
