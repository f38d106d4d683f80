// Package mqtt owns the MQTT session: connection lifecycle, subscriptions,
// inbound message queueing and publishing, with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultPrefix is the topic prefix shared by every channel.
const DefaultPrefix = "picofan"

// Channels, relative to the topic prefix.
const (
	ChannelSlope       = "input/slope"
	ChannelOffset      = "input/offset"
	ChannelTemperature = "output/temperature"
	ChannelHumidity    = "output/humidity"
	ChannelDutyPercent = "output/duty_percent"
	ChannelSystem      = "system"
)

// Topics builds full topic names from channels.
type Topics struct {
	Prefix string
}

// Topic returns the full topic for channel.
func (t Topics) Topic(channel string) string {
	if t.Prefix == "" {
		return channel
	}
	return strings.TrimSuffix(t.Prefix, "/") + "/" + channel
}

// Channel strips the prefix from topic. It reports false for topics outside
// the prefix.
func (t Topics) Channel(topic string) (string, bool) {
	if t.Prefix == "" {
		return topic, true
	}
	return strings.CutPrefix(topic, strings.TrimSuffix(t.Prefix, "/")+"/")
}

// Inputs returns the topics the daemon subscribes to.
func (t Topics) Inputs() []string {
	return []string{t.Topic(ChannelSlope), t.Topic(ChannelOffset)}
}

// Message is an inbound MQTT message.
type Message struct {
	Topic     string
	Payload   []byte
	Retained  bool
	Duplicate bool
}

// Session is one MQTT client session. Implementations are driven from a
// single goroutine; Receive never blocks.
type Session interface {
	// Connect opens the session. It may be called again after Disconnect.
	Connect() error

	// Subscribe subscribes to topic at QoS 0. Subscribing to a topic that is
	// already subscribed replaces the subscription.
	Subscribe(topic string) error

	// Publish sends payload to topic.
	Publish(topic string, payload []byte, retained bool) error

	// Receive returns the messages queued since the last call. A transport
	// failure since the last call is reported as an error.
	Receive() ([]Message, error)

	// Disconnect closes the session. Errors can be ignored.
	Disconnect() error

	// IsConnected reports whether the session is open.
	IsConnected() bool
}

// ErrNotConnected is returned when an operation needs an open session.
var ErrNotConnected = errors.New("not connected")

// SessionError reports a transport failure of the session. The connection
// manager recovers from it by reconnecting.
type SessionError struct {
	Op  string // "connect", "subscribe", "receive"
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("mqtt %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// PublishError reports a failed publish. Callers log it and continue.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("mqtt publish %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// NetworkTimeoutError reports that the network did not come up in time.
// It is fatal at startup.
type NetworkTimeoutError struct {
	Timeout time.Duration
}

func (e *NetworkTimeoutError) Error() string {
	return fmt.Sprintf("network not associated after %v", e.Timeout)
}

// SystemPayload is the payload for simple system events that do not carry a
// full status snapshot (the last will).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Event string `json:"event"`
}

// WillPayload returns the retained last-will payload published by the broker
// when the daemon drops off without a clean shutdown.
func WillPayload() []byte {
	data, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{Event: "OFFLINE"}})
	return data
}
