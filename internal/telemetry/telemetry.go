// Package telemetry formats and emits the per-cycle measurements.
package telemetry

import (
	"errors"
	"strconv"

	"github.com/sweeney/picofan/internal/logic"
	"github.com/sweeney/picofan/internal/mqtt"
)

// Sink sends a payload to a topic. *mqtt.Manager implements it.
type Sink interface {
	Publish(topic string, payload []byte) error
}

// Publisher emits temperature, humidity and duty percent on their channels.
type Publisher struct {
	sink   Sink
	topics mqtt.Topics
}

// New creates a Publisher writing to sink under topics.
func New(sink Sink, topics mqtt.Topics) *Publisher {
	return &Publisher{sink: sink, topics: topics}
}

// Publish emits one cycle's telemetry. Every channel is attempted even if an
// earlier one fails; the failures are joined.
func (p *Publisher) Publish(m logic.Measurement, d logic.DriveLevel) error {
	var errs []error
	for _, out := range []struct {
		channel string
		payload string
	}{
		{mqtt.ChannelTemperature, FormatDecimal(m.Temperature)},
		{mqtt.ChannelHumidity, FormatDecimal(m.Humidity)},
		{mqtt.ChannelDutyPercent, strconv.Itoa(d.Percent)},
	} {
		if err := p.sink.Publish(p.topics.Topic(out.channel), []byte(out.payload)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FormatDecimal renders a measurement with one decimal, the resolution of
// DHT22 sensors.
func FormatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
