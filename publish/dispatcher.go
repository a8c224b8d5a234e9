package publish

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/binrelay/binrelay/cfg"
	"github.com/binrelay/binrelay/relay"
	"github.com/binrelay/binrelay/telemetry"
)

type namedSink struct {
	name string
	sink Sink
}

// Dispatcher serializes records and delivers each one to every configured
// sink before accepting the next, preserving emission order end to end. A
// failed delivery aborts the record and propagates to the processor, which
// stops rather than publish out of order.
type Dispatcher struct {
	sinks      []namedSink
	serializer *Serializer
}

// NewDispatcher builds sinks for each configuration block.
func NewDispatcher(configs []cfg.SinkConfiguration) (*Dispatcher, error) {
	d := &Dispatcher{
		sinks:      make([]namedSink, 0, len(configs)),
		serializer: NewSerializer(),
	}

	for _, config := range configs {
		snk, err := createSink(config)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to create sink %q: %w", config.Name, err)
		}
		d.sinks = append(d.sinks, namedSink{name: config.Name, sink: snk})
		log.Info().Str("sink", config.Name).Str("type", config.Type).Msg("Added sink")
	}

	return d, nil
}

// Record implements relay.Recorder.
func (d *Dispatcher) Record(rec relay.Record) error {
	key, err := d.serializer.SerializeKey(rec)
	if err != nil {
		return err
	}
	value, err := d.serializer.SerializeValue(rec)
	if err != nil {
		return err
	}

	for _, s := range d.sinks {
		if err := s.sink.Publish(rec.Topic, key, value); err != nil {
			telemetry.PublishFailuresTotal.With(s.name).Inc()
			return fmt.Errorf("sink %q failed to publish to %s: %w", s.name, rec.Topic, err)
		}
		telemetry.PublishedTotal.With(s.name).Inc()
	}
	return nil
}

// Close releases every sink. Errors are logged, not returned: shutdown
// proceeds regardless.
func (d *Dispatcher) Close() {
	for _, s := range d.sinks {
		if err := s.sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", s.name).Msg("Failed to close sink")
		}
	}
	d.sinks = nil
}
