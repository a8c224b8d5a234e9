// Package publish delivers change records to downstream systems. Sinks
// carry the transport, the serializer renders records as Debezium-style
// JSON with embedded schema, and the dispatcher fans every record out to
// all configured sinks in order.
package publish

import (
	"fmt"
	"sync"

	"github.com/binrelay/binrelay/cfg"
)

// Sink is a destination for serialized records. A nil value is a
// tombstone and must be delivered as such, not dropped.
type Sink interface {
	Publish(topic, key string, value []byte) error
	Close() error
}

// SinkFactory creates a Sink from its configuration block.
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type. Called from init
// functions of the sink implementations.
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}
