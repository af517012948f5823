// Package outputs defines the plugin-facing contract for C3 (Redis, AMQP,
// Socket, GELF, Screen) and a name-keyed registry, mirroring plugins/inputs.
package outputs

import (
	"fmt"

	"github.com/wharfinger/wharfinger/internal/config"
	"github.com/wharfinger/wharfinger/internal/logging"
)

// Sink is the push(envelope) -> ok|fail contract (spec §4.3). Every output
// plugin's concrete type satisfies routing.Sink structurally through this
// same method set, without importing package routing.
type Sink interface {
	Push(envelope []byte) error
	Name() string
}

// Factory builds one fresh Sink instance from an `output { <kind> { ... } }`
// block. Called once per worker per configured output, since output
// connection state is never shared across workers (spec §7).
type Factory func(cfg *config.OutputConfig, log logging.Logger) (Sink, error)

var registry = map[string]Factory{}

// Add registers a Factory under kind, called from each plugin package's
// init().
func Add(kind string, f Factory) {
	registry[kind] = f
}

// Get looks up the Factory registered for kind.
func Get(kind string) (Factory, error) {
	f, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown output kind %q", kind)
	}
	return f, nil
}
