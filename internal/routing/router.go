// Package routing implements the type-routing table and per-type stash
// (spec §4.5): mapping an event's type to the outputs bound to it, and
// holding lines an output could not yet accept.
package routing

import (
	"github.com/gobwas/glob"
)

// Sink is the fan-out target: anything that can accept one encoded
// envelope and report whether it was accepted.
type Sink interface {
	// Push attempts to deliver one envelope. A non-nil error is always
	// recoverable per spec §4.3 — the caller stashes the remainder.
	Push(envelope []byte) error
	Name() string
}

// binding is one output's declared type list, compiled into matchers so
// a literal "*" (or any other glob) expands against an event's type at
// route time, per spec §4.5 ("* expanding to match every input type").
type binding struct {
	sink     Sink
	patterns []glob.Glob
}

// Table is the routing table: output bindings, matched against an
// event's type on every push.
type Table struct {
	bindings []binding
}

// NewTable returns an empty routing table; Bind adds (sink, type-list)
// pairs to it.
func NewTable() *Table {
	return &Table{}
}

// Bind registers sink for the given comma-split type patterns (each may
// be a literal type or contain glob metacharacters, "*" alone meaning
// "every type").
func Bind(t *Table, sink Sink, types []string) error {
	b := binding{sink: sink}
	for _, pattern := range types {
		g, err := glob.Compile(pattern)
		if err != nil {
			return err
		}
		b.patterns = append(b.patterns, g)
	}
	t.bindings = append(t.bindings, b)
	return nil
}

// Route returns every sink bound to typ, in registration order.
func (t *Table) Route(typ string) []Sink {
	var sinks []Sink
	for _, b := range t.bindings {
		for _, g := range b.patterns {
			if g.Match(typ) {
				sinks = append(sinks, b.sink)
				break
			}
		}
	}
	return sinks
}

// HasAny reports whether at least one output is bound to typ.
func (t *Table) HasAny(typ string) bool {
	return len(t.Route(typ)) > 0
}

// Fanout pushes envelopes to every sink bound to routeType, independently
// per sink: a sink that fails partway through the batch has its unsent
// suffix stashed under inputType (the input's own type, not routeType —
// spec §4.5 is explicit that the stash key is always the input type) and
// is skipped for the rest of this batch; every other bound sink still
// receives the full batch.
func Fanout(t *Table, stash *Stash, inputType, routeType string, envelopes [][]byte) {
	for _, sink := range t.Route(routeType) {
		for i, env := range envelopes {
			if err := sink.Push(env); err != nil {
				stash.Add(inputType, sink, envelopes[i:])
				break
			}
		}
	}
}
