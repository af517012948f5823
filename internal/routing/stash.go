package routing

import (
	"sync"

	"github.com/wharfinger/wharfinger/internal/logging"
)

// pendingBatch is the suffix of a batch that a sink failed to accept,
// waiting to be retried on a later tick.
type pendingBatch struct {
	sink      Sink
	envelopes [][]byte
}

// Stash holds, per input type, an ordered list of pending batches (spec
// §4.5 "per-type stash"). While a type's list is non-empty, reads for
// that type are suspended by the scheduling engine (§4.6); this package
// only tracks the data, the suspension decision lives in package agent.
type Stash struct {
	mu      sync.Mutex
	log     logging.Logger
	pending map[string][]*pendingBatch
}

// NewStash creates an empty stash.
func NewStash(log logging.Logger) *Stash {
	return &Stash{log: log, pending: make(map[string][]*pendingBatch)}
}

// Add appends a new pending batch for typ. Called when a sink's Push
// fails partway through a batch; envelopes is the unsent suffix.
func (s *Stash) Add(typ string, sink Sink, envelopes [][]byte) {
	if len(envelopes) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var bytes int
	for _, e := range envelopes {
		bytes += len(e)
	}
	s.log.Warnf("stashing %d line(s) (%d bytes) for type %q on output %q",
		len(envelopes), bytes, typ, sink.Name())

	s.pending[typ] = append(s.pending[typ], &pendingBatch{sink: sink, envelopes: envelopes})
}

// Has reports whether typ currently has a non-empty stash.
func (s *Stash) Has(typ string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[typ]) > 0
}

// AnyPending reports whether any type has a non-empty stash — used for
// the back-pressure rule covering inputs whose type is unset (spec §4.5,
// §4.6 step 4: "inputs of unknown type ... suspended whenever any stash
// exists").
func (s *Stash) AnyPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

// Drain re-pushes typ's pending batches in insertion order. On the first
// failed push, the remaining suffix of that batch is put back at the head
// of the list and draining halts for this tick (spec §4.5 drain
// protocol). When the list empties, typ is removed from the stash.
func (s *Stash) Drain(typ string) {
	s.mu.Lock()
	batches := s.pending[typ]
	s.mu.Unlock()

	i := 0
	for i < len(batches) {
		b := batches[i]
		failed := false
		for j, env := range b.envelopes {
			if err := b.sink.Push(env); err != nil {
				s.log.Warnf("drain of type %q halted on output %q: %v", typ, b.sink.Name(), err)
				b.envelopes = b.envelopes[j:]
				failed = true
				break
			}
		}
		if failed {
			break
		}
		i++
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(batches) {
		delete(s.pending, typ)
		return
	}
	s.pending[typ] = batches[i:]
}

// PendingTypes returns every type with a non-empty stash.
func (s *Stash) PendingTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.pending))
	for t := range s.pending {
		types = append(types, t)
	}
	return types
}
