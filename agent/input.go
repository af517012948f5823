package agent

import (
	"time"

	"github.com/wharfinger/wharfinger/internal/envelope"
	"github.com/wharfinger/wharfinger/plugins/inputs"
)

// Input is the scheduling engine's view of one configured input: its
// plugin-specific puller, the envelope source metadata the encoder needs,
// and the bookkeeping the engine's tick loop owns (spec §3 "Input
// descriptor"). Filtering (skip/grep) is kind-specific behavior and lives
// inside the file tailer itself, not here. Glob discoveries are deduped on
// their path (Engine.bound), so no separate bound identifier is kept here.
type Input struct {
	Kind string
	Path string // the path/pattern this input was declared (or discovered) with

	Puller inputs.Puller
	Source *envelope.Source

	NextTick       time.Time
	RemoveOnErrors bool // retired on a null pull; set for glob discoveries
	destroy        bool
}

// newInput wraps a freshly spawned puller with its routing/encoding
// metadata.
func newInput(kind, path string, puller inputs.Puller, src *envelope.Source, removeOnErrors bool) *Input {
	return &Input{
		Kind:           kind,
		Path:           path,
		Puller:         puller,
		Source:         src,
		RemoveOnErrors: removeOnErrors,
	}
}

// markDestroy flags the input for retirement at the start of the next tick
// (spec §4.6 step 2).
func (in *Input) markDestroy() { in.destroy = true }
