package agent

import (
	"fmt"

	"github.com/wharfinger/wharfinger/internal/config"
	"github.com/wharfinger/wharfinger/internal/envelope"
	"github.com/wharfinger/wharfinger/internal/logging"
	"github.com/wharfinger/wharfinger/plugins/inputs"
)

// groupSpec is the supervisor's view of one process group (spec §3): a
// desired worker count and the input configs it serves. Group 0 is the
// default group, holding every input that did not declare workers; each
// input that does declare workers gets its own group.
type groupSpec struct {
	id      int
	workers int
	inputs  []*config.InputConfig
}

func buildGroupSpecs(cfg *config.Config) []*groupSpec {
	group0 := &groupSpec{id: 0, workers: 1}
	var groups []*groupSpec
	next := 1

	for _, ic := range cfg.Inputs {
		if ic.Workers > 0 {
			groups = append(groups, &groupSpec{id: next, workers: ic.Workers, inputs: []*config.InputConfig{ic}})
			next++
			continue
		}
		group0.inputs = append(group0.inputs, ic)
	}

	return append([]*groupSpec{group0}, groups...)
}

// buildSpawners builds exactly one inputs.Spawner per input config in the
// group, regardless of how many workers the group runs. A kind like
// socket opens its listening socket inside its factory (§4.2); calling the
// factory once per group and handing every worker the same Spawner (rather
// than once per worker) is what makes that listener shared across the
// group's workers (spec §4.2/§9 "independent listener socket
// (SO_REUSEADDR)"), instead of each worker opening and failing to bind its
// own.
func buildSpawners(group *groupSpec, log logging.Logger) ([]inputs.Spawner, error) {
	spawners := make([]inputs.Spawner, len(group.inputs))
	for i, ic := range group.inputs {
		factory, err := inputs.Get(ic.Kind)
		if err != nil {
			return nil, err
		}
		spawnr, err := factory(ic, log)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", ic.Kind, err)
		}
		spawners[i] = spawnr
	}
	return spawners, nil
}

// sourceFor builds the immutable envelope.Source an input's lines are
// encoded against.
func sourceFor(cfg *config.Config, ic *config.InputConfig) (*envelope.Source, error) {
	src := &envelope.Source{
		Type:         ic.Type,
		Host:         cfg.Hostname,
		Tags:         ic.Tags,
		AddField:     ic.AddField,
		Format:       ic.Format,
		Milliseconds: cfg.Milliseconds,
	}
	if ic.Kind == "file" {
		src.Path = ic.Raw.String("path")
	}

	for _, dfc := range ic.DerivedFields {
		df, err := envelope.NewDerivedField(dfc.Name, dfc.Field, dfc.Match, dfc.Concat, dfc.Default)
		if err != nil {
			return nil, fmt.Errorf("derive_field %q: %w", dfc.Name, err)
		}
		src.DerivedFields = append(src.DerivedFields, df)
	}
	return src, nil
}
