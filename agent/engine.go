// Package agent implements C6 (scheduling engine) and C7 (supervisor): the
// per-worker poll loop, glob-watch enrollment, and the goroutine-based
// process-group model that stands in for the source's fork-based one.
package agent

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bmatcuk/doublestar/v3"
	"github.com/dustin/go-humanize"

	"github.com/wharfinger/wharfinger/internal/config"
	"github.com/wharfinger/wharfinger/internal/envelope"
	"github.com/wharfinger/wharfinger/internal/logging"
	"github.com/wharfinger/wharfinger/internal/routing"
	"github.com/wharfinger/wharfinger/plugins/inputs"
	"github.com/wharfinger/wharfinger/plugins/outputs"
)

// watchTemplate is a file input declared with a glob pattern: it never
// produces a Puller of its own, only discovered per-path Pullers enrolled
// during glob-watch rescans (spec §4.6 step 1).
type watchTemplate struct {
	spawner inputs.PathSpawner
	source  *envelope.Source
}

// Engine is one worker's single-threaded cooperative scheduling loop
// (spec §4.6). It owns its inputs, its routing table, and its output
// connections exclusively — nothing here is shared with any other worker.
type Engine struct {
	id    string
	cfg   *config.Config
	log   logging.Logger
	clock clock.Clock

	inputs  []*Input
	watches []*watchTemplate
	bound   map[string]bool // paths already enrolled, keyed for dedup (§3 "bound identifier")

	table *routing.Table
	stash *routing.Stash

	nextWatch time.Time

	benchmark  bool
	benchLines int
	benchBytes int
	benchSince time.Time
}

// BuildEngine constructs one worker's Engine for a process group: it
// spawns an independent Puller for every one of the group's inputs and an
// independent Sink for every configured output (spec §7 "each worker owns
// its inputs and its output connections"). spawners holds one already-built
// inputs.Spawner per group.inputs entry (same index), built once per group
// by buildSpawners and shared by every worker of that group, so a kind
// like socket that opens a listener inside its factory opens it exactly
// once per group rather than once per worker.
func BuildEngine(id string, cfg *config.Config, group *groupSpec, spawners []inputs.Spawner, clk clock.Clock, log logging.Logger) (*Engine, error) {
	e := &Engine{
		id:    id,
		cfg:   cfg,
		log:   log,
		clock: clk,
		bound:      make(map[string]bool),
		table:      routing.NewTable(),
		stash:      routing.NewStash(log),
		benchmark:  cfg.Benchmark,
		benchSince: clk.Now(),
	}

	for i, ic := range group.inputs {
		src, err := sourceFor(cfg, ic)
		if err != nil {
			return nil, err
		}

		spawnr := spawners[i]

		pathSpawner, isFile := spawnr.(inputs.PathSpawner)
		if isFile && isGlobPattern(pathSpawner.Pattern()) {
			e.watches = append(e.watches, &watchTemplate{spawner: pathSpawner, source: src})
			continue
		}

		puller, err := spawnr.Spawn()
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", ic.Kind, err)
		}
		path := ic.Raw.String("path")
		e.inputs = append(e.inputs, newInput(ic.Kind, path, puller, src, false))
		if path != "" {
			e.bound[path] = true
		}
	}

	for _, oc := range cfg.Outputs {
		factory, err := outputs.Get(oc.Kind)
		if err != nil {
			return nil, err
		}
		sink, err := factory(oc, log)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", oc.Kind, err)
		}
		if err := routing.Bind(e.table, sink, oc.Types); err != nil {
			return nil, fmt.Errorf("output %s: binding types %v: %w", oc.Kind, oc.Types, err)
		}
	}

	return e, nil
}

func isGlobPattern(path string) bool {
	for _, c := range path {
		if c == '*' || c == '?' || c == '[' {
			return true
		}
	}
	return false
}

// Tick runs one iteration of the cooperative loop (spec §4.6): glob
// rescan, stash drain, per-input pull/encode/fanout, and returns the
// duration the caller should sleep before the next tick (zero if any
// input produced data, otherwise the configured poll interval).
func (e *Engine) Tick() time.Duration {
	now := e.clock.Now()

	if len(e.watches) > 0 && !now.Before(e.nextWatch) {
		e.rescanWatches()
		e.nextWatch = now.Add(e.cfg.LogWatchInterval)
	}

	for _, typ := range e.stash.PendingTypes() {
		e.stash.Drain(typ)
	}

	sleep := e.cfg.Poll
	live := e.inputs[:0:0]
	for _, in := range e.inputs {
		if in.destroy {
			_ = in.Puller.Close()
			continue
		}
		live = append(live, in)

		if in.NextTick.After(now) {
			continue
		}
		if e.suspended(in) {
			continue
		}

		lines, ok := in.Puller.Pull(e.cfg.LinesPerTick)
		if !ok {
			if in.RemoveOnErrors {
				in.markDestroy()
			}
			continue
		}
		if len(lines) == 0 {
			in.NextTick = now.Add(e.cfg.Poll)
			continue
		}

		sleep = 0
		e.deliver(in, lines)
	}
	e.inputs = live

	if e.benchmark {
		e.emitBenchmark(now)
	}

	return sleep
}

// suspended implements the back-pressure rule (spec §4.5): inputs of
// unset type are skipped whenever any stash is non-empty; inputs whose
// own type has a non-empty stash are skipped until it drains.
func (e *Engine) suspended(in *Input) bool {
	if in.Source.Type == "" {
		return e.stash.AnyPending()
	}
	return e.stash.Has(in.Source.Type)
}

// typedBatch groups consecutive encoded envelopes that share one effective
// routing type, preserving the original line order within each group.
type typedBatch struct {
	typ  string
	envs [][]byte
}

// deliver encodes each line and routes it by its own effective type T′
// (spec §4.4/§4.5): a json_event batch may carry a different @type per
// line, so each line is fanned out under its own type rather than the
// whole batch being routed under one type drawn from a single line. The
// stash key stays the input's own type throughout (spec §4.5).
func (e *Engine) deliver(in *Input, lines []string) {
	now := e.clock.Now()
	var totalBytes, totalLines int
	var groups []typedBatch

	for _, line := range lines {
		typ, raw, err := envelope.Encode(line, in.Source, now)
		if err != nil {
			e.log.Warnf("input %s: dropping line: %v", in.Path, err)
			continue
		}
		totalBytes += len(raw)
		if n := len(groups); n > 0 && groups[n-1].typ == typ {
			groups[n-1].envs = append(groups[n-1].envs, raw)
		} else {
			groups = append(groups, typedBatch{typ: typ, envs: [][]byte{raw}})
		}
	}
	if len(groups) == 0 {
		return
	}

	for _, g := range groups {
		if !e.table.HasAny(g.typ) {
			e.log.Warnf("no output bound for type %q", g.typ)
		}
		routing.Fanout(e.table, e.stash, in.Source.Type, g.typ, g.envs)
		totalLines += len(g.envs)
	}

	e.benchLines += totalLines
	e.benchBytes += totalBytes
}

// rescanWatches implements spec §4.6 step 1: discover files matching each
// watched glob and enroll the ones not yet bound to this worker.
func (e *Engine) rescanWatches() {
	for _, w := range e.watches {
		matches, err := doublestar.Glob(w.spawner.Pattern())
		if err != nil {
			e.log.Warnf("glob %q: %v", w.spawner.Pattern(), err)
			continue
		}
		for _, path := range matches {
			if e.bound[path] {
				continue
			}
			puller, err := w.spawner.SpawnPath(path)
			if err != nil {
				e.log.Warnf("glob %q: binding %s: %v", w.spawner.Pattern(), path, err)
				continue
			}
			src := *w.source
			src.Path = path
			e.bound[path] = true
			e.inputs = append(e.inputs, newInput("file", path, puller, &src, true))
		}
	}
}

func (e *Engine) emitBenchmark(now time.Time) {
	if now.Sub(e.benchSince) < time.Second {
		return
	}
	e.log.Infof("worker %s: %s lines, %s in the last %s", e.id,
		humanize.Comma(int64(e.benchLines)), humanize.Bytes(uint64(e.benchBytes)), now.Sub(e.benchSince))
	e.benchLines = 0
	e.benchBytes = 0
	e.benchSince = now
}

// Run drives Tick in a loop until stop is closed.
func (e *Engine) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		d := e.Tick()
		if d > 0 {
			select {
			case <-stop:
				return
			case <-e.clock.After(d):
			}
		}
	}
}
