package agent

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/wharfinger/wharfinger/internal/config"
	"github.com/wharfinger/wharfinger/internal/envelope"
	"github.com/wharfinger/wharfinger/internal/logging"
	"github.com/wharfinger/wharfinger/internal/routing"
)

type fakePuller struct {
	batches [][]string
	i       int
	closed  bool
}

func (f *fakePuller) Pull(max int) ([]string, bool) {
	if f.i >= len(f.batches) {
		return nil, false
	}
	b := f.batches[f.i]
	f.i++
	return b, true
}

func (f *fakePuller) Close() error {
	f.closed = true
	return nil
}

type fakeSink struct {
	name   string
	pushed [][]byte
}

func (f *fakeSink) Name() string { return f.name }
func (f *fakeSink) Push(e []byte) error {
	f.pushed = append(f.pushed, e)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *clock.Mock) {
	clk := clock.NewMock()
	e := &Engine{
		id:    "test",
		cfg:   &config.Config{Poll: 500 * time.Millisecond, LinesPerTick: 100},
		log:   logging.Discard(),
		clock: clk,
		bound: make(map[string]bool),
		table: routing.NewTable(),
		stash: routing.NewStash(logging.Discard()),
	}
	return e, clk
}

func TestEngine_TickDeliversLinesAndRoutes(t *testing.T) {
	e, _ := newTestEngine(t)
	sink := &fakeSink{name: "out"}
	require.NoError(t, routing.Bind(e.table, sink, []string{"*"}))

	puller := &fakePuller{batches: [][]string{{"hello", "world"}}}
	e.inputs = []*Input{newInput("file", "/var/log/a.log", puller, &envelope.Source{Type: "a", Format: "plain"}, false)}

	sleep := e.Tick()
	require.Zero(t, sleep)
	require.Len(t, sink.pushed, 2)
}

func TestEngine_TickSchedulesNextPollOnEmptyPull(t *testing.T) {
	e, clk := newTestEngine(t)
	puller := &fakePuller{batches: [][]string{nil}}
	in := newInput("file", "/var/log/a.log", puller, &envelope.Source{Type: "a", Format: "plain"}, false)
	e.inputs = []*Input{in}

	sleep := e.Tick()
	require.Equal(t, e.cfg.Poll, sleep)
	require.Equal(t, clk.Now().Add(e.cfg.Poll), in.NextTick)
}

func TestEngine_NullPullRetiresRemoveOnErrorsInput(t *testing.T) {
	e, _ := newTestEngine(t)
	puller := &fakePuller{batches: nil} // first Pull call returns ok=false (i >= len)
	in := newInput("file", "/tmp/gone.log", puller, &envelope.Source{Type: "a"}, true)
	e.inputs = []*Input{in}

	e.Tick()
	require.True(t, in.destroy)

	e.Tick()
	require.Empty(t, e.inputs)
	require.True(t, puller.closed)
}

func TestEngine_BackPressureSuspendsInputsOfStashedType(t *testing.T) {
	e, _ := newTestEngine(t)
	failing := &alwaysFailSink{name: "down"}
	require.NoError(t, routing.Bind(e.table, failing, []string{"a"}))

	puller := &fakePuller{batches: [][]string{{"line1"}, {"line2"}}}
	in := newInput("file", "/var/log/a.log", puller, &envelope.Source{Type: "a", Format: "plain"}, false)
	e.inputs = []*Input{in}

	e.Tick() // fails, stashes under type "a"
	require.True(t, e.stash.Has("a"))

	before := puller.i
	e.Tick() // input of type "a" must be skipped while its stash remains non-empty
	require.Equal(t, before, puller.i)
}

type alwaysFailSink struct{ name string }

func (f *alwaysFailSink) Name() string { return f.name }
func (f *alwaysFailSink) Push(e []byte) error {
	return errBoom
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
