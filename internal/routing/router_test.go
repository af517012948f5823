package routing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wharfinger/wharfinger/internal/logging"
)

type fakeSink struct {
	name    string
	failAt  int // index at which Push fails, -1 = never
	calls   int
	pushed  [][]byte
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Push(envelope []byte) error {
	defer func() { f.calls++ }()
	if f.failAt >= 0 && f.calls >= f.failAt {
		return errors.New("boom")
	}
	f.pushed = append(f.pushed, envelope)
	return nil
}

func lines(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{byte('a' + i)}
	}
	return out
}

func TestTable_WildcardRoute(t *testing.T) {
	table := NewTable()
	sink := &fakeSink{name: "wild", failAt: -1}
	require.NoError(t, Bind(table, sink, []string{"*"}))

	require.True(t, table.HasAny("a"))
	require.True(t, table.HasAny("b"))
	require.Equal(t, []Sink{sink}, table.Route("a"))
}

func TestTable_LiteralRoute(t *testing.T) {
	table := NewTable()
	sink := &fakeSink{name: "syslog-out", failAt: -1}
	require.NoError(t, Bind(table, sink, []string{"syslog"}))

	require.True(t, table.HasAny("syslog"))
	require.False(t, table.HasAny("other"))
}

func TestFanout_StashDrain(t *testing.T) {
	table := NewTable()
	r1 := &fakeSink{name: "r1", failAt: 0}
	r2 := &fakeSink{name: "r2", failAt: -1}
	require.NoError(t, Bind(table, r1, []string{"syslog"}))
	require.NoError(t, Bind(table, r2, []string{"syslog"}))

	stash := NewStash(logging.Discard())
	batch := lines(5)
	Fanout(table, stash, "syslog", "syslog", batch)

	require.Len(t, r2.pushed, 5)
	require.Len(t, r1.pushed, 0)
	require.True(t, stash.Has("syslog"))

	// Repair r1 and drain.
	r1.failAt = -1
	stash.Drain("syslog")
	require.Equal(t, batch, r1.pushed)
	require.False(t, stash.Has("syslog"))
}

func TestStash_DrainHaltsOnRepeatedFailure(t *testing.T) {
	table := NewTable()
	r1 := &fakeSink{name: "r1", failAt: 2}
	require.NoError(t, Bind(table, r1, []string{"t"}))

	stash := NewStash(logging.Discard())
	Fanout(table, stash, "t", "t", lines(5))
	require.True(t, stash.Has("t"))

	stash.Drain("t")
	require.True(t, stash.Has("t"), "still failing past failAt, should remain stashed")
}

func TestStash_AnyPending(t *testing.T) {
	stash := NewStash(logging.Discard())
	require.False(t, stash.AnyPending())
	stash.Add("t", &fakeSink{name: "s"}, lines(1))
	require.True(t, stash.AnyPending())
}
