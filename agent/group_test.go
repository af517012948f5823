package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wharfinger/wharfinger/internal/config"
	"github.com/wharfinger/wharfinger/internal/logging"
	"github.com/wharfinger/wharfinger/plugins/inputs"
)

func TestBuildGroupSpecs_DefaultAndWorkerGroups(t *testing.T) {
	plain := &config.InputConfig{Kind: "file", Type: "a"}
	withWorkers := &config.InputConfig{Kind: "socket", Type: "b", Workers: 3}
	cfg := &config.Config{Inputs: []*config.InputConfig{plain, withWorkers}}

	groups := buildGroupSpecs(cfg)
	require.Len(t, groups, 2)

	require.Equal(t, 0, groups[0].id)
	require.Equal(t, 1, groups[0].workers)
	require.Equal(t, []*config.InputConfig{plain}, groups[0].inputs)

	require.Equal(t, 1, groups[1].id)
	require.Equal(t, 3, groups[1].workers)
	require.Equal(t, []*config.InputConfig{withWorkers}, groups[1].inputs)
}

func TestSourceFor_DerivesFromInputConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wharfinger.conf")
	require.NoError(t, os.WriteFile(path, []byte(`
hostname = myhost
milliseconds = yes

input {
  file {
    type = apache
    tags = a
    path = /var/log/apache2/access.log
    add_field {
      env = prod
    }
    derive_field {
      name = domain
      field = @source_path
      match = (\w+)\.log$
      concat = $1
    }
  }
}
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Inputs, 1)

	src, err := sourceFor(cfg, cfg.Inputs[0])
	require.NoError(t, err)
	require.Equal(t, "apache", src.Type)
	require.Equal(t, "myhost", src.Host)
	require.Equal(t, "/var/log/apache2/access.log", src.Path)
	require.True(t, src.Milliseconds)
	require.Len(t, src.DerivedFields, 1)
	require.Equal(t, "domain", src.DerivedFields[0].Name)
}

// countingPuller/countingSpawner stand in for a kind like socket whose
// factory opens a real shared resource (a listening socket): each call to
// the factory increments calls, so the test can assert buildSpawners
// invokes it exactly once per group input no matter how many workers the
// group will run.
type countingPuller struct{}

func (countingPuller) Pull(max int) ([]string, bool) { return nil, true }
func (countingPuller) Close() error                  { return nil }

type countingSpawner struct{}

func (countingSpawner) Spawn() (inputs.Puller, error) { return countingPuller{}, nil }

func TestBuildSpawners_OneFactoryCallPerGroupInput(t *testing.T) {
	var calls int
	inputs.Add("test-counting-kind", func(cfg *config.InputConfig, log logging.Logger) (inputs.Spawner, error) {
		calls++
		return countingSpawner{}, nil
	})

	group := &groupSpec{
		id:      1,
		workers: 3,
		inputs:  []*config.InputConfig{{Kind: "test-counting-kind", Type: "a"}},
	}

	spawners, err := buildSpawners(group, logging.Discard())
	require.NoError(t, err)
	require.Len(t, spawners, 1)
	require.Equal(t, 1, calls, "factory must run once per group input regardless of worker count")

	// The same Spawner instance is handed to every worker; Spawn itself
	// may still be called once per worker (each worker wants its own
	// Puller), but the factory — and any shared resource it opens, like a
	// socket kind's net.Listen — never re-runs.
	for w := 0; w < group.workers; w++ {
		_, err := spawners[0].Spawn()
		require.NoError(t, err)
	}
	require.Equal(t, 1, calls)
}
