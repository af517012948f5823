// Package inputs defines the plugin-facing contract for C1/C2 (file tailer,
// socket listener) and a name-keyed registry the agent's group builder uses
// to construct them from config, mirroring the teacher's plugin Add/Creator
// registration pattern.
package inputs

import (
	"fmt"

	"github.com/wharfinger/wharfinger/internal/config"
	"github.com/wharfinger/wharfinger/internal/logging"
)

// Puller is the pull(max_lines) contract shared by every input kind
// (spec §3, §4.1, §4.2).
type Puller interface {
	// Pull returns up to max lines read since the last call. ok=false
	// signals the source's "null": the path is no longer usable. A true
	// result with zero lines means no data is currently available.
	Pull(max int) (lines []string, ok bool)
	Close() error
}

// Spawner produces independent Puller instances. Most kinds hand back a
// fresh, fully independent instance on every call; the socket kind shares
// one listening socket across the instances it spawns, since the kernel
// (not the Go runtime) accepts connections concurrently against the
// SO_REUSEADDR-equivalent shared *net.TCPListener (spec §4.2, §7 "shared
// resources").
type Spawner interface {
	Spawn() (Puller, error)
}

// PathSpawner is implemented by the file kind's Spawner: it additionally
// knows how to bind to one glob-discovered path, separately from whatever
// literal path (if any) it was configured with (spec §4.6 step 1).
type PathSpawner interface {
	Spawner
	SpawnPath(path string) (Puller, error)
	// Pattern returns the configured path, which may contain glob
	// metacharacters. When it does, Spawn returns an error and paths are
	// bound through SpawnPath instead.
	Pattern() string
}

// Factory builds a Spawner from one `input { <kind> { ... } }` block.
type Factory func(cfg *config.InputConfig, log logging.Logger) (Spawner, error)

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
		return nil, fmt.Errorf("unknown input kind %q", kind)
	}
	return f, nil
}
