package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wharfinger/wharfinger/internal/config"
	"github.com/wharfinger/wharfinger/internal/logging"
)

// gracefulShutdownWait is how long the Supervisor waits for every worker's
// Engine.Run to return after stop is signalled before giving up and
// exiting anyway (spec §4.7: 15s on the fork-based source; a goroutine has
// no SIGKILL equivalent, so "give up and exit" replaces it — see DESIGN.md).
const gracefulShutdownWait = 15 * time.Second

// Supervisor is C7: it computes process groups from the loaded config and
// keeps one worker goroutine running per desired slot. Goroutines replace
// the source's forked child processes (no fork in Go); a shared
// *net.TCPListener inside the socket input plugin replaces the
// SO_REUSEADDR fd sharing across forked children (spec's REDESIGN FLAG).
type Supervisor struct {
	cfg *config.Config
	log logging.Logger
	clk clock.Clock

	wg sync.WaitGroup
}

// NewSupervisor builds a Supervisor for cfg, using the real wall clock.
func NewSupervisor(cfg *config.Config, log logging.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, log: log, clk: clock.New()}
}

// Run spawns one worker goroutine per group/worker slot and blocks until
// ctx is cancelled (typically by a signal handler), then waits up to
// gracefulShutdownWait for every worker to stop.
func (sv *Supervisor) Run(ctx context.Context) error {
	groups := buildGroupSpecs(sv.cfg)

	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	for _, g := range groups {
		spawners, err := buildSpawners(g, sv.log)
		if err != nil {
			return fmt.Errorf("group %d: %w", g.id, err)
		}

		for worker := 0; worker < g.workers; worker++ {
			id := fmt.Sprintf("group%d.%d", g.id, worker)
			engine, err := BuildEngine(id, sv.cfg, g, spawners, sv.clk, sv.log)
			if err != nil {
				return fmt.Errorf("worker %s: %w", id, err)
			}
			sv.wg.Add(1)
			go func(e *Engine) {
				defer sv.wg.Done()
				sv.log.Infof("worker %s starting", e.id)
				e.Run(stop)
				sv.log.Infof("worker %s stopped", e.id)
			}(engine)
		}
	}

	done := make(chan struct{})
	go func() {
		sv.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	select {
	case <-done:
		return nil
	case <-time.After(gracefulShutdownWait):
		sv.log.Warnf("graceful shutdown window (%s) elapsed, exiting with workers still draining", gracefulShutdownWait)
		return nil
	}
}

// WaitForSignal blocks until SIGINT or SIGTERM, then cancels the returned
// context so Run can begin graceful shutdown. SIGHUP and SIGPIPE are
// ignored outright (spec §4.7/§6): configuration reload-without-restart
// and broken-pipe termination are both out of scope (spec §1 Non-goals),
// but their *default* disposition terminates the process, so leaving them
// un-Notify'd would kill the daemon on either signal rather than being a
// no-op.
func WaitForSignal(parent context.Context) context.Context {
	signal.Ignore(syscall.SIGHUP, syscall.SIGPIPE)

	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx
}
