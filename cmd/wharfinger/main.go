// Command wharfinger runs the log-shipping agent: load a config file, start
// one worker goroutine per process group, and shut down gracefully on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/wharfinger/wharfinger/agent"
	"github.com/wharfinger/wharfinger/internal/config"
	"github.com/wharfinger/wharfinger/internal/logging"

	// Blank-imported so each plugin's init() registers itself with
	// plugins/inputs and plugins/outputs, the way the teacher's
	// plugins/inputs/all and plugins/outputs/all registries work.
	_ "github.com/wharfinger/wharfinger/plugins/inputs/file"
	_ "github.com/wharfinger/wharfinger/plugins/inputs/socket"
	_ "github.com/wharfinger/wharfinger/plugins/outputs/amqp"
	_ "github.com/wharfinger/wharfinger/plugins/outputs/gelf"
	_ "github.com/wharfinger/wharfinger/plugins/outputs/redis"
	_ "github.com/wharfinger/wharfinger/plugins/outputs/screen"
	_ "github.com/wharfinger/wharfinger/plugins/outputs/socket"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config-path> [pidfile-path]\n", os.Args[0])
		os.Exit(2)
	}
	if err := run(os.Args[1], pidfileArg()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func pidfileArg() string {
	if len(os.Args) < 3 {
		return ""
	}
	return os.Args[2]
}

func run(configPath, pidfilePath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logging.New(cfg.Logger.Dest, cfg.Logger.Level)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	if pidfilePath != "" {
		if err := writePidfile(pidfilePath); err != nil {
			return fmt.Errorf("writing pidfile: %w", err)
		}
		defer os.Remove(pidfilePath)
	}

	ctx := agent.WaitForSignal(context.Background())
	sv := agent.NewSupervisor(cfg, log)

	log.Infof("wharfinger starting: %d input(s), %d output(s)", len(cfg.Inputs), len(cfg.Outputs))
	if err := sv.Run(ctx); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	log.Infof("wharfinger stopped")
	return nil
}

func writePidfile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
