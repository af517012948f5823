// Package screen implements the screen output sink: write each envelope,
// newline-terminated, to stdout, stderr, or discard (spec §4.3 "Screen").
package screen

import (
	"fmt"
	"io"
	"os"

	"github.com/wharfinger/wharfinger/internal/config"
	"github.com/wharfinger/wharfinger/internal/logging"
	"github.com/wharfinger/wharfinger/plugins/outputs"
)

func init() {
	outputs.Add("screen", New)
}

type Screen struct {
	dest string
	w    io.Writer
}

// New builds the screen sink from an `output { screen { ... } }` block.
// dest is one of "stdout" (default), "stderr", "discard".
func New(cfg *config.OutputConfig, log logging.Logger) (outputs.Sink, error) {
	dest := cfg.Raw.StringDefault("dest", "stdout")
	var w io.Writer
	switch dest {
	case "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	case "discard":
		w = io.Discard
	default:
		return nil, fmt.Errorf("screen: unknown dest %q", dest)
	}
	return &Screen{dest: dest, w: w}, nil
}

func (s *Screen) Name() string { return fmt.Sprintf("screen:%s", s.dest) }

func (s *Screen) Push(envelope []byte) error {
	_, err := fmt.Fprintf(s.w, "%s\n", envelope)
	return err
}
