// Package config loads the agent's brace-delimited configuration language
// (spec §6): indent-insensitive, `#` comments, backslash continuation,
// single/double-quoted values, repeated-key promotion to lists, nested
// `section { }` blocks, and recursive `include <path>` splicing.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config is the fully parsed, typed configuration tree.
type Config struct {
	Poll             time.Duration
	LinesPerTick     int
	Benchmark        bool
	Hostname         string
	Milliseconds     bool
	OldLogstashJSON  bool
	LogWatchInterval time.Duration

	Logger LoggerConfig

	Inputs  []*InputConfig
	Outputs []*OutputConfig
}

// LoggerConfig configures the logging facility (§4.8). The logger block
// itself is otherwise opaque per spec.md; these are the two keys this
// repository's logging facility understands.
type LoggerConfig struct {
	Dest  string
	Level string
}

// DerivedFieldConfig is one regex-derived @fields recipe (§4.4 step 3).
// Name is the @fields key the recipe populates (e.g. "domain").
type DerivedFieldConfig struct {
	Name    string
	Field   string
	Match   string
	Concat  string
	Default string
}

// InputConfig is a single `input { <kind> { ... } }` declaration.
type InputConfig struct {
	Kind          string
	Type          string
	Tags          []string
	AddField      map[string]string
	DerivedFields []DerivedFieldConfig
	Workers       int
	Format        string // "plain" or "json_event"

	// Raw carries every kind-specific key (path, host, port, ssl, ...);
	// the plugin constructor for Kind reads its own fields off it.
	Raw *Section
}

// OutputConfig is a single `output { <kind> { ... } }` declaration.
type OutputConfig struct {
	Kind  string
	Types []string // comma-separated type list; "*" matches every type

	Raw *Section
}

// Load reads and parses the config file at path, including any `include`
// directives, and builds the typed Config tree.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	root, err := parseFile(path, make(map[string]bool))
	if err != nil {
		return nil, err
	}
	return build(root)
}

func build(root *Section) (*Config, error) {
	cfg := &Config{
		Poll:             root.Duration("poll", 500*time.Millisecond, time.Millisecond),
		LinesPerTick:     root.Int("lines", 100),
		Benchmark:        root.Bool("benchmark", false),
		Hostname:         root.StringDefault("hostname", defaultHostname()),
		Milliseconds:     root.Bool("milliseconds", false),
		OldLogstashJSON:  root.Bool("oldlogstashjson", false),
		LogWatchInterval: root.Duration("log_watch_interval", 5*time.Second, time.Second),
	}

	if root.Int("poll", 500) < 100 || root.Int("poll", 500) > 9999 {
		return nil, fmt.Errorf("poll must be between 100 and 9999 ms, got %d", root.Int("poll", 500))
	}

	if lg := root.Block("logger"); lg != nil {
		cfg.Logger = LoggerConfig{
			Dest:  lg.StringDefault("dest", "stderr"),
			Level: lg.StringDefault("level", "info"),
		}
	} else {
		cfg.Logger = LoggerConfig{Dest: "stderr", Level: "info"}
	}

	for _, inputBlock := range root.Blocks("input") {
		for _, kind := range inputBlock.BlockNames() {
			for _, kindSection := range inputBlock.Blocks(kind) {
				ic, err := buildInput(kind, kindSection)
				if err != nil {
					return nil, fmt.Errorf("input %s: %w", kind, err)
				}
				cfg.Inputs = append(cfg.Inputs, ic)
			}
		}
	}

	for _, outputBlock := range root.Blocks("output") {
		for _, kind := range outputBlock.BlockNames() {
			for _, kindSection := range outputBlock.Blocks(kind) {
				oc := buildOutput(kind, kindSection)
				cfg.Outputs = append(cfg.Outputs, oc)
			}
		}
	}

	return cfg, nil
}

func buildInput(kind string, sec *Section) (*InputConfig, error) {
	ic := &InputConfig{
		Kind:     kind,
		Type:     sec.String("type"),
		Tags:     sec.CSV("tags"),
		Workers:  sec.Int("workers", 0),
		Format:   sec.StringDefault("format", "plain"),
		AddField: map[string]string{},
		Raw:      sec,
	}

	if ic.Format != "plain" && ic.Format != "json_event" {
		return nil, fmt.Errorf("invalid format %q", ic.Format)
	}

	for _, b := range sec.Blocks("add_field") {
		for k, vals := range b.scalars {
			if len(vals) > 0 {
				ic.AddField[k] = vals[len(vals)-1]
			}
		}
	}

	for _, b := range sec.Blocks("derive_field") {
		ic.DerivedFields = append(ic.DerivedFields, DerivedFieldConfig{
			Name:    b.String("name"),
			Field:   b.StringDefault("field", "@source_path"),
			Match:   b.String("match"),
			Concat:  b.String("concat"),
			Default: b.String("default"),
		})
	}

	return ic, nil
}

func buildOutput(kind string, sec *Section) *OutputConfig {
	return &OutputConfig{
		Kind:  kind,
		Types: csvOrWildcard(sec),
		Raw:   sec,
	}
}

func csvOrWildcard(sec *Section) []string {
	types := sec.CSV("type")
	if len(types) == 0 {
		return []string{"*"}
	}
	return types
}

func defaultHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}
