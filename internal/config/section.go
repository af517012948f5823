package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/wharfinger/wharfinger/internal/secret"
)

// Section is a parsed configuration block. It is the public face of the
// parser's internal node tree: plugin constructors read their own
// kind-specific fields straight off a Section instead of every field
// living in one monolithic struct, the way each teacher plugin owns only
// the config fields it understands.
type Section struct {
	scalars    map[string][]string
	blocks     map[string][]*Section
	blockOrder []string
}

func newSection() *Section {
	return &Section{
		scalars: make(map[string][]string),
		blocks:  make(map[string][]*Section),
	}
}

// addBlock appends a nested block, recording first-seen order for BlockNames.
func (s *Section) addBlock(name string, child *Section) {
	if _, seen := s.blocks[name]; !seen {
		s.blockOrder = append(s.blockOrder, name)
	}
	s.blocks[name] = append(s.blocks[name], child)
}

// addScalar appends a scalar assignment (repeated-key promotion).
func (s *Section) addScalar(key, value string) {
	s.scalars[key] = append(s.scalars[key], value)
}

// Get returns the last assigned value for key and whether it was set.
// Repeated keys are promoted to a list (see All); Get returns the most
// recent one, matching the teacher config's override semantics for
// scalars that are not explicitly repeated.
func (s *Section) Get(key string) (string, bool) {
	vals, ok := s.scalars[key]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[len(vals)-1], true
}

// String returns the last value for key, or "" if unset.
func (s *Section) String(key string) string {
	v, _ := s.Get(key)
	return v
}

// StringDefault returns the last value for key, or def if unset.
func (s *Section) StringDefault(key, def string) string {
	if v, ok := s.Get(key); ok {
		return v
	}
	return def
}

// All returns every value assigned to key, in declaration order
// (repeated-key promotion).
func (s *Section) All(key string) []string {
	return append([]string(nil), s.scalars[key]...)
}

// CSV returns every value assigned to key, each split on commas and
// trimmed, flattened into one list. This is how hosts, tags and type
// lists are declared (a single comma-separated value), distinct from
// repeated-key promotion (All).
func (s *Section) CSV(key string) []string {
	var out []string
	for _, raw := range s.scalars[key] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Int returns key parsed as an integer, or def if unset or unparsable.
func (s *Section) Int(key string, def int) int {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Bool accepts yes/no/true/false/1/0, matching spec's "benchmark (yes|no|0|1)".
func (s *Section) Bool(key string, def bool) bool {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "1", "on":
		return true
	case "no", "false", "0", "off":
		return false
	default:
		return def
	}
}

// Duration reads key as an integer count of unit, defaulting to def.
func (s *Section) Duration(key string, def time.Duration, unit time.Duration) time.Duration {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return time.Duration(n) * unit
}

// Secret wraps key's value (if any) in a locked-memory Secret.
func (s *Section) Secret(key string) *secret.Secret {
	v, ok := s.Get(key)
	if !ok {
		return nil
	}
	return secret.New(v)
}

// Blocks returns every nested block named name, in declaration order.
func (s *Section) Blocks(name string) []*Section {
	return append([]*Section(nil), s.blocks[name]...)
}

// Block returns the first nested block named name, or nil.
func (s *Section) Block(name string) *Section {
	blocks := s.blocks[name]
	if len(blocks) == 0 {
		return nil
	}
	return blocks[0]
}

// BlockNames returns the distinct names of all nested blocks, in the
// order first seen. Used to discover an input/output's kind, since the
// kind is the block name itself (e.g. `file { }`, `redis { }`).
func (s *Section) BlockNames() []string {
	return append([]string(nil), s.blockOrder...)
}
