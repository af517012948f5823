// Package envelope shapes a raw line from an input into the canonical
// JSON event envelope (spec §3, §4.4), and applies derived-field regex
// recipes computed from existing envelope fields.
package envelope

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Source describes the immutable properties of the input a line came
// from — everything the encoder needs besides the raw text itself.
type Source struct {
	Type          string
	Host          string
	Path          string
	Tags          []string
	AddField      map[string]string
	DerivedFields []DerivedField
	Format        string // "plain" or "json_event"
	Milliseconds  bool
}

// DerivedField is one compiled regex-derived @fields recipe (§4.4 step 3).
// Name is the @fields key the recipe populates (e.g. "domain").
type DerivedField struct {
	Name    string
	Field   string
	Match   *regexp.Regexp
	Concat  string
	Default string
}

// NewDerivedField compiles a recipe's regex once at load time, per the
// "no code generation, precompiled regex + template expander" design note.
func NewDerivedField(name, field, pattern, concat, def string) (DerivedField, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return DerivedField{}, fmt.Errorf("compiling derived field pattern %q: %w", pattern, err)
	}
	return DerivedField{Name: name, Field: field, Match: re, Concat: concat, Default: def}, nil
}

// Encode builds the envelope for a single raw line, returning the routing
// type and the encoded JSON bytes. On a json_event parse failure it
// returns ("", nil, err) — the caller logs and drops the line (§7,
// message-level error).
func Encode(line string, src *Source, now time.Time) (string, []byte, error) {
	var event map[string]interface{}

	switch src.Format {
	case "json_event":
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return "", nil, fmt.Errorf("decoding json_event line: %w", err)
		}
		typ, _ := event["@type"].(string)
		if typ == "" {
			typ = src.Type
		}
		event["@type"] = typ

		tags, _ := event["@tags"].([]interface{})
		existing := make(map[string]bool, len(tags))
		for _, t := range tags {
			if s, ok := t.(string); ok {
				existing[s] = true
			}
		}
		for _, t := range src.Tags {
			if !existing[t] {
				tags = append(tags, t)
				existing[t] = true
			}
		}
		event["@tags"] = tags

		for k, v := range src.AddField {
			event[k] = v
		}
	default:
		event = plainEnvelope(line, src, now)
	}

	applyDerivedFields(event, src.DerivedFields)

	typ, _ := event["@type"].(string)
	out, err := json.Marshal(event)
	if err != nil {
		return "", nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return typ, out, nil
}

func plainEnvelope(line string, src *Source, now time.Time) map[string]interface{} {
	tags := make([]interface{}, len(src.Tags))
	for i, t := range src.Tags {
		tags[i] = t
	}

	fields := map[string]interface{}{}
	for k, v := range src.AddField {
		fields[k] = v
	}

	return map[string]interface{}{
		"@timestamp":    formatTimestamp(now, src.Milliseconds),
		"@source":       fmt.Sprintf("file://%s%s", src.Host, src.Path),
		"@source_host":  src.Host,
		"@source_path":  src.Path,
		"@type":         src.Type,
		"@fields":       fields,
		"@tags":         tags,
		"@message":      line,
	}
}

// formatTimestamp renders wall-clock time as
// "%Y-%m-%dT%H:%M:%S%z", rewritten so the trailing "+HHMM" reads
// "+HH:MM" and a legacy "UTC" suffix reads "Z" (spec §4.4 step 2).
func formatTimestamp(now time.Time, milliseconds bool) string {
	layout := "2006-01-02T15:04:05"
	if milliseconds {
		layout += ".000"
	}
	ts := now.Format(layout + "-0700")

	if strings.HasSuffix(ts, "UTC") {
		return strings.TrimSuffix(ts, "UTC") + "Z"
	}

	// Rewrite the trailing "+HHMM"/"-HHMM" offset to "+HH:MM"/"-HH:MM".
	if n := len(ts); n >= 5 {
		sign := ts[n-5]
		if sign == '+' || sign == '-' {
			return ts[:n-2] + ":" + ts[n-2:]
		}
	}
	return ts
}

func applyDerivedFields(event map[string]interface{}, recipes []DerivedField) {
	if len(recipes) == 0 {
		return
	}

	fields, _ := event["@fields"].(map[string]interface{})
	if fields == nil {
		fields = map[string]interface{}{}
		event["@fields"] = fields
	}

	for _, r := range recipes {
		source, _ := event[r.Field].(string)
		m := r.Match.FindStringSubmatch(source)
		if m != nil {
			fields[r.Name] = expandTemplate(r.Concat, m)
			continue
		}
		if r.Default != "" {
			fields[r.Name] = r.Default
		}
	}
}

// expandTemplate resolves $1..$9 references in tmpl against capture groups.
func expandTemplate(tmpl string, groups []string) string {
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c == '$' && i+1 < len(tmpl) && tmpl[i+1] >= '1' && tmpl[i+1] <= '9' {
			idx := int(tmpl[i+1] - '0')
			if idx < len(groups) {
				b.WriteString(groups[idx])
			}
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
