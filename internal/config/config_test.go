package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_ScalarsAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.conf", `
poll 250
lines 50
benchmark yes
hostname myhost
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, cfg.Poll)
	require.Equal(t, 50, cfg.LinesPerTick)
	require.True(t, cfg.Benchmark)
	require.Equal(t, "myhost", cfg.Hostname)
	require.Equal(t, 5*time.Second, cfg.LogWatchInterval)
}

func TestLoad_PollOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.conf", "poll 50\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_InputAndOutputBlocks(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.conf", `
input {
  file {
    type = accesslog
    tags = apache, accesslog
    path = "/var/log/apache2/access.log"
    save_position = yes

    add_field {
      datacenter = us-east
    }

    derive_field {
      name = domain
      field = @source_path
      match = "([a-z]+\.[a-z]+)/([a-z]+)/[^/]+$"
      concat = "$2.$1"
      default = common
    }
  }
}

output {
  redis {
    type = accesslog, syslog
    host = h1,h2,h3
    key = logstash
  }
}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Inputs, 1)

	in := cfg.Inputs[0]
	require.Equal(t, "file", in.Kind)
	require.Equal(t, "accesslog", in.Type)
	require.Equal(t, []string{"apache", "accesslog"}, in.Tags)
	require.Equal(t, "/var/log/apache2/access.log", in.Raw.String("path"))
	require.True(t, in.Raw.Bool("save_position", false))
	require.Equal(t, "us-east", in.AddField["datacenter"])
	require.Len(t, in.DerivedFields, 1)
	require.Equal(t, "domain", in.DerivedFields[0].Name)
	require.Equal(t, "$2.$1", in.DerivedFields[0].Concat)
	require.Equal(t, "common", in.DerivedFields[0].Default)

	require.Len(t, cfg.Outputs, 1)
	out := cfg.Outputs[0]
	require.Equal(t, "redis", out.Kind)
	require.Equal(t, []string{"accesslog", "syslog"}, out.Types)
	require.Equal(t, []string{"h1", "h2", "h3"}, out.Raw.CSV("host"))
	require.Equal(t, "logstash", out.Raw.String("key"))
}

func TestLoad_WildcardOutputType(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.conf", `
output {
  screen {
    type = *
  }
}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"*"}, cfg.Outputs[0].Types)
}

func TestLoad_Include(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "outputs.conf", `
output {
  screen {
    type = *
  }
}
`)
	path := writeFile(t, dir, "agent.conf", `
poll 300
include outputs.conf
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 300*time.Millisecond, cfg.Poll)
	require.Len(t, cfg.Outputs, 1)
	require.Equal(t, "screen", cfg.Outputs[0].Kind)
}

func TestLoad_BackslashContinuation(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.conf", "hostname my\\\nhost\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "myhost", cfg.Hostname)
}

func TestLoad_CommentsIgnoredInsideQuotes(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.conf", `
input {
  file {
    path = "/var/log/foo#bar.log" # trailing comment
  }
}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/log/foo#bar.log", cfg.Inputs[0].Raw.String("path"))
}

func TestLoad_RepeatedKeyPromotedToList(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.conf", `
input {
  file {
    path = /var/log/a.log
    path = /var/log/b.log
  }
}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"/var/log/a.log", "/var/log/b.log"}, cfg.Inputs[0].Raw.All("path"))
}
