package envelope

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncode_Plain(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.FixedZone("", -7*3600))
	src := &Source{
		Type:   "syslog",
		Host:   "myhost",
		Path:   "/var/log/syslog",
		Tags:   []string{"a", "b"},
		Format: "plain",
	}
	typ, raw, err := Encode("hello world", src, now)
	require.NoError(t, err)
	require.Equal(t, "syslog", typ)

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &event))
	require.Equal(t, "hello world", event["@message"])
	require.Equal(t, "file://myhost/var/log/syslog", event["@source"])
	require.Equal(t, "myhost", event["@source_host"])
	require.Equal(t, "/var/log/syslog", event["@source_path"])
	require.Equal(t, "syslog", event["@type"])
	ts, ok := event["@timestamp"].(string)
	require.True(t, ok)
	require.Contains(t, ts, "-07:00")
	_, err = time.Parse(time.RFC3339, ts)
	require.NoError(t, err)
}

func TestEncode_JSONEvent(t *testing.T) {
	src := &Source{
		Type:   "fallback",
		Tags:   []string{"extra"},
		Format: "json_event",
	}
	line := `{"@type":"custom","@tags":["existing"],"msg":"hi"}`
	typ, raw, err := Encode(line, src, time.Now())
	require.NoError(t, err)
	require.Equal(t, "custom", typ)

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &event))
	tags, _ := event["@tags"].([]interface{})
	require.ElementsMatch(t, []interface{}{"existing", "extra"}, tags)
}

func TestEncode_JSONEventFallsBackToInputType(t *testing.T) {
	src := &Source{Type: "fallback", Format: "json_event"}
	typ, _, err := Encode(`{"msg":"hi"}`, src, time.Now())
	require.NoError(t, err)
	require.Equal(t, "fallback", typ)
}

func TestEncode_JSONEventParseError(t *testing.T) {
	src := &Source{Type: "fallback", Format: "json_event"}
	_, _, err := Encode("not json", src, time.Now())
	require.Error(t, err)
}

func TestDerivedField_MatchAndDefault(t *testing.T) {
	df, err := NewDerivedField("domain", "@source_path",
		`([a-z]+\.[a-z]+)/([a-z]+)/[^/]+$`, "$2.$1", "common")
	require.NoError(t, err)

	src := &Source{
		Type:          "apache",
		Path:          "/var/log/apache2/foo.example/bar/error.log",
		Format:        "plain",
		DerivedFields: []DerivedField{df},
	}
	_, raw, err := Encode("boom", src, time.Now())
	require.NoError(t, err)
	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &event))
	fields := event["@fields"].(map[string]interface{})
	require.Equal(t, "bar.foo.example", fields["domain"])

	src.Path = "/tmp/x.log"
	_, raw, err = Encode("boom", src, time.Now())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &event))
	fields = event["@fields"].(map[string]interface{})
	require.Equal(t, "common", fields["domain"])
}

func TestFormatTimestamp_Milliseconds(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 123000000, time.FixedZone("", 2*3600))
	ts := formatTimestamp(now, true)
	require.Contains(t, ts, ".123")
	require.Contains(t, ts, "+02:00")
}
