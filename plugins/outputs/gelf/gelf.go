// Package gelf implements the GELF 1.1 UDP output sink: build a GELF
// object from the envelope's source host and message, optionally gzip it,
// and send it as one datagram (spec §4.3 "GELF").
package gelf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/wharfinger/wharfinger/internal/config"
	"github.com/wharfinger/wharfinger/internal/logging"
	"github.com/wharfinger/wharfinger/plugins/outputs"
)

func init() {
	outputs.Add("gelf", New)
}

// maxDatagram is the GELF UDP payload ceiling; oversize messages are
// dropped rather than stashed (spec §4.3: "succeed silently to avoid
// stashing").
const maxDatagram = 8192

type envelopeView struct {
	SourceHost string `json:"@source_host"`
	Message    string `json:"@message"`
}

type gelfMessage struct {
	Version      string `json:"version"`
	Host         string `json:"host"`
	ShortMessage string `json:"short_message"`
	Level        string `json:"level"`
	Facility     string `json:"facility"`
}

type GELF struct {
	log      logging.Logger
	addr     string
	gzip     bool
	facility string
	timeout  time.Duration

	conn net.Conn
}

// New builds the GELF UDP sink from an `output { gelf { ... } }` block.
func New(cfg *config.OutputConfig, log logging.Logger) (outputs.Sink, error) {
	raw := cfg.Raw
	host := raw.StringDefault("host", "localhost")
	port := raw.Int("port", 12201)
	return &GELF{
		log:      log,
		addr:     fmt.Sprintf("%s:%d", host, port),
		gzip:     raw.Bool("gzip", false),
		facility: raw.StringDefault("facility", "wharfinger"),
		timeout:  raw.Duration("timeout", 10*time.Second, time.Second),
	}, nil
}

func (g *GELF) Name() string { return fmt.Sprintf("gelf:%s", g.addr) }

func (g *GELF) Push(envelope []byte) error {
	var view envelopeView
	if err := json.Unmarshal(envelope, &view); err != nil {
		g.log.Errorf("gelf: decoding envelope: %v", err)
		return nil // message-level error, not a sink failure (§4.4/§4.3)
	}

	msg := gelfMessage{
		Version:      "1.1",
		Host:         view.SourceHost,
		ShortMessage: view.Message,
		Level:        "1",
		Facility:     g.facility,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		g.log.Errorf("gelf: encoding message: %v", err)
		return nil
	}

	if g.gzip {
		payload, err = gzipBytes(payload)
		if err != nil {
			g.log.Errorf("gelf: gzip: %v", err)
			return nil
		}
	}

	if len(payload) > maxDatagram {
		g.log.Errorf("gelf: payload of %d bytes exceeds the %d byte datagram limit, dropping", len(payload), maxDatagram)
		return nil
	}

	if g.conn == nil {
		conn, err := net.DialTimeout("udp", g.addr, g.timeout)
		if err != nil {
			return err
		}
		g.conn = conn
	}

	_ = g.conn.SetWriteDeadline(time.Now().Add(g.timeout))
	if _, err := g.conn.Write(payload); err != nil {
		_ = g.conn.Close()
		g.conn = nil
		// UDP send errors are transient and silent per the source's "fire
		// and forget" datagram semantics — do not stash.
		g.log.Warnf("gelf: send failed: %v", err)
		return nil
	}
	return nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
