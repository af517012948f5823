// Package socket implements C2, the line-oriented TCP (optionally TLS)
// listener: accept connections, optionally challenge-authenticate them,
// and buffer one line per pull per connection.
package socket

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/wharfinger/wharfinger/internal/config"
	"github.com/wharfinger/wharfinger/internal/logging"
	"github.com/wharfinger/wharfinger/plugins/inputs"
)

func init() {
	inputs.Add("socket", New)
}

// acceptPollDeadline and readPollDeadline bound the accept attempt and every
// per-connection read to a few milliseconds (spec §4.2 "ready-set query",
// §5 "neither component may block without a timeout"): the single-threaded
// cooperative engine calls Pull once per tick across every input, so a
// multi-second block here would stall every other input in the process
// group along with it. authDeadline bounds the one exception: reading the
// credential line from a newly accepted connection when auth is set.
const (
	acceptPollDeadline = 1 * time.Millisecond
	readPollDeadline   = 1 * time.Millisecond
	authDeadline       = 5 * time.Second
)

// TLS verify-mode bits, mirroring OpenSSL's SSL_VERIFY_* constants that the
// source config exposes directly (spec §4.2).
const (
	verifyNone             = 0x00
	verifyPeer             = 0x01
	verifyFailIfNoPeerCert = 0x02
	verifyClientOnce       = 0x04
)

type spawner struct {
	cfg      *config.InputConfig
	log      logging.Logger
	listener net.Listener
	auth     string
	response string
}

// New opens the listening socket once, shared by every worker this input's
// `workers` count spawns (spec §4.2 "independent listener socket
// (SO_REUSEADDR)", §7 "shared resources").
func New(cfg *config.InputConfig, log logging.Logger) (inputs.Spawner, error) {
	raw := cfg.Raw
	addr := fmt.Sprintf("%s:%d", raw.StringDefault("host", "0.0.0.0"), raw.Int("port", 0))

	var ln net.Listener
	var err error
	if raw.Block("ssl") != nil || raw.Bool("ssl", false) {
		tlsCfg, terr := buildTLSConfig(raw)
		if terr != nil {
			return nil, fmt.Errorf("tls config: %w", terr)
		}
		ln, err = tls.Listen("tcp", addr, tlsCfg)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	return &spawner{
		cfg:      cfg,
		log:      log,
		listener: ln,
		auth:     raw.String("auth"),
		response: raw.String("response"),
	}, nil
}

func buildTLSConfig(raw *config.Section) (*tls.Config, error) {
	ssl := raw.Block("ssl")
	if ssl == nil {
		ssl = raw
	}
	cert, err := tls.LoadX509KeyPair(ssl.String("cert"), ssl.String("key"))
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	mode := ssl.Int("verify_mode", verifyNone)
	if mode&verifyPeer != 0 {
		if mode&verifyFailIfNoPeerCert != 0 {
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			cfg.ClientAuth = tls.VerifyClientCertIfGiven
		}
	}
	if ca := ssl.String("ca"); ca != "" {
		pool, err := loadCAPool(ca)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
	}
	return cfg, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates parsed from %s", path)
	}
	return pool, nil
}

func (s *spawner) Spawn() (inputs.Puller, error) {
	return &listener{
		listener: s.listener,
		log:      s.log,
		auth:     s.auth,
		response: s.response,
		conns:    make(map[net.Conn][]byte),
	}, nil
}

// listener is one worker's accept loop and connection set (spec §4.2).
// Multiple workers spawned from the same spawner share the underlying
// net.Listener but never this struct — each tracks its own accepted
// connections independently. Each tracked connection's value is the bytes
// read since its last '\n', not yet a complete line (mirrors the file
// tailer's manual buffering: bufio.Reader.ReadString discards exactly
// this kind of partial-line tail on a timeout error, so it cannot be used
// here once reads are deadline-bounded).
type listener struct {
	listener net.Listener
	log      logging.Logger
	auth     string
	response string

	conns map[net.Conn][]byte
}

func (l *listener) Close() error {
	for c := range l.conns {
		_ = c.Close()
	}
	return nil
}

// Pull implements inputs.Puller: one non-blocking accept attempt followed
// by at most one line from each tracked connection, up to max total lines
// (spec §4.2). Accept and reads carry a millisecond-scale deadline, so an
// idle listener or a silent connection never stalls the tick beyond that
// (spec §5); only the auth challenge of a new connection may take up to
// authDeadline.
func (l *listener) Pull(max int) ([]string, bool) {
	l.acceptOnce()

	var lines []string
	for conn, partial := range l.conns {
		if len(lines) >= max {
			break
		}
		got, newPartial, closed := readAvailableLines(conn, partial, 1)
		if len(got) > 0 {
			lines = append(lines, got...)
			if l.response != "" {
				for range got {
					_, _ = conn.Write([]byte(l.response + "\n"))
				}
			}
		}
		if closed {
			delete(l.conns, conn)
			_ = conn.Close()
			continue
		}
		l.conns[conn] = newPartial
	}
	return lines, true
}

// readAvailableLines drains whatever is already waiting on conn (bounded
// by readPollDeadline per underlying Read) and splits it into complete
// lines, carrying any trailing partial line forward in the returned
// buffer. closed is true only on a non-timeout error (EOF, reset, etc.) —
// a timeout simply means nothing more is ready this tick.
func readAvailableLines(conn net.Conn, partial []byte, max int) (lines []string, newPartial []byte, closed bool) {
	newPartial = partial
	buf := make([]byte, 4096)

	for len(lines) < max {
		for len(lines) < max {
			idx := bytes.IndexByte(newPartial, '\n')
			if idx < 0 {
				break
			}
			lines = append(lines, strings.TrimRight(string(newPartial[:idx]), "\n"))
			newPartial = newPartial[idx+1:]
		}
		if len(lines) >= max {
			return lines, newPartial, false
		}

		_ = conn.SetReadDeadline(time.Now().Add(readPollDeadline))
		n, err := conn.Read(buf)
		if n > 0 {
			newPartial = append(newPartial, buf[:n]...)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return lines, newPartial, false
			}
			return lines, newPartial, true
		}
		if n == 0 {
			return lines, newPartial, true
		}
	}
	return lines, newPartial, false
}

// acceptOnce makes one non-blocking accept attempt: the listener's accept
// deadline is set a millisecond into the future on every call, so Accept
// returns immediately with a timeout error when no connection is already
// queued instead of blocking the tick.
func (l *listener) acceptOnce() {
	if d, ok := l.listener.(interface{ SetDeadline(time.Time) error }); ok {
		_ = d.SetDeadline(time.Now().Add(acceptPollDeadline))
	}

	conn, err := l.listener.Accept()
	if err != nil {
		return
	}

	if l.auth != "" {
		if !l.challenge(conn) {
			_ = conn.Close()
			return
		}
	}
	l.conns[conn] = nil
}

func (l *listener) challenge(conn net.Conn) bool {
	_ = conn.SetDeadline(time.Now().Add(authDeadline))
	defer conn.SetDeadline(time.Time{})

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		return false
	}
	ok := strings.TrimRight(line, "\n") == l.auth
	if ok {
		_, _ = conn.Write([]byte("1\n"))
	} else {
		_, _ = conn.Write([]byte("0\n"))
	}
	return ok
}
