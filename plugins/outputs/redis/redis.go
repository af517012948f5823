// Package redis implements the Redis output sink: LPUSH envelopes onto a
// list key, with host-list failover and RESP multibulk framing (spec §4.3).
package redis

import (
	"bufio"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/wharfinger/wharfinger/internal/config"
	"github.com/wharfinger/wharfinger/internal/logging"
	"github.com/wharfinger/wharfinger/internal/secret"
	"github.com/wharfinger/wharfinger/plugins/outputs"
)

func init() {
	outputs.Add("redis", New)
}

// replyOK matches a successful reply to SELECT/AUTH/LPUSH: an integer
// reply or a simple-string "+OK" (spec §4.3 "Redis").
var replyOK = regexp.MustCompile(`^(:\d+|\+OK)\r\n`)

type Redis struct {
	log      logging.Logger
	hosts    []string // rotating failover queue, head tried first
	port     int
	db       int
	password *secret.Secret
	key      string
	timeout  time.Duration

	conn   net.Conn
	reader *bufio.Reader
}

// New builds the Redis sink from an `output { redis { ... } }` block.
func New(cfg *config.OutputConfig, log logging.Logger) (outputs.Sink, error) {
	raw := cfg.Raw
	hosts := raw.CSV("host")
	if len(hosts) == 0 {
		hosts = []string{"localhost"}
	}
	return &Redis{
		log:      log,
		hosts:    hosts,
		port:     raw.Int("port", 6379),
		db:       raw.Int("db", 0),
		password: raw.Secret("password"),
		key:      raw.StringDefault("key", "logstash"),
		timeout:  raw.Duration("timeout", 10*time.Second, time.Second),
	}, nil
}

func (r *Redis) Name() string { return fmt.Sprintf("redis:%s", r.key) }

// Push implements outputs.Sink: on failure the connection is discarded so
// the next Push reconnects and rotates to the next host (spec §4.3
// "Failure semantics").
func (r *Redis) Push(envelope []byte) error {
	if r.conn == nil {
		if err := r.connect(); err != nil {
			return err
		}
	}

	deadline := time.Now().Add(r.timeout)
	_ = r.conn.SetDeadline(deadline)

	if err := r.send(respCommand("LPUSH", r.key, string(envelope))); err != nil {
		r.disconnect()
		return err
	}
	return nil
}

func (r *Redis) connect() error {
	var lastErr error
	for i := 0; i < len(r.hosts); i++ {
		host := r.hosts[0]
		addr := fmt.Sprintf("%s:%d", host, r.port)
		conn, err := net.DialTimeout("tcp", addr, r.timeout)
		if err != nil {
			lastErr = err
			r.rotate()
			continue
		}

		r.conn = conn
		r.reader = bufio.NewReader(conn)
		r.rotate() // success: move this host to the tail for the next reconnect

		if err := r.handshake(); err != nil {
			r.disconnect()
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("redis: exhausted host list: %w", lastErr)
}

func (r *Redis) handshake() error {
	deadline := time.Now().Add(r.timeout)
	_ = r.conn.SetDeadline(deadline)

	if r.db != 0 {
		if err := r.send(respCommand("SELECT", fmt.Sprintf("%d", r.db))); err != nil {
			return err
		}
	}
	if r.password != nil && !r.password.Empty() {
		pw, err := r.password.Get()
		if err != nil {
			return err
		}
		if err := r.send(respCommand("AUTH", pw)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Redis) send(cmd []byte) error {
	if _, err := r.conn.Write(cmd); err != nil {
		return err
	}
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return err
	}
	if !replyOK.MatchString(line) {
		return fmt.Errorf("redis: unexpected reply %q", line)
	}
	return nil
}

func (r *Redis) rotate() {
	if len(r.hosts) < 2 {
		return
	}
	r.hosts = append(r.hosts[1:], r.hosts[0])
}

func (r *Redis) disconnect() {
	if r.conn != nil {
		_ = r.conn.Close()
	}
	r.conn = nil
	r.reader = nil
}

// respCommand encodes a Redis command as a RESP multibulk array, which
// (unlike the space-delimited inline protocol) is binary-safe for
// envelope payloads containing whitespace.
func respCommand(args ...string) []byte {
	out := fmt.Sprintf("*%d\r\n", len(args))
	for _, a := range args {
		out += fmt.Sprintf("$%d\r\n%s\r\n", len(a), a)
	}
	return []byte(out)
}
