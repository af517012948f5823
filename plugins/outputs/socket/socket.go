// Package socket implements the line-shipper output sink: connect
// (optionally over TLS), authenticate, push "envelope\n" per line, and
// optionally verify a response (spec §4.3 "Socket (line shipper)").
package socket

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/wharfinger/wharfinger/internal/config"
	"github.com/wharfinger/wharfinger/internal/logging"
	"github.com/wharfinger/wharfinger/internal/secret"
	"github.com/wharfinger/wharfinger/plugins/outputs"
)

func init() {
	outputs.Add("socket", New)
}

const (
	verifyPeer             = 0x01
	verifyFailIfNoPeerCert = 0x02
)

type Socket struct {
	log        logging.Logger
	hosts      []string
	port       int
	tlsConfig  *tls.Config
	auth       *secret.Secret
	response   *regexp.Regexp
	persistent bool
	timeout    time.Duration

	conn   net.Conn
	reader *bufio.Reader
}

// New builds the socket line-shipper sink from an `output { socket { ... } }`
// block.
func New(cfg *config.OutputConfig, log logging.Logger) (outputs.Sink, error) {
	raw := cfg.Raw
	hosts := raw.CSV("host")
	if len(hosts) == 0 {
		hosts = []string{"localhost"}
	}

	s := &Socket{
		log:        log,
		hosts:      hosts,
		port:       raw.Int("port", 0),
		auth:       raw.Secret("auth"),
		persistent: raw.Bool("persistent", true),
		timeout:    raw.Duration("timeout", 10*time.Second, time.Second),
	}

	if pattern := raw.String("response"); pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("response pattern: %w", err)
		}
		s.response = re
	}

	if ssl := raw.Block("ssl"); ssl != nil || raw.Bool("ssl", false) {
		cfg, err := buildTLSConfig(raw)
		if err != nil {
			return nil, fmt.Errorf("tls config: %w", err)
		}
		s.tlsConfig = cfg
	}

	return s, nil
}

func buildTLSConfig(raw *config.Section) (*tls.Config, error) {
	ssl := raw.Block("ssl")
	if ssl == nil {
		ssl = raw
	}
	cfg := &tls.Config{InsecureSkipVerify: ssl.Int("verify_mode", 0)&verifyPeer == 0} //nolint:gosec // verify_mode 0 is NONE, per spec's explicit mapping
	if ca := ssl.String("ca"); ca != "" {
		pool, err := loadCAPool(ca)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if cert := ssl.String("cert"); cert != "" {
		pair, err := tls.LoadX509KeyPair(cert, ssl.String("key"))
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{pair}
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

func (s *Socket) Name() string { return fmt.Sprintf("socket:%s", s.hosts[0]) }

func (s *Socket) Push(envelope []byte) error {
	if s.conn == nil {
		if err := s.connect(); err != nil {
			return err
		}
	}

	_ = s.conn.SetDeadline(time.Now().Add(s.timeout))
	line := make([]byte, 0, len(envelope)+1)
	line = append(line, envelope...)
	line = append(line, '\n')
	if _, err := s.conn.Write(line); err != nil {
		s.disconnect()
		return err
	}

	if s.response != nil {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.disconnect()
			return err
		}
		if !s.response.MatchString(strings.TrimRight(line, "\n")) {
			s.disconnect()
			return fmt.Errorf("socket: response %q did not match", line)
		}
	}

	if !s.persistent {
		s.disconnect()
	}
	return nil
}

func (s *Socket) connect() error {
	var lastErr error
	for i := 0; i < len(s.hosts); i++ {
		host := s.hosts[0]
		addr := fmt.Sprintf("%s:%d", host, s.port)

		var conn net.Conn
		var err error
		if s.tlsConfig != nil {
			conn, err = tls.DialWithDialer(&net.Dialer{Timeout: s.timeout}, "tcp", addr, s.tlsConfig)
		} else {
			conn, err = net.DialTimeout("tcp", addr, s.timeout)
		}
		if err != nil {
			lastErr = err
			s.rotate()
			continue
		}

		s.conn = conn
		s.reader = bufio.NewReader(conn)
		s.rotate()

		if s.auth != nil && !s.auth.Empty() {
			if err := s.authenticate(); err != nil {
				s.disconnect()
				lastErr = err
				continue
			}
		}
		return nil
	}
	return fmt.Errorf("socket: exhausted host list: %w", lastErr)
}

func (s *Socket) authenticate() error {
	_ = s.conn.SetDeadline(time.Now().Add(s.timeout))
	pw, err := s.auth.Get()
	if err != nil {
		return err
	}
	if _, err := s.conn.Write([]byte(pw + "\n")); err != nil {
		return err
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return err
	}
	if strings.TrimRight(line, "\n") == "" {
		return fmt.Errorf("socket: auth rejected")
	}
	return nil
}

func (s *Socket) rotate() {
	if len(s.hosts) < 2 {
		return
	}
	s.hosts = append(s.hosts[1:], s.hosts[0])
}

func (s *Socket) disconnect() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil
	s.reader = nil
}
