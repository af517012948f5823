// Package amqp implements the AMQP 0-9-1 output sink: declare exchange and
// queue on first push, publish every envelope with the queue name as
// routing key (spec §4.3 "AMQP").
package amqp

import (
	"context"
	"fmt"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/wharfinger/wharfinger/internal/config"
	"github.com/wharfinger/wharfinger/internal/logging"
	"github.com/wharfinger/wharfinger/internal/secret"
	"github.com/wharfinger/wharfinger/plugins/outputs"
)

func init() {
	outputs.Add("amqp", New)
}

type AMQP struct {
	log  logging.Logger
	host string
	port int
	user string
	pass *secret.Secret
	vhost string

	exchange     string
	exchangeType string
	durable      bool
	autoDelete   bool
	exclusive    bool

	queue   string
	timeout time.Duration

	conn *amqp091.Connection
	ch   *amqp091.Channel
}

// New builds the AMQP sink from an `output { amqp { ... } }` block.
func New(cfg *config.OutputConfig, log logging.Logger) (outputs.Sink, error) {
	raw := cfg.Raw
	return &AMQP{
		log:          log,
		host:         raw.StringDefault("host", "localhost"),
		port:         raw.Int("port", 5672),
		user:         raw.StringDefault("user", "guest"),
		pass:         raw.Secret("password"),
		vhost:        raw.StringDefault("vhost", "/"),
		exchange:     raw.StringDefault("exchange", "logstash"),
		exchangeType: raw.StringDefault("exchange_type", "direct"),
		durable:      raw.Bool("durable", true),
		autoDelete:   raw.Bool("auto_delete", false),
		exclusive:    raw.Bool("exclusive", false),
		queue:        raw.StringDefault("queue", "logstash-queue"),
		timeout:      raw.Duration("timeout", 10*time.Second, time.Second),
	}, nil
}

func (a *AMQP) Name() string { return fmt.Sprintf("amqp:%s", a.queue) }

func (a *AMQP) Push(envelope []byte) error {
	if a.ch == nil {
		if err := a.connect(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	err := a.ch.PublishWithContext(ctx, a.exchange, a.queue, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        envelope,
	})
	if err != nil {
		a.disconnect()
		return err
	}
	return nil
}

func (a *AMQP) connect() error {
	password := ""
	if a.pass != nil && !a.pass.Empty() {
		pw, err := a.pass.Get()
		if err != nil {
			return err
		}
		password = pw
	}

	uri := amqp091.URI{
		Scheme:   "amqp",
		Host:     a.host,
		Port:     a.port,
		Username: a.user,
		Password: password,
		Vhost:    a.vhost,
	}

	conn, err := amqp091.DialConfig(uri.String(), amqp091.Config{Dial: amqp091.DefaultDial(a.timeout)})
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(a.exchange, a.exchangeType, a.durable, a.autoDelete, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp exchange declare: %w", err)
	}
	if _, err := ch.QueueDeclare(a.queue, a.durable, a.autoDelete, a.exclusive, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp queue declare: %w", err)
	}
	if err := ch.QueueBind(a.queue, a.queue, a.exchange, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp queue bind: %w", err)
	}

	a.conn = conn
	a.ch = ch
	return nil
}

func (a *AMQP) disconnect() {
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.conn != nil {
		_ = a.conn.Close()
	}
	a.ch = nil
	a.conn = nil
}
