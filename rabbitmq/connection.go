package rabbitmq

import (
	"crypto/tls"
	"net/url"
	"sync"
	"time"

	"inviqa/event-outbox/config"
	"inviqa/event-outbox/log"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const heartbeat = 10 * time.Second

// Connection lazily dials the broker and redials once the previous connection
// has been closed, so channels can be reopened after a broker restart.
type Connection struct {
	url  string
	cfg  amqp.Config
	mu   sync.Mutex
	conn *amqp.Connection
}

func NewConnection(cfg *config.Config) *Connection {
	amqpCfg := amqp.Config{
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: amqp.NewConnectionProperties(),
	}
	amqpCfg.Properties.SetClientConnectionName("event-outbox")

	if u, err := url.Parse(cfg.AMQPUrl); err == nil && u.Scheme == "amqps" && cfg.TLSSkipVerifyPeer {
		amqpCfg.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Connection{
		url: cfg.AMQPUrl,
		cfg: amqpCfg,
	}
}

func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		log.Logger.Debug("dialling rabbitmq")

		conn, err := amqp.DialConfig(c.url, c.cfg)
		if err != nil {
			return nil, errors.Wrap(err, "rabbitmq: unable to connect")
		}
		c.conn = conn
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "rabbitmq: unable to open a channel")
	}

	return ch, nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}

	return c.conn.Close()
}
