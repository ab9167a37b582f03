package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"inviqa/event-outbox/log"

	"github.com/alexflint/go-arg"
)

const (
	MySQL    DbDriver = "mysql"
	Postgres DbDriver = "postgres"

	AMQP  Broker = "amqp"
	Kafka Broker = "kafka"

	maxBackoffExponentLimit = 20
)

type DbDriver string

type Broker string

var supportedDbTypes = map[DbDriver]bool{
	Postgres: true,
	MySQL:    true,
}

// go-arg cannot render a slice default back into its own syntax, so these are
// applied after parsing.
var defaultRoutingKeys = []string{"user.registered", "user.updated", "user.deleted"}

var supportedBrokers = map[Broker]bool{
	AMQP:  true,
	Kafka: true,
}

type Config struct {
	SkipMigrations bool     `arg:"--skip-migrations,env:SKIP_MIGRATIONS"`
	DBHost         string   `arg:"--db-host,env:DB_HOST,required"`
	DBPort         uint32   `arg:"--db-port,env:DB_PORT,required"`
	DBUser         string   `arg:"--db-user,env:DB_USER,required"`
	DBPass         string   `arg:"--db-pass,env:DB_PASS,required"`
	DBSchema       string   `arg:"--db-schema,env:DB_SCHEMA,required"`
	DBDriver       DbDriver `arg:"--db-driver,env:DB_DRIVER,required"`
	DBOutboxTable  string   `arg:"--db-outbox-table,env:DB_OUTBOX_TABLE"`
	DBLedgerTable  string   `arg:"--db-ledger-table,env:DB_LEDGER_TABLE"`

	Broker               Broker   `arg:"--broker,env:BROKER" help:"relay destination: amqp or kafka"`
	AMQPUrl              string   `arg:"--amqp-url,env:AMQP_URL"`
	AMQPExchange         string   `arg:"--amqp-exchange,env:AMQP_EXCHANGE"`
	AMQPQueue            string   `arg:"--amqp-queue,env:AMQP_QUEUE"`
	AMQPRoutingKeys      []string `arg:"--amqp-routing-keys,env:AMQP_ROUTING_KEYS"`
	AMQPQueueType        string   `arg:"--amqp-queue-type,env:AMQP_QUEUE_TYPE"`
	AMQPConfirmTimeoutMs int      `arg:"--amqp-confirm-timeout-ms,env:AMQP_CONFIRM_TIMEOUT_MS"`
	KafkaHost            []string `arg:"--kafka-host,env:KAFKA_HOST"`
	TLSEnable            bool     `arg:"--tls,env:TLS_ENABLE"`
	TLSSkipVerifyPeer    bool     `arg:"--tls-skip-verify-peer,env:TLS_SKIP_VERIFY_PEER"`

	WriteConcurrency        int `arg:"--write-concurrency,env:WRITE_CONCURRENCY"`
	PollFrequencyMs         int `arg:"--poll-frequency-ms,env:POLL_FREQUENCY_MS"`
	BatchSize               int `arg:"--batch-size,env:BATCH_SIZE"`
	RelayMaxRetries         int `arg:"--relay-max-retries,env:RELAY_MAX_RETRIES" help:"0 retries forever"`
	RelayMaxBackoffExponent int `arg:"--relay-max-backoff-exponent,env:RELAY_MAX_BACKOFF_EXPONENT"`
	RelayStaleAfterSeconds  int `arg:"--relay-stale-after-seconds,env:RELAY_STALE_AFTER_SECONDS"`

	RunConsumer             bool   `arg:"--consume,env:RUN_CONSUMER"`
	ConsumerMaxRedeliveries int    `arg:"--consumer-max-redeliveries,env:CONSUMER_MAX_REDELIVERIES"`
	RedisAddr               string `arg:"--redis-addr,env:REDIS_ADDR"`
	RedisPassword           string `arg:"--redis-password,env:REDIS_PASSWORD"`
	RedisDB                 int    `arg:"--redis-db,env:REDIS_DB"`
	ReadModelTTLSeconds     int    `arg:"--read-model-ttl-seconds,env:READ_MODEL_TTL_SECONDS"`

	RunReplay           bool   `arg:"--replay,env:RUN_REPLAY"`
	ReplayEventType     string `arg:"--replay-event-type,env:REPLAY_EVENT_TYPE"`
	ReplayIncludeFailed bool   `arg:"--replay-include-failed,env:REPLAY_INCLUDE_FAILED"`
	RunOptimize         bool   `arg:"--optimize,env:RUN_OPTIMIZE"`
	SidecarProxyUrl     string `arg:"--sidecar-proxy-url,env:SIDECAR_PROXY_URL"`
	HttpAddr            string `arg:"--http-addr,env:HTTP_ADDR"`
}

func NewConfig() (*Config, error) {
	var args []string
	if len(os.Args) > 1 {
		args = os.Args[1:]
	}

	return parse(args)
}

func newDefaultConfig() *Config {
	return &Config{
		DBOutboxTable:           "outbox_events",
		DBLedgerTable:           "processed_events",
		Broker:                  AMQP,
		AMQPExchange:            "events",
		AMQPQueueType:           "quorum",
		AMQPConfirmTimeoutMs:    5000,
		WriteConcurrency:        1,
		PollFrequencyMs:         2000,
		BatchSize:               100,
		RelayMaxBackoffExponent: 6,
		RelayStaleAfterSeconds:  600,
		ConsumerMaxRedeliveries: 5,
		HttpAddr:                ":80",
	}
}

func parse(args []string) (*Config, error) {
	c := newDefaultConfig()

	p, err := arg.NewParser(arg.Config{Program: "event-outbox"}, c)
	if err != nil {
		return nil, err
	}

	if err := p.Parse(args); err != nil {
		if errors.Is(err, arg.ErrHelp) {
			p.WriteHelp(os.Stdout)
			os.Exit(0)
		}
		return nil, err
	}

	if len(c.AMQPRoutingKeys) == 0 {
		c.AMQPRoutingKeys = append([]string(nil), defaultRoutingKeys...)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) validate() error {
	if !supportedDbTypes[c.DBDriver] {
		return fmt.Errorf("the DB_DRIVER provided (%s) is not supported", c.DBDriver)
	}

	if !supportedBrokers[c.Broker] {
		return fmt.Errorf("the BROKER provided (%s) is not supported", c.Broker)
	}

	if (c.Broker == AMQP || c.RunConsumer) && c.AMQPUrl == "" {
		return errors.New("AMQP_URL is required to relay to or consume from RabbitMQ")
	}

	if c.Broker == Kafka && len(c.KafkaHost) == 0 {
		return errors.New("KAFKA_HOST is required when BROKER is kafka")
	}

	if c.RunConsumer && (c.AMQPQueue == "" || len(c.AMQPRoutingKeys) == 0) {
		return errors.New("AMQP_QUEUE and AMQP_ROUTING_KEYS are required to run the consumer")
	}

	if c.RunConsumer && c.RedisAddr == "" {
		return errors.New("REDIS_ADDR is required to run the consumer")
	}

	if c.BatchSize < 1 || c.WriteConcurrency < 1 || c.PollFrequencyMs < 1 {
		return errors.New("BATCH_SIZE, WRITE_CONCURRENCY and POLL_FREQUENCY_MS must be positive")
	}

	if c.RelayMaxBackoffExponent < 0 || c.RelayMaxBackoffExponent > maxBackoffExponentLimit {
		return fmt.Errorf("RELAY_MAX_BACKOFF_EXPONENT must be between 0 and %d", maxBackoffExponentLimit)
	}

	if c.AMQPConfirmTimeoutMs < 1 {
		return errors.New("AMQP_CONFIRM_TIMEOUT_MS must be positive")
	}

	if c.GetStaleAfterDuration() <= c.GetConfirmTimeout() {
		return errors.New("RELAY_STALE_AFTER_SECONDS must be positive and longer than AMQP_CONFIRM_TIMEOUT_MS")
	}

	if c.RelayMaxRetries < 0 || c.ConsumerMaxRedeliveries < 0 {
		return errors.New("RELAY_MAX_RETRIES and CONSUMER_MAX_REDELIVERIES cannot be negative")
	}

	return nil
}

func (c *Config) GetPollIntervalDurationInMs() time.Duration {
	return time.Duration(c.PollFrequencyMs) * time.Millisecond
}

func (c *Config) GetStaleAfterDuration() time.Duration {
	return time.Duration(c.RelayStaleAfterSeconds) * time.Second
}

func (c *Config) GetConfirmTimeout() time.Duration {
	return time.Duration(c.AMQPConfirmTimeoutMs) * time.Millisecond
}

func (c *Config) GetReadModelTTL() time.Duration {
	return time.Duration(c.ReadModelTTLSeconds) * time.Second
}

func (c *Config) GetDSN() string {
	switch c.DBDriver {
	case MySQL:
		tls := "false"
		if c.TLSEnable {
			if c.TLSSkipVerifyPeer {
				tls = "skip-verify"
			} else {
				tls = "true"
			}
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC&tls=%s&multiStatements=true", c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBSchema, tls)
	case Postgres:
		sslMode := "disable"
		if c.TLSEnable {
			if c.TLSSkipVerifyPeer {
				sslMode = "require"
			} else {
				sslMode = "verify-full"
			}
		}
		return fmt.Sprintf("%s://%s@%s:%d/%s?sslmode=%s", c.DBDriver, url.UserPassword(c.DBUser, c.DBPass), c.DBHost, c.DBPort, c.DBSchema, sslMode)
	default:
		log.Logger.Fatalf("the DB driver configured (%s) is not supported", c.DBDriver)
		return ""
	}
}

// GetDependencySystemAddresses returns the host:port pairs the readiness probe
// dials: the broker in use and, when consuming, Redis.
func (c *Config) GetDependencySystemAddresses() []string {
	var addrs []string

	if c.Broker == Kafka && !c.RunConsumer {
		addrs = append(addrs, c.KafkaHost...)
	} else if addr := amqpHostPort(c.AMQPUrl); addr != "" {
		addrs = append(addrs, addr)
	}

	if c.RunConsumer && c.RedisAddr != "" {
		addrs = append(addrs, c.RedisAddr)
	}

	return addrs
}

func amqpHostPort(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}

	if u.Port() != "" {
		return u.Host
	}

	port := "5672"
	if u.Scheme == "amqps" {
		port = "5671"
	}

	return net.JoinHostPort(u.Hostname(), port)
}

func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"SkipMigrations":          c.SkipMigrations,
		"DBHost":                  c.DBHost,
		"DBPort":                  c.DBPort,
		"DBUser":                  c.DBUser,
		"DBPass":                  "xxxxx",
		"DBSchema":                c.DBSchema,
		"DBDriver":                c.DBDriver,
		"DBOutboxTable":           c.DBOutboxTable,
		"DBLedgerTable":           c.DBLedgerTable,
		"Broker":                  c.Broker,
		"AMQPUrl":                 redactURL(c.AMQPUrl),
		"AMQPExchange":            c.AMQPExchange,
		"AMQPQueue":               c.AMQPQueue,
		"AMQPRoutingKeys":         c.AMQPRoutingKeys,
		"AMQPQueueType":           c.AMQPQueueType,
		"AMQPConfirmTimeoutMs":    c.AMQPConfirmTimeoutMs,
		"KafkaHost":               c.KafkaHost,
		"TLSEnable":               c.TLSEnable,
		"TLSSkipVerifyPeer":       c.TLSSkipVerifyPeer,
		"WriteConcurrency":        c.WriteConcurrency,
		"PollFrequencyMs":         c.PollFrequencyMs,
		"BatchSize":               c.BatchSize,
		"RelayMaxRetries":         c.RelayMaxRetries,
		"RelayMaxBackoffExponent": c.RelayMaxBackoffExponent,
		"RelayStaleAfterSeconds":  c.RelayStaleAfterSeconds,
		"RunConsumer":             c.RunConsumer,
		"ConsumerMaxRedeliveries": c.ConsumerMaxRedeliveries,
		"RedisAddr":               c.RedisAddr,
		"RedisPassword":           "xxxxx",
		"RedisDB":                 c.RedisDB,
		"ReadModelTTLSeconds":     c.ReadModelTTLSeconds,
		"RunReplay":               c.RunReplay,
		"ReplayEventType":         c.ReplayEventType,
		"ReplayIncludeFailed":     c.ReplayIncludeFailed,
		"RunOptimize":             c.RunOptimize,
		"SidecarProxyUrl":         c.SidecarProxyUrl,
		"HttpAddr":                c.HttpAddr,
	})
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}

	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}

	return u.String()
}

func (d DbDriver) MySQL() bool {
	return d == MySQL
}

func (d DbDriver) Postgres() bool {
	return d == Postgres
}

func (d DbDriver) String() string {
	return string(d)
}

func (b Broker) String() string {
	return string(b)
}
