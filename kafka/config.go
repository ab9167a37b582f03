package kafka

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"inviqa/event-outbox/config"

	"github.com/Shopify/sarama"
)

const (
	clientIdPrefix = "event-outbox"
	sendRetries    = 3
)

// NewSaramaConfig builds an idempotent producer config: the broker drops
// duplicates caused by producer retries, every in-sync replica acknowledges a
// write, and all events of one aggregate land on the same partition. Retries
// beyond sendRetries are left to the relay's backoff.
func NewSaramaConfig(cfg *config.Config) *sarama.Config {
	sc := sarama.NewConfig()

	sc.ClientID = clientIdPrefix
	if host, err := os.Hostname(); err == nil && host != "" {
		sc.ClientID = fmt.Sprintf("%s-%s", clientIdPrefix, host)
	}

	sc.Version = sarama.V2_4_0_0
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Idempotent = true
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = sendRetries
	sc.Producer.Compression = sarama.CompressionGZIP
	sc.Producer.Partitioner = NewAggregatePartitioner
	sc.Metadata.Retry.Max = 10
	sc.Metadata.Retry.Backoff = 2 * time.Second

	if cfg.TLSEnable {
		sc.Net.TLS.Enable = true
		// #nosec G402 -- skip-verify is an explicit opt-in through TLS_SKIP_VERIFY_PEER
		sc.Net.TLS.Config = &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerifyPeer}
	}

	return sc
}
