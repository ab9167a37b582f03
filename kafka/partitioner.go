package kafka

import (
	"github.com/Shopify/sarama"
)

// AggregatePartitioner routes every event of an aggregate to the same
// partition, which keeps them in order for consumers of the topic. Messages
// without a MessageKey fall through to plain key hashing.
type AggregatePartitioner struct {
	topic string
	hash  sarama.Partitioner
}

func NewAggregatePartitioner(topic string) sarama.Partitioner {
	return NewAggregatePartitionerWithCustomPartitioner(topic, sarama.NewHashPartitioner(topic))
}

func NewAggregatePartitionerWithCustomPartitioner(topic string, p sarama.Partitioner) sarama.Partitioner {
	return AggregatePartitioner{topic: topic, hash: p}
}

func (a AggregatePartitioner) Partition(message *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	mk, ok := message.Key.(MessageKey)
	if !ok {
		return a.hash.Partition(message, numPartitions)
	}

	byAggregate := *message
	byAggregate.Key = sarama.StringEncoder(mk.partitionKey())

	return a.hash.Partition(&byAggregate, numPartitions)
}

func (a AggregatePartitioner) RequiresConsistency() bool {
	return true
}
