package kafka

import (
	"errors"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/go-test/deep"
)

func TestNewAggregatePartitioner(t *testing.T) {
	deep.CompareUnexportedFields = true
	defer func() {
		deep.CompareUnexportedFields = false
	}()

	fp := &fakeHashPartitioner{}
	got := NewAggregatePartitionerWithCustomPartitioner("user.updated", fp)

	if diff := deep.Equal(AggregatePartitioner{topic: "user.updated", hash: fp}, got); diff != nil {
		t.Error(diff)
	}

	if got := NewAggregatePartitioner("user.registered").(AggregatePartitioner).topic; got != "user.registered" {
		t.Errorf("expected 'user.registered' as topic but got '%s'", got)
	}
}

func TestAggregatePartitioner_Partition(t *testing.T) {
	tests := []struct {
		name         string
		key          sarama.Encoder
		hashErr      error
		wantHashedOn string
		wantErr      bool
	}{
		{name: "aggregate id decides the partition", key: newMessageKey("e-1", "user-42"), wantHashedOn: "user-42"},
		{name: "event id is used without an aggregate id", key: newMessageKey("e-1", ""), wantHashedOn: "e-1"},
		{name: "other keys are hashed as they are", key: sarama.StringEncoder("plain"), wantHashedOn: "plain"},
		{name: "nil keys are left to the hash partitioner", key: nil, wantHashedOn: ""},
		{name: "hash partitioner errors are returned", key: newMessageKey("e-1", "user-42"), hashErr: errors.New("no partitions"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := &fakeHashPartitioner{partition: 7, err: tt.hashErr}
			msg := &sarama.ProducerMessage{Key: tt.key}

			got, err := NewAggregatePartitionerWithCustomPartitioner("user.updated", fp).Partition(msg, 10)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Partition() error = %v, wantErr %t", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			if got != 7 || fp.numPartitions != 10 {
				t.Errorf("expected partition 7 of 10, got %d of %d", got, fp.numPartitions)
			}

			if fp.hashedOn != tt.wantHashedOn {
				t.Errorf("expected the partitioner to hash '%s', got '%s'", tt.wantHashedOn, fp.hashedOn)
			}

			if diff := deep.Equal(msg.Key, tt.key); diff != nil {
				t.Errorf("the message key must not change: %v", diff)
			}
		})
	}
}

func TestAggregatePartitioner_RequiresConsistency(t *testing.T) {
	if !(AggregatePartitioner{}).RequiresConsistency() {
		t.Error("expected AggregatePartitioner to require consistency, but it does not")
	}
}

type fakeHashPartitioner struct {
	hashedOn      string
	numPartitions int32
	partition     int32
	err           error
}

func (fp *fakeHashPartitioner) Partition(message *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	if message.Key != nil {
		key, err := message.Key.Encode()
		if err != nil {
			return 0, err
		}
		fp.hashedOn = string(key)
	}
	fp.numPartitions = numPartitions

	return fp.partition, fp.err
}

func (fp *fakeHashPartitioner) RequiresConsistency() bool {
	return false
}
