package test

import (
	"fmt"
	"sync"

	"github.com/Shopify/sarama"
	"github.com/go-test/deep"
)

// MockSyncProducer records produced messages per topic. It is used where the
// sarama mocks would need an expectation for every message.
type MockSyncProducer struct {
	sync.Mutex
	producedMessages map[string][]*sarama.ProducerMessage
	sendError        error
	closed           bool
}

func NewMockSyncProducer() *MockSyncProducer {
	return &MockSyncProducer{
		producedMessages: map[string][]*sarama.ProducerMessage{},
	}
}

func (m *MockSyncProducer) MessageWasProduced(topic string, exp *sarama.ProducerMessage) error {
	m.Lock()
	defer m.Unlock()

	if _, ok := m.producedMessages[topic]; !ok {
		return fmt.Errorf("0 messages produced for the %s topic", topic)
	}

	for _, msg := range m.producedMessages[topic] {
		if diff := deep.Equal(exp, msg); diff == nil {
			return nil
		}
	}
	return fmt.Errorf("no message published in topic %s that matches provided message %#v", topic, exp)
}

func (m *MockSyncProducer) ProducedCount(topic string) int {
	m.Lock()
	defer m.Unlock()
	return len(m.producedMessages[topic])
}

func (m *MockSyncProducer) FailWith(err error) {
	m.Lock()
	defer m.Unlock()
	m.sendError = err
}

func (m *MockSyncProducer) SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error) {
	m.Lock()
	defer m.Unlock()

	if m.sendError != nil {
		return 0, 0, m.sendError
	}

	m.producedMessages[msg.Topic] = append(m.producedMessages[msg.Topic], msg)

	return 0, int64(len(m.producedMessages[msg.Topic]) - 1), nil
}

func (m *MockSyncProducer) SendMessages(msgs []*sarama.ProducerMessage) error {
	for _, msg := range msgs {
		if _, _, err := m.SendMessage(msg); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockSyncProducer) Close() error {
	m.Lock()
	defer m.Unlock()
	m.closed = true
	return nil
}
