package appkafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// MockKafka records written messages and serves ReadMessages in order.
// With Loopback set, every written message is also queued for reading,
// which lets a relay consume what a notifier produced.
type MockKafka struct {
	mu              sync.Mutex
	WrittenMessages []kafka.Message // stores messages written via WriteMessages
	ReadMessages    []kafka.Message // queue of messages to be read via ReadMessage
	Loopback        bool
	ShouldFail      bool // flag to simulate failures during write or read operations
	Closed          bool
}

// WriteMessages simulates writing to Kafka.
func (m *MockKafka) WriteMessages(messages ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return errors.New("mock kafka write failed")
	}
	m.WrittenMessages = append(m.WrittenMessages, messages...)
	if m.Loopback {
		m.ReadMessages = append(m.ReadMessages, messages...)
	}
	return nil
}

// ReadMessage pops the next queued message. An empty queue yields an empty
// message after a short idle wait, like a consumer with nothing to fetch.
func (m *MockKafka) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if m.ShouldFail {
		m.mu.Unlock()
		return kafka.Message{}, errors.New("mock kafka read failed")
	}
	if len(m.ReadMessages) > 0 {
		// Take the first message from the queue and remove it
		msg := m.ReadMessages[0]
		m.ReadMessages = m.ReadMessages[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return kafka.Message{}, nil
	}
}

// Written returns a copy of the messages written so far.
func (m *MockKafka) Written() []kafka.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kafka.Message(nil), m.WrittenMessages...)
}

func (m *MockKafka) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// MockKafkaFail always fails.
type MockKafkaFail struct{}

func (m *MockKafkaFail) WriteMessages(messages ...kafka.Message) error {
	return errors.New("mock kafka write failed")
}

func (m *MockKafkaFail) ReadMessage(ctx context.Context) (kafka.Message, error) {
	return kafka.Message{}, errors.New("mock kafka read failed")
}

func (m *MockKafkaFail) Close() error { return nil }
