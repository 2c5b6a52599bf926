package appkafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter defines an interface for writing messages to Kafka.
type KafkaWriter interface {
	WriteMessages(messages ...kafka.Message) error
	Close() error
}

// KafkaReader defines an interface for reading messages from Kafka.
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaConfig holds configuration parameters for Kafka.
type KafkaConfig struct {
	Brokers      []string      // list of Kafka brokers
	Topic        string        // topic name
	Partition    int           // partition number (used for low-level writes)
	WriteTimeout time.Duration // write timeout duration
	ReadTimeout  time.Duration // read timeout duration (used for consumer group)
	GroupID      string        // consumer group ID
}

// RealKafkaWriter implements KafkaWriter using kafka.Conn (low-level writes).
// A failed write drops the connection; the next write dials the leader again.
type RealKafkaWriter struct {
	mu     sync.Mutex
	conn   *kafka.Conn
	config KafkaConfig
}

// NewKafkaWriter creates a new Kafka writer connection.
func NewKafkaWriter(cfg KafkaConfig) (*RealKafkaWriter, error) {
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = []string{"localhost:9092"}
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := &RealKafkaWriter{config: cfg}
	if err := w.dial(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RealKafkaWriter) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()

	conn, err := kafka.DialLeader(ctx, "tcp", w.config.Brokers[0], w.config.Topic, w.config.Partition)
	if err != nil {
		return err
	}
	w.conn = conn
	return nil
}

func (w *RealKafkaWriter) WriteMessages(messages ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		if err := w.dial(); err != nil {
			return fmt.Errorf("kafka redial failed: %w", err)
		}
	}
	w.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
	if _, err := w.conn.WriteMessages(messages...); err != nil {
		_ = w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}

func (w *RealKafkaWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

// RealKafkaReader implements KafkaReader using kafka.Reader (consumer group).
type RealKafkaReader struct {
	reader *kafka.Reader
}

// NewKafkaReader creates a new Kafka consumer group reader that starts at the
// newest offset of a group it has not seen before.
func NewKafkaReader(cfg KafkaConfig) KafkaReader {
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = []string{"localhost:9092"}
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        cfg.ReadTimeout,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
	})
	return &RealKafkaReader{reader: r}
}

func (r *RealKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	return r.reader.ReadMessage(ctx)
}

func (r *RealKafkaReader) Close() error {
	return r.reader.Close()
}
