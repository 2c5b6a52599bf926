package appkafka

import (
	"context"
	"encoding/json"

	"example.com/socialfeed/internal/logger"
	"example.com/socialfeed/internal/models"
	"github.com/segmentio/kafka-go"
)

var logg = logger.New()

// Notifier publishes post change events to Kafka without making the caller
// wait. Events are buffered and written by Run; a full buffer drops the event.
type Notifier struct {
	writer KafkaWriter
	events chan models.PostEvent
}

func NewNotifier(writer KafkaWriter, buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 256
	}
	return &Notifier{
		writer: writer,
		events: make(chan models.PostEvent, buffer),
	}
}

// Publish enqueues ev and returns immediately.
func (n *Notifier) Publish(ev models.PostEvent) {
	select {
	case n.events <- ev:
	default:
		logg.Warn("notifier", "Event buffer full, dropping "+string(ev.Action)+" event", nil)
	}
}

// Run writes queued events until ctx is cancelled, then flushes what is
// already buffered.
func (n *Notifier) Run(ctx context.Context) {
	logg.Info("notifier", "Post event notifier started")
	for {
		select {
		case ev := <-n.events:
			n.write(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-n.events:
					n.write(ev)
				default:
					logg.Info("notifier", "Post event notifier stopped")
					return
				}
			}
		}
	}
}

func (n *Notifier) write(ev models.PostEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		logg.Error("notifier", "Failed to marshal post event", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte("post_" + string(ev.Action)),
		Value: data,
	}
	if err := n.writer.WriteMessages(msg); err != nil {
		logg.Error("notifier", "Failed to write Kafka message", err)
	}
}
