package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	appkafka "example.com/socialfeed/internal/broker"
	"example.com/socialfeed/internal/logger"
	"example.com/socialfeed/internal/models"
)

var logg = logger.New()

// EventName is the channel name listeners receive post changes on.
const EventName = "posts"

var errInvalidEvent = errors.New("invalid post event")

// Broadcaster pushes an event to every connected listener.
type Broadcaster interface {
	Broadcast(event string, payload any) error
}

// Worker consumes post change events from Kafka and relays them to the
// listeners connected to this instance.
type Worker struct {
	reader       appkafka.KafkaReader
	hub          Broadcaster
	workerCount  int
	jobQueueSize int
}

// New creates a relay worker. A single worker keeps events in publish order.
func New(reader appkafka.KafkaReader, hub Broadcaster, workerCount, jobQueueSize int) *Worker {
	if workerCount <= 0 {
		workerCount = 1
	}
	if jobQueueSize <= 0 {
		jobQueueSize = workerCount * 10
	}
	return &Worker{
		reader:       reader,
		hub:          hub,
		workerCount:  workerCount,
		jobQueueSize: jobQueueSize,
	}
}

// Run reads and relays events until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w.workerCount <= 0 {
		w.workerCount = 1
	}
	if w.jobQueueSize <= 0 {
		w.jobQueueSize = 10
	}

	logg.Info("worker", "Starting "+fmt.Sprint(w.workerCount)+" relay workers with queue size "+fmt.Sprint(w.jobQueueSize))

	jobs := make(chan []byte, w.jobQueueSize)
	var wg sync.WaitGroup

	for i := 0; i < w.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processLoop(ctx, jobs)
		}()
	}

	w.readLoop(ctx, jobs)

	close(jobs)
	wg.Wait()
	logg.Info("worker", "All relay workers stopped gracefully")
}

// readLoop reads Kafka messages and pushes them into a job queue.
func (w *Worker) readLoop(ctx context.Context, jobs chan<- []byte) {
	var retry int
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, err := w.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				backoff := time.Duration(math.Min(1000, math.Pow(2, float64(retry)))) * time.Millisecond
				logg.Error("worker", "Kafka read error, backing off", err)
				if !waitWithContext(ctx, backoff) {
					return
				}
				retry++
				continue
			}
			retry = 0

			if len(msg.Value) == 0 {
				if !waitWithContext(ctx, 50*time.Millisecond) {
					return
				}
				continue
			}

			for enqueued := false; !enqueued; {
				select {
				case jobs <- msg.Value:
					enqueued = true
				case <-ctx.Done():
					return
				case <-time.After(100 * time.Millisecond):
					logg.Info("worker", "Queue full, waiting to enqueue Kafka message")
				}
			}
		}
	}
}

// processLoop decodes events and broadcasts them. Messages already queued
// when ctx is cancelled are still delivered.
func (w *Worker) processLoop(ctx context.Context, jobs <-chan []byte) {
	for data := range jobs {
		if err := w.handle(data); err != nil {
			logg.Error("worker", "Dropping post event", err)
		}
	}
}

func (w *Worker) handle(data []byte) error {
	ev, err := decodeEvent(data)
	if err != nil {
		return err
	}
	if err := w.hub.Broadcast(EventName, ev); err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	logg.Debug("worker", "Relayed "+string(ev.Action)+" event")
	return nil
}

func decodeEvent(data []byte) (models.PostEvent, error) {
	var ev models.PostEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return models.PostEvent{}, fmt.Errorf("%w: %v", errInvalidEvent, err)
	}
	switch ev.Action {
	case models.ActionCreate, models.ActionUpdate:
		if ev.Post == nil || ev.Post.ID == "" {
			return models.PostEvent{}, fmt.Errorf("%w: %s without post", errInvalidEvent, ev.Action)
		}
	case models.ActionDelete:
		if ev.PostID == "" {
			return models.PostEvent{}, fmt.Errorf("%w: delete without post id", errInvalidEvent)
		}
	default:
		return models.PostEvent{}, fmt.Errorf("%w: unknown action %q", errInvalidEvent, ev.Action)
	}
	return ev, nil
}

// waitWithContext waits for duration or context cancellation.
func waitWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Close shuts down the Kafka reader.
func (w *Worker) Close() error {
	logg.Info("worker", "Closing Kafka reader")
	if err := w.reader.Close(); err != nil {
		logg.Error("worker", "Error closing Kafka reader", err)
		return err
	}
	return nil
}
