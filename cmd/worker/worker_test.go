package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"example.com/socialfeed/internal/models"
)

// recordingHub captures broadcasts for assertions.
type recordingHub struct {
	mu     sync.Mutex
	events []models.PostEvent
	fail   bool
}

func (h *recordingHub) Broadcast(event string, payload any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		return errors.New("hub closed")
	}
	if event != EventName {
		return errors.New("unexpected event name " + event)
	}
	h.events = append(h.events, payload.(models.PostEvent))
	return nil
}

func (h *recordingHub) received() []models.PostEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.PostEvent(nil), h.events...)
}

// ---------- Positive tests ----------

func TestWorker_RelaysCreate(t *testing.T) {
	hub := &recordingHub{}
	w := New(nil, hub, 1, 1)

	data := []byte(`{"action":"create","post":{"id":"p1","title":"Hello World","creator":{"id":"u1","name":"A"}}}`)
	if err := w.handle(data); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	got := hub.received()
	if len(got) != 1 || got[0].Action != models.ActionCreate || got[0].Post.ID != "p1" {
		t.Fatalf("event not relayed correctly, got: %+v", got)
	}
}

func TestWorker_RelaysDelete(t *testing.T) {
	hub := &recordingHub{}
	w := New(nil, hub, 1, 1)

	if err := w.handle([]byte(`{"action":"delete","postId":"p1"}`)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	got := hub.received()
	if len(got) != 1 || got[0].PostID != "p1" || got[0].Post != nil {
		t.Fatalf("delete not relayed correctly, got: %+v", got)
	}
}

// ---------- Negative tests ----------

func TestWorker_RejectsMalformedEvents(t *testing.T) {
	cases := map[string]string{
		"invalid json":     `{invalid-json}`,
		"unknown action":   `{"action":"like","postId":"p1"}`,
		"create sans post": `{"action":"create"}`,
		"update sans id":   `{"action":"update","post":{"title":"x"}}`,
		"delete sans id":   `{"action":"delete"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			hub := &recordingHub{}
			w := New(nil, hub, 1, 1)

			err := w.handle([]byte(raw))
			if !errors.Is(err, errInvalidEvent) {
				t.Fatalf("expected errInvalidEvent, got %v", err)
			}
			if len(hub.received()) != 0 {
				t.Fatal("malformed event must not be broadcast")
			}
		})
	}
}

func TestWorker_BroadcastFailure(t *testing.T) {
	w := New(nil, &recordingHub{fail: true}, 1, 1)

	err := w.handle([]byte(`{"action":"delete","postId":"p1"}`))
	if err == nil {
		t.Fatal("expected broadcast error")
	}
}

func TestWaitWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if !waitWithContext(ctx, time.Millisecond) {
		t.Fatal("expected wait to finish")
	}
}
