package relay

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueFIFOAndSequence(t *testing.T) {
	q := NewQueue(0)
	for _, id := range []string{"a", "b", "c"} {
		if _, ok := q.Push(QueuedEvent{RawEvent: RawEvent{ID: id}}); !ok {
			t.Fatalf("push %s rejected", id)
		}
	}
	ctx := context.Background()
	for i, want := range []string{"a", "b", "c"} {
		ev, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if ev.ID != want || ev.Seq != uint64(i+1) {
			t.Fatalf("pop %d = %s/%d, want %s/%d", i, ev.ID, ev.Seq, want, i+1)
		}
	}
}

func TestQueuePopWaitsForPush(t *testing.T) {
	q := NewQueue(0)
	got := make(chan string, 1)
	go func() {
		ev, err := q.Pop(context.Background())
		if err != nil {
			got <- "err:" + err.Error()
			return
		}
		got <- ev.ID
	}()

	select {
	case v := <-got:
		t.Fatalf("pop returned early with %q", v)
	case <-time.After(50 * time.Millisecond):
	}

	q.Push(QueuedEvent{RawEvent: RawEvent{ID: "late"}})
	select {
	case v := <-got:
		if v != "late" {
			t.Fatalf("pop = %q, want late", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pop did not wake up after push")
	}
}

func TestQueuePopHonorsContext(t *testing.T) {
	q := NewQueue(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("pop err = %v, want deadline exceeded", err)
	}
}

func TestQueueCloseDrainsThenReports(t *testing.T) {
	q := NewQueue(0)
	q.Push(QueuedEvent{RawEvent: RawEvent{ID: "a"}})
	q.Close()

	if _, ok := q.Push(QueuedEvent{RawEvent: RawEvent{ID: "b"}}); ok {
		t.Fatalf("push after close must be rejected")
	}
	if ev, err := q.Pop(context.Background()); err != nil || ev.ID != "a" {
		t.Fatalf("pending item must still be delivered, got %v %v", ev.ID, err)
	}
	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("pop on closed empty queue = %v, want ErrQueueClosed", err)
	}
}

func TestQueueCapacity(t *testing.T) {
	q := NewQueue(1)
	if _, ok := q.Push(QueuedEvent{}); !ok {
		t.Fatalf("first push rejected")
	}
	if _, ok := q.Push(QueuedEvent{}); ok {
		t.Fatalf("push beyond capacity accepted")
	}
	q.SetMax(0)
	if _, ok := q.Push(QueuedEvent{}); !ok {
		t.Fatalf("unbounded queue rejected push")
	}
}
