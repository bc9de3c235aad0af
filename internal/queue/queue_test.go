package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEnqueueSubscribe(t *testing.T) {
	q := New(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled int32
	var wg sync.WaitGroup
	wg.Add(3)
	q.Subscribe(ctx, TopicEvaluate, 1, func(ctx context.Context, task Task) {
		atomic.AddInt32(&handled, 1)
		wg.Done()
	})

	for i := 0; i < 3; i++ {
		if id := q.Enqueue(ctx, TopicEvaluate, nil); id == "" {
			t.Fatal("Expected non-empty task id")
		}
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for tasks")
	}

	if n := atomic.LoadInt32(&handled); n != 3 {
		t.Errorf("Expected 3 handled tasks, got %d", n)
	}
}

func TestTopicsAreIndependent(t *testing.T) {
	q := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 2)
	q.Subscribe(ctx, TopicReconcile, 1, func(ctx context.Context, task Task) {
		got <- task.Topic
	})

	// Nothing subscribed to signal_poll; the reconcile worker must not see it.
	q.Enqueue(ctx, TopicSignalPoll, nil)
	q.Enqueue(ctx, TopicReconcile, nil)

	select {
	case topic := <-got:
		if topic != TopicReconcile {
			t.Errorf("Expected reconcile task, got %s", topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for reconcile task")
	}

	if d := q.Depth(TopicSignalPoll); d != 1 {
		t.Errorf("Expected signal_poll depth 1, got %d", d)
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	q := New(1)
	ctx := context.Background()

	if id := q.Enqueue(ctx, TopicExecuteOrder, nil); id == "" {
		t.Fatal("First enqueue should succeed")
	}
	if id := q.Enqueue(ctx, TopicExecuteOrder, nil); id != "" {
		t.Error("Expected drop on full topic buffer")
	}
}
