package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"crypto-trading-bot/internal/logger"
)

// Topics routed through the queue.
const (
	TopicSignalPoll   = "signal_poll"
	TopicEvaluate     = "strategy_evaluate"
	TopicExecuteOrder = "execute_order"
	TopicReconcile    = "reconcile"
)

// Task is one unit of work. Payload shape is topic-specific.
type Task struct {
	ID      string
	Topic   string
	Payload any
}

// Handler processes one task; errors are the handler's to report.
type Handler func(ctx context.Context, task Task)

// Queue decouples timer-driven producers from workers. Each topic gets a
// buffered channel and its subscribers each run on their own goroutine.
type Queue struct {
	mu     sync.Mutex
	topics map[string]chan Task
	size   int
	wg     sync.WaitGroup
}

// New creates a queue with the given per-topic buffer size.
func New(size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{
		topics: make(map[string]chan Task),
		size:   size,
	}
}

func (q *Queue) channel(topic string) chan Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.topics[topic]
	if !ok {
		ch = make(chan Task, q.size)
		q.topics[topic] = ch
	}
	return ch
}

// Enqueue queues a task and returns its id. A full topic drops the task
// rather than blocking the producer; the caller's next cycle re-decides.
func (q *Queue) Enqueue(ctx context.Context, topic string, payload any) string {
	task := Task{ID: uuid.NewString(), Topic: topic, Payload: payload}
	select {
	case q.channel(topic) <- task:
		logger.Debug(ctx, "Task enqueued", "topic", topic, "task_id", task.ID)
		return task.ID
	default:
		logger.Warn(ctx, "Task dropped, topic buffer full", "topic", topic)
		return ""
	}
}

// Subscribe starts workers goroutines consuming a topic until ctx is done.
func (q *Queue) Subscribe(ctx context.Context, topic string, workers int, h Handler) {
	if workers <= 0 {
		workers = 1
	}
	ch := q.channel(topic)
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task, ok := <-ch:
					if !ok {
						return
					}
					h(ctx, task)
				}
			}
		}()
	}
}

// Depth reports the number of buffered tasks on a topic.
func (q *Queue) Depth(topic string) int {
	return len(q.channel(topic))
}

// Wait blocks until all workers have exited (after ctx cancellation).
func (q *Queue) Wait() {
	q.wg.Wait()
}
