package queue

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

var ErrClosed = errors.New("queue closed")

// MemoryQueue is an in-process queue of buffered channels, one per topic.
type MemoryQueue struct {
	mu     sync.Mutex
	size   int
	topics map[string]chan []byte
	closed chan struct{}
	once   sync.Once
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{size: size, topics: make(map[string]chan []byte), closed: make(chan struct{})}
}

func (q *MemoryQueue) topic(name string) chan []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.topics[name]
	if !ok {
		ch = make(chan []byte, q.size)
		q.topics[name] = ch
	}
	return ch
}

func (q *MemoryQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	msg := append([]byte(nil), payload...)
	select {
	case q.topic(topic) <- msg:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, topic string, workers int, handler Handler) error {
	ch := q.topic(topic)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < normalizeWorkers(workers); i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-q.closed:
					return nil
				case payload := <-ch:
					_ = handle(ctx, topic, handler, payload)
				}
			}
		})
	}
	return g.Wait()
}

// Len reports the number of buffered messages on topic.
func (q *MemoryQueue) Len(topic string) int {
	return len(q.topic(topic))
}

func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}
