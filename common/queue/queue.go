package queue

import (
	"context"
	"sync"

	"github.com/lyzr/queueboard/common/logger"
)

// Queue interface for message passing. Every subscriber of a topic receives
// every message published after it subscribed; delivery is at-most-once.
type Queue interface {
	Publish(ctx context.Context, topic string, key string, message []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Close() error
}

// MessageHandler processes messages
type MessageHandler func(ctx context.Context, key string, value []byte) error

// Message represents a queue message
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// MemoryQueue is an in-process queue for a single server
type MemoryQueue struct {
	topics    map[string][]chan *Message
	bufferLen int
	closed    bool
	mu        sync.RWMutex
	log       *logger.Logger
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(bufferLen int, log *logger.Logger) *MemoryQueue {
	if bufferLen <= 0 {
		bufferLen = 1000
	}
	return &MemoryQueue{
		topics:    make(map[string][]chan *Message),
		bufferLen: bufferLen,
		log:       log,
	}
}

// Publish publishes a message to every subscriber of topic
func (q *MemoryQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil
	}

	msg := &Message{
		Topic: topic,
		Key:   key,
		Value: message,
	}

	for _, ch := range q.topics[topic] {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			q.log.Warn("queue full, message dropped", "topic", topic, "key", key)
		}
	}
	return nil
}

// Subscribe subscribes to a topic and processes messages until ctx is done
func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	ch := make(chan *Message, q.bufferLen)

	q.mu.Lock()
	q.topics[topic] = append(q.topics[topic], ch)
	q.mu.Unlock()

	q.log.Info("subscribing to topic", "topic", topic)

	go func() {
		defer q.unsubscribe(topic, ch)
		for {
			select {
			case <-ctx.Done():
				q.log.Info("subscription cancelled", "topic", topic)
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, msg.Key, msg.Value); err != nil {
					q.log.Error("message handler error", "topic", topic, "key", msg.Key, "error", err)
				}
			}
		}
	}()

	return nil
}

func (q *MemoryQueue) unsubscribe(topic string, ch chan *Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	subs := q.topics[topic]
	for i, c := range subs {
		if c == ch {
			q.topics[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Close closes the queue
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	for topic, subs := range q.topics {
		for _, ch := range subs {
			close(ch)
		}
		q.log.Info("closed topic", "topic", topic)
	}
	q.topics = make(map[string][]chan *Message)

	return nil
}
