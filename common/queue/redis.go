package queue

import (
	"context"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/redis"
)

// RedisQueue carries messages over Redis pub/sub so several server
// replicas can fan events out to their own connections.
type RedisQueue struct {
	client *redis.Client
	log    *logger.Logger

	mu   sync.Mutex
	subs []*goredis.PubSub
}

// NewRedisQueue creates a queue on top of a connected client
func NewRedisQueue(client *redis.Client, log *logger.Logger) *RedisQueue {
	return &RedisQueue{
		client: client,
		log:    log,
	}
}

// Publish publishes message on the topic channel. The key is not transmitted.
func (q *RedisQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	return q.client.PublishEvent(ctx, topic, message)
}

// Subscribe subscribes to the topic channel and processes messages until ctx is done
func (q *RedisQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	pubsub, err := q.client.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	q.mu.Lock()
	q.subs = append(q.subs, pubsub)
	q.mu.Unlock()

	go func() {
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				q.log.Info("subscription cancelled", "topic", topic)
				return
			case msg, ok := <-ch:
				if !ok {
					q.log.Warn("redis subscription channel closed", "topic", topic)
					return
				}
				if err := handler(ctx, "", []byte(msg.Payload)); err != nil {
					q.log.Error("message handler error", "topic", topic, "error", err)
				}
			}
		}
	}()

	return nil
}

// Close closes every subscription and the client
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	for _, s := range q.subs {
		s.Close()
	}
	q.subs = nil
	q.mu.Unlock()

	return q.client.Close()
}
