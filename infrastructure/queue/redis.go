package queue

import (
	"context"
	"errors"
	"time"

	"crosspost/infrastructure/logger"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const redisPopTimeout = time.Second

// RedisQueue keeps one Redis list per topic: LPUSH to publish, BRPOP to consume.
type RedisQueue struct {
	client redis.UniversalClient
}

func NewRedisQueue(client redis.UniversalClient) *RedisQueue {
	return &RedisQueue{client: client}
}

func redisKey(topic string) string { return "queue:" + topic }

func (q *RedisQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	return q.client.LPush(ctx, redisKey(topic), payload).Err()
}

func (q *RedisQueue) Consume(ctx context.Context, topic string, workers int, handler Handler) error {
	key := redisKey(topic)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < normalizeWorkers(workers); i++ {
		g.Go(func() error {
			for {
				if ctx.Err() != nil {
					return nil
				}
				res, err := q.client.BRPop(ctx, redisPopTimeout, key).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if ctx.Err() != nil {
						return nil
					}
					logger.GetLogger().WithField("topic", topic).WithField("error", err).Error("redis queue pop failed")
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(time.Second):
					}
					continue
				}
				// BRPOP returns [key, value].
				if len(res) == 2 {
					_ = handle(ctx, topic, handler, []byte(res[1]))
				}
			}
		})
	}
	return g.Wait()
}

// Close leaves the shared client open; main owns it.
func (q *RedisQueue) Close() error { return nil }
