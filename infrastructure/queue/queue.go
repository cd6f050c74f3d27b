package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"crosspost/infrastructure/configuration"
	"crosspost/infrastructure/logger"

	"github.com/redis/go-redis/v9"
)

// Handler processes one message payload. Drivers with broker-side redelivery
// (Pub/Sub, Service Bus) hand the message back on error; the others log and drop it.
type Handler func(ctx context.Context, payload []byte) error

// Queue carries work between the scheduler, dispatcher and finalizer with
// at-least-once delivery.
type Queue interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Consume runs workers concurrent handlers until ctx is done.
	Consume(ctx context.Context, topic string, workers int, handler Handler) error
	Close() error
}

const (
	DriverMemory     = "memory"
	DriverRedis      = "redis"
	DriverPubsub     = "pubsub"
	DriverServiceBus = "servicebus"
	DriverKafka      = "kafka"
)

// New builds the driver selected by cfg.Driver. The redis client is only
// needed by the redis driver.
func New(ctx context.Context, cfg configuration.Queue, redisClient redis.UniversalClient) (Queue, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverMemory:
		return NewMemoryQueue(cfg.BufferSize), nil
	case DriverRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("queue driver redis requires a redis client")
		}
		return NewRedisQueue(redisClient), nil
	case DriverPubsub:
		return NewPubsubQueue(ctx, cfg.Pubsub.ProjectID)
	case DriverServiceBus:
		return NewServiceBusQueue(cfg.ServiceBus.Namespace)
	case DriverKafka:
		return NewKafkaQueue(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
	}
	return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
}

// PublishJSON encodes v and publishes it to topic.
func PublishJSON(ctx context.Context, q Queue, topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", topic, err)
	}
	return q.Publish(ctx, topic, payload)
}

func handle(ctx context.Context, topic string, handler Handler, payload []byte) error {
	defer func() {
		if r := recover(); r != nil {
			logger.GetLogger().WithField("topic", topic).WithField("panic", r).Error("queue handler panicked")
		}
	}()
	err := handler(ctx, payload)
	if err != nil {
		logger.GetLogger().WithField("topic", topic).WithField("error", err).Warn("queue handler failed")
	}
	return err
}

func normalizeWorkers(workers int) int {
	if workers < 1 {
		return 1
	}
	return workers
}
