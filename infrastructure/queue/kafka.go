package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crosspost/infrastructure/logger"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// KafkaQueue publishes to and consumes from Kafka topics within one consumer group.
type KafkaQueue struct {
	brokers []string
	groupID string
	writer  *kafka.Writer
}

func NewKafkaQueue(brokers []string, groupID string) (*KafkaQueue, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka queue requires at least one broker")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka queue requires group id")
	}
	return &KafkaQueue{
		brokers: brokers,
		groupID: groupID,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}, nil
}

func (q *KafkaQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	return q.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

// Consume fetches on one reader and fans messages out to workers; offsets
// are committed once a message has been handled.
func (q *KafkaQueue) Consume(ctx context.Context, topic string, workers int, handler Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  q.brokers,
		GroupID:  q.groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	defer reader.Close()

	jobs := make(chan kafka.Message)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < normalizeWorkers(workers); i++ {
		g.Go(func() error {
			for msg := range jobs {
				_ = handle(ctx, topic, handler, msg.Value)
				if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
					logger.GetLogger().WithField("topic", topic).WithField("error", err).Error("kafka commit failed")
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(jobs)
		for {
			msg, err := reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return nil
				}
				return err
			}
			select {
			case jobs <- msg:
			case <-ctx.Done():
				return nil
			}
		}
	})
	return g.Wait()
}

func (q *KafkaQueue) Close() error {
	return q.writer.Close()
}
