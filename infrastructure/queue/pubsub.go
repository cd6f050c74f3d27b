package queue

import (
	"context"
	"fmt"
	"sync"

	"crosspost/infrastructure/logger"

	"cloud.google.com/go/pubsub"
)

// PubsubQueue maps each topic to a Google Pub/Sub topic and a subscription
// named <topic>-sub. Failed messages are nacked for redelivery.
type PubsubQueue struct {
	client *pubsub.Client
	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func NewPubsubQueue(ctx context.Context, projectID string) (*PubsubQueue, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub project id not configured")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &PubsubQueue{client: client, topics: make(map[string]*pubsub.Topic)}, nil
}

func (q *PubsubQueue) topic(ctx context.Context, name string) (*pubsub.Topic, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.topics[name]; ok {
		return t, nil
	}
	t := q.client.Topic(name)
	exists, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		logger.GetLogger().WithField("topic", name).Info("Topic doesn't exist - creating it")
		if t, err = q.client.CreateTopic(ctx, name); err != nil {
			return nil, err
		}
	}
	q.topics[name] = t
	return t, nil
}

func (q *PubsubQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	t, err := q.topic(ctx, topic)
	if err != nil {
		return err
	}
	serverID, err := t.Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
	if err != nil {
		return err
	}
	logger.GetLogger().WithField("server_id", serverID).WithField("topic", topic).Debug("Message published")
	return nil
}

func (q *PubsubQueue) Consume(ctx context.Context, topic string, workers int, handler Handler) error {
	t, err := q.topic(ctx, topic)
	if err != nil {
		return err
	}
	subID := topic + "-sub"
	sub := q.client.Subscription(subID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		if sub, err = q.client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: t}); err != nil {
			return err
		}
	}
	sub.ReceiveSettings.NumGoroutines = 1
	sub.ReceiveSettings.MaxOutstandingMessages = normalizeWorkers(workers)

	logger.GetLogger().WithField("subID", subID).Info("PubSub starting...")
	err = sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		if handle(ctx, topic, handler, m.Data) != nil {
			m.Nack()
			return
		}
		m.Ack()
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (q *PubsubQueue) Close() error {
	q.mu.Lock()
	for _, t := range q.topics {
		t.Stop()
	}
	q.mu.Unlock()
	return q.client.Close()
}
