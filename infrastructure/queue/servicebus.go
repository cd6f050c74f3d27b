package queue

import (
	"context"
	"fmt"
	"sync"

	"crosspost/infrastructure/logger"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"golang.org/x/sync/errgroup"
)

// ServiceBusQueue maps each topic to an Azure Service Bus queue of the same
// name. Failed messages are abandoned so the broker redelivers them.
type ServiceBusQueue struct {
	client  *azservicebus.Client
	mu      sync.Mutex
	senders map[string]*azservicebus.Sender
}

func NewServiceBusQueue(namespace string) (*ServiceBusQueue, error) {
	if namespace == "" {
		return nil, fmt.Errorf("service bus namespace not configured")
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, err
	}
	client, err := azservicebus.NewClient(namespace, cred, nil)
	if err != nil {
		return nil, err
	}
	return &ServiceBusQueue{client: client, senders: make(map[string]*azservicebus.Sender)}, nil
}

func (q *ServiceBusQueue) sender(topic string) (*azservicebus.Sender, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s, ok := q.senders[topic]; ok {
		return s, nil
	}
	s, err := q.client.NewSender(topic, nil)
	if err != nil {
		return nil, err
	}
	q.senders[topic] = s
	return s, nil
}

func (q *ServiceBusQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	s, err := q.sender(topic)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while making new sender service bus.")
		return err
	}
	return s.SendMessage(ctx, &azservicebus.Message{Body: payload}, nil)
}

func (q *ServiceBusQueue) Consume(ctx context.Context, topic string, workers int, handler Handler) error {
	receiver, err := q.client.NewReceiverForQueue(topic, nil)
	if err != nil {
		return err
	}
	defer func(receiver *azservicebus.Receiver) {
		if err := receiver.Close(context.Background()); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while closing receiver.")
		}
	}(receiver)

	workers = normalizeWorkers(workers)
	for {
		messages, err := receiver.ReceiveMessages(ctx, workers, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		g := new(errgroup.Group)
		g.SetLimit(workers)
		for _, m := range messages {
			g.Go(func() error {
				if handle(ctx, topic, handler, m.Body) != nil {
					return receiver.AbandonMessage(context.Background(), m, nil)
				}
				return receiver.CompleteMessage(context.Background(), m, nil)
			})
		}
		if err := g.Wait(); err != nil {
			logger.GetLogger().WithField("topic", topic).WithField("error", err).Error("Error while settling service bus message")
		}
	}
}

func (q *ServiceBusQueue) Close() error {
	ctx := context.Background()
	q.mu.Lock()
	for _, s := range q.senders {
		if err := s.Close(ctx); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while closing sender.")
		}
	}
	q.mu.Unlock()
	return q.client.Close(ctx)
}
