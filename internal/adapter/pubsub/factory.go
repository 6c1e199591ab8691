package pubsub

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// NewAMQP builds a publisher/subscriber pair on a fanout exchange named after
// the topic. Each node binds its own non-durable queue (suffixed with nodeID),
// so every node sees every publication and a dead node leaves nothing behind.
func NewAMQP(url, nodeID string, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	cfg := amqp.NewNonDurablePubSubConfig(url, amqp.GenerateQueueNameTopicNameWithSuffix(nodeID))

	pub, err := amqp.NewPublisher(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp publisher: %w", err)
	}
	sub, err := amqp.NewSubscriber(cfg, logger)
	if err != nil {
		_ = pub.Close()
		return nil, nil, fmt.Errorf("amqp subscriber: %w", err)
	}
	return pub, sub, nil
}

// Transport is a watermill pair for work-queue traffic (upstream message
// events, push requests). Unlike the fan-out bus each message is handled by
// one node only. Nil when the configured bus has no watermill transport.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// NewAMQPQueue builds a Transport on durable queues named after the topic;
// nodes consuming the same topic compete for messages.
func NewAMQPQueue(url string, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg := amqp.NewDurableQueueConfig(url)

	pub, err := amqp.NewPublisher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("amqp queue publisher: %w", err)
	}
	sub, err := amqp.NewSubscriber(cfg, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("amqp queue subscriber: %w", err)
	}
	return &Transport{Publisher: pub, Subscriber: sub}, nil
}

// Close releases both sides.
func (t *Transport) Close() error {
	return errors.Join(t.Publisher.Close(), t.Subscriber.Close())
}

// NewGoChannel is the single-process bus used for development and tests.
func NewGoChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1024}, logger)
}
