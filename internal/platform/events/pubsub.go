package events

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/lauragobrightly/ship-ship/internal/domain"
)

// PubSubPublisher broadcasts product changes to a Pub/Sub topic.
type PubSubPublisher struct {
	topic  *pubsub.Topic
	signer Signer
	origin string
}

// NewPubSubPublisher constructs a Pub/Sub backed change publisher.
func NewPubSubPublisher(topic *pubsub.Topic, signer Signer, origin string) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub publisher: topic is required")
	}
	if signer == nil {
		return nil, errors.New("pubsub publisher: signer is required")
	}
	return &PubSubPublisher{topic: topic, signer: signer, origin: origin}, nil
}

// Publish blocks until the server acknowledges the message.
func (p *PubSubPublisher) Publish(ctx context.Context, change domain.ProductChange) error {
	env, data, err := Seal(p.signer, p.origin, change)
	if err != nil {
		return err
	}
	attrs := map[string]string{"eventId": env.ID}
	setAttr(attrs, "origin", env.Origin)
	setAttr(attrs, "productId", string(change.ProductID))
	setAttr(attrs, "topic", change.Topic)

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish product change: %w", err)
	}
	return nil
}

// PubSubSubscriber applies product changes received on a subscription.
type PubSubSubscriber struct {
	sub *pubsub.Subscription
	dispatcher
}

// NewPubSubSubscriber constructs a subscriber. Messages whose origin equals origin are skipped.
func NewPubSubSubscriber(sub *pubsub.Subscription, handler Handler, origin string, logger *zap.Logger) (*PubSubSubscriber, error) {
	if sub == nil {
		return nil, errors.New("pubsub subscriber: subscription is required")
	}
	if handler == nil {
		return nil, errors.New("pubsub subscriber: handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSubscriber{
		sub:        sub,
		dispatcher: dispatcher{origin: origin, handler: handler, logger: logger.Named("pubsub")},
	}, nil
}

// Run receives until ctx is cancelled. Every message is acked once dispatched.
func (s *PubSubSubscriber) Run(ctx context.Context) error {
	err := s.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		s.dispatch(ctx, m.Data)
		m.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key, value string) {
	if value != "" {
		attrs[key] = value
	}
}
