package eventbus

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/ruminate/pkg/reasoning"
)

// Handler receives decoded events in publish order.
type Handler func(ctx context.Context, ev reasoning.Event, msg *message.Message)

// Consumer reads one topic and hands decoded events to a handler. Messages that do
// not decode are acked and skipped.
type Consumer struct {
	subscriber message.Subscriber
	topic      string
	handler    Handler
}

func NewConsumer(subscriber message.Subscriber, topic string, handler Handler) *Consumer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Consumer{subscriber: subscriber, topic: topic, handler: handler}
}

// Start subscribes synchronously and consumes in the background. The returned
// channel is closed once ctx is done or the subscription ends.
func (c *Consumer) Start(ctx context.Context) (<-chan struct{}, error) {
	if c == nil || c.subscriber == nil {
		return nil, errors.New("eventbus consumer has no subscriber")
	}
	ch, err := c.subscriber.Subscribe(ctx, c.topic)
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe %s", c.topic)
	}
	log.Info().Str("component", "eventbus").Str("topic", c.topic).Msg("consumer started")
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.consume(ctx, ch)
	}()
	return done, nil
}

// Run blocks until ctx is done or the subscription channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	done, err := c.Start(ctx)
	if err != nil {
		return err
	}
	<-done
	return nil
}

func (c *Consumer) consume(ctx context.Context, ch <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("component", "eventbus").Str("topic", c.topic).Msg("consumer stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				log.Info().Str("component", "eventbus").Str("topic", c.topic).Msg("consumer channel closed")
				return
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg *message.Message) {
	defer msg.Ack()
	ev, err := reasoning.NewEventFromJSON(msg.Payload)
	if err != nil {
		log.Warn().Err(err).Str("component", "eventbus").Str("message_uuid", msg.UUID).Msg("failed to decode event")
		return
	}
	if c.handler != nil {
		c.handler(ctx, ev, msg)
	}
}
