package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/ruminate/pkg/eventbus"
)

// PubSub is the publisher/subscriber pair progress events travel over.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	Topic      string
	Redis      bool

	closers []func() error
}

func (p *PubSub) Close() error {
	if p == nil {
		return nil
	}
	var first error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// BuildPubSub constructs a Redis Streams pub/sub when enabled, and an in-memory one
// otherwise. The redis consumer group is created at the stream tail so a fresh
// server does not replay history.
func BuildPubSub(ctx context.Context, s Settings, logger zerolog.Logger) (*PubSub, error) {
	s = s.withDefaults()
	if !s.Enabled {
		gc := eventbus.NewInMemory(logger)
		return &PubSub{
			Publisher:  gc,
			Subscriber: gc,
			Topic:      s.Topic,
			closers:    []func() error{gc.Close},
		}, nil
	}

	client := NewClient(s)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", s.Addr)
	}
	if err := EnsureGroupAtTail(ctx, client, s.Topic, s.Group); err != nil {
		_ = client.Close()
		return nil, err
	}

	wlogger := eventbus.NewWatermillLogger(logger)
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, wlogger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, wlogger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "redis subscriber")
	}

	log.Info().Str("component", "redisstream").Str("addr", s.Addr).Str("topic", s.Topic).Str("group", s.Group).Msg("using redis streams transport")
	return &PubSub{
		Publisher:  pub,
		Subscriber: sub,
		Topic:      s.Topic,
		Redis:      true,
		closers:    []func() error{client.Close, pub.Close, sub.Close},
	}, nil
}

// BuildGroupSubscriber returns a Redis Streams subscriber bound to its own consumer
// group, so a tailing reader does not steal messages from the server's group.
func BuildGroupSubscriber(s Settings, group, consumer string, logger zerolog.Logger) (message.Subscriber, func() error, error) {
	s = s.withDefaults()
	client := NewClient(s)
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      consumer,
	}, eventbus.NewWatermillLogger(logger))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closer := func() error {
		err := sub.Close()
		if cerr := client.Close(); err == nil {
			err = cerr
		}
		return err
	}
	return sub, closer, nil
}

func NewClient(s Settings) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: s.Addr, Password: s.Password, DB: s.DB})
}

// EnsureGroupAtTail creates the consumer group for a given stream at the tail ($) if it doesn't exist.
func EnsureGroupAtTail(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// BUSYGROUP: group already exists
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", group, stream)
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
