package eventbus

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"

	"github.com/go-go-golems/ruminate/pkg/reasoning"
)

const DefaultTopic = "ruminate.events"

// Message metadata keys set on every published event.
const (
	MetaRequesterID = "requester_id"
	MetaRunID       = "run_id"
	MetaEventType   = "event_type"
)

// WatermillSink publishes reasoning events as JSON messages on a watermill topic.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

var _ reasoning.Sink = (*WatermillSink)(nil)

func NewWatermillSink(publisher message.Publisher, topic string) (*WatermillSink, error) {
	if publisher == nil {
		return nil, errors.New("eventbus sink needs a publisher")
	}
	if topic = strings.TrimSpace(topic); topic == "" {
		topic = DefaultTopic
	}
	return &WatermillSink{publisher: publisher, topic: topic}, nil
}

func (s *WatermillSink) Topic() string { return s.topic }

func (s *WatermillSink) PublishEvent(ctx context.Context, e reasoning.Event) error {
	payload, err := reasoning.MarshalEvent(e)
	if err != nil {
		return err
	}
	md := e.Metadata()
	msg := message.NewMessage(md.ID.String(), payload)
	msg.Metadata.Set(MetaRequesterID, md.RequesterID)
	msg.Metadata.Set(MetaRunID, md.RunID)
	msg.Metadata.Set(MetaEventType, string(e.Type()))
	if ctx != nil {
		msg.SetContext(ctx)
	}
	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return errors.Wrapf(err, "publish %s to %s", e.Type(), s.topic)
	}
	return nil
}
