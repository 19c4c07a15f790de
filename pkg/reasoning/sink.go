package reasoning

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Sink receives progress events. Implementations render or transport them; the
// orchestrator only hands over structured events with text already truncated.
type Sink interface {
	PublishEvent(ctx context.Context, e Event) error
}

type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) PublishEvent(ctx context.Context, e Event) error { return f(ctx, e) }

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) PublishEvent(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.PublishEvent(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Errorf("%d sinks failed, first: %v", len(errs), errs[0])
}

// CaptureSink records events in memory.
type CaptureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *CaptureSink) PublishEvent(_ context.Context, e Event) error {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	return nil
}

func (c *CaptureSink) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

type discardSink struct{}

func (discardSink) PublishEvent(context.Context, Event) error { return nil }
