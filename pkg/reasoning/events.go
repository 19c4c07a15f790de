package reasoning

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type EventType string

const (
	EventTypeStepStarted         EventType = "step.started"
	EventTypeStepCompleted       EventType = "step.completed"
	EventTypeEvaluationCompleted EventType = "evaluation.completed"
	EventTypeRunFailed           EventType = "run.failed"
)

// EventMetadata correlates an event with its run and requester.
type EventMetadata struct {
	ID              uuid.UUID `json:"id"`
	RunID           string    `json:"run_id"`
	RequesterID     string    `json:"requester_id"`
	EmittedAtUnixMs int64     `json:"emitted_at_unix_ms,omitempty"`
}

// Event is a progress update produced by the orchestrator.
type Event interface {
	Type() EventType
	Metadata() EventMetadata
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`
}

func (e *EventImpl) Type() EventType         { return e.Type_ }
func (e *EventImpl) Metadata() EventMetadata { return e.Metadata_ }

func newMetadata(runID, requesterID string) EventMetadata {
	return EventMetadata{
		ID:              uuid.New(),
		RunID:           runID,
		RequesterID:     requesterID,
		EmittedAtUnixMs: time.Now().UnixMilli(),
	}
}

// EventStepStarted is emitted before the primary backend call of a step.
type EventStepStarted struct {
	EventImpl
	StepIndex  int `json:"step_index"`
	TotalSteps int `json:"total_steps"`
}

func NewStepStarted(md EventMetadata, stepIndex, totalSteps int) *EventStepStarted {
	return &EventStepStarted{
		EventImpl:  EventImpl{Type_: EventTypeStepStarted, Metadata_: md},
		StepIndex:  stepIndex,
		TotalSteps: totalSteps,
	}
}

var _ Event = &EventStepStarted{}

// EventStepCompleted carries the (truncated) output of a reasoning step.
type EventStepCompleted struct {
	EventImpl
	StepIndex  int    `json:"step_index"`
	TotalSteps int    `json:"total_steps"`
	Text       string `json:"text"`
	IsFinal    bool   `json:"is_final"`
}

func NewStepCompleted(md EventMetadata, stepIndex, totalSteps int, text string, isFinal bool) *EventStepCompleted {
	return &EventStepCompleted{
		EventImpl:  EventImpl{Type_: EventTypeStepCompleted, Metadata_: md},
		StepIndex:  stepIndex,
		TotalSteps: totalSteps,
		Text:       text,
		IsFinal:    isFinal,
	}
}

var _ Event = &EventStepCompleted{}

// EventEvaluationCompleted carries the critique of a non-final step. When the
// evaluation call failed, Text holds the error message and Failed is set.
type EventEvaluationCompleted struct {
	EventImpl
	StepIndex int    `json:"step_index"`
	Text      string `json:"text"`
	Failed    bool   `json:"failed,omitempty"`
}

func NewEvaluationCompleted(md EventMetadata, stepIndex int, text string, failed bool) *EventEvaluationCompleted {
	return &EventEvaluationCompleted{
		EventImpl: EventImpl{Type_: EventTypeEvaluationCompleted, Metadata_: md},
		StepIndex: stepIndex,
		Text:      text,
		Failed:    failed,
	}
}

var _ Event = &EventEvaluationCompleted{}

// EventRunFailed terminates a run whose primary step call failed.
type EventRunFailed struct {
	EventImpl
	StepIndex int    `json:"step_index,omitempty"`
	Error     string `json:"error"`
}

func NewRunFailed(md EventMetadata, stepIndex int, errorText string) *EventRunFailed {
	return &EventRunFailed{
		EventImpl: EventImpl{Type_: EventTypeRunFailed, Metadata_: md},
		StepIndex: stepIndex,
		Error:     errorText,
	}
}

var _ Event = &EventRunFailed{}

// MarshalEvent encodes an event as a flat JSON object with a "type" discriminator.
func MarshalEvent(e Event) ([]byte, error) {
	if e == nil {
		return nil, errors.New("nil event")
	}
	return json.Marshal(e)
}

// NewEventFromJSON decodes an event produced by MarshalEvent.
func NewEventFromJSON(b []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, errors.Wrap(err, "decode event type")
	}
	var ev Event
	switch head.Type {
	case EventTypeStepStarted:
		ev = &EventStepStarted{}
	case EventTypeStepCompleted:
		ev = &EventStepCompleted{}
	case EventTypeEvaluationCompleted:
		ev = &EventEvaluationCompleted{}
	case EventTypeRunFailed:
		ev = &EventRunFailed{}
	default:
		return nil, errors.Errorf("unknown event type %q", head.Type)
	}
	if err := json.Unmarshal(b, ev); err != nil {
		return nil, errors.Wrapf(err, "decode %s event", head.Type)
	}
	return ev, nil
}
