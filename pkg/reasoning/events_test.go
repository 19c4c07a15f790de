package reasoning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventJSONKeepsTypeAndPayload(t *testing.T) {
	md := newMetadata("run-1", "alice")
	b, err := MarshalEvent(NewStepCompleted(md, 4, 4, "answer", true))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"step.completed"`)

	ev, err := NewEventFromJSON(b)
	require.NoError(t, err)
	sc, ok := ev.(*EventStepCompleted)
	require.True(t, ok)
	assert.Equal(t, 4, sc.StepIndex)
	assert.True(t, sc.IsFinal)
	assert.Equal(t, "answer", sc.Text)
	assert.Equal(t, "alice", sc.Metadata().RequesterID)
	assert.Equal(t, md.ID, sc.Metadata().ID)
}

func TestNewEventFromJSON_RejectsUnknownType(t *testing.T) {
	_, err := NewEventFromJSON([]byte(`{"type":"nope"}`))
	require.Error(t, err)
	_, err = NewEventFromJSON([]byte(`not json`))
	require.Error(t, err)
}

func TestMultiSinkDeliversToAll(t *testing.T) {
	a, b := &CaptureSink{}, &CaptureSink{}
	sink := MultiSink{a, nil, b}
	require.NoError(t, sink.PublishEvent(context.Background(), NewStepStarted(newMetadata("r", "x"), 1, 2)))
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}
