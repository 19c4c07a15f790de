package reasoning

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observed struct {
	typ     EventType
	step    int
	text    string
	isFinal bool
	failed  bool
}

func summarize(t *testing.T, evs []Event) []observed {
	t.Helper()
	var out []observed
	for _, e := range evs {
		switch ev := e.(type) {
		case *EventStepStarted:
			out = append(out, observed{typ: ev.Type(), step: ev.StepIndex})
		case *EventStepCompleted:
			out = append(out, observed{typ: ev.Type(), step: ev.StepIndex, text: ev.Text, isFinal: ev.IsFinal})
		case *EventEvaluationCompleted:
			out = append(out, observed{typ: ev.Type(), step: ev.StepIndex, text: ev.Text, failed: ev.Failed})
		case *EventRunFailed:
			out = append(out, observed{typ: ev.Type(), step: ev.StepIndex, text: ev.Error})
		default:
			t.Fatalf("unexpected event %T", e)
		}
	}
	return out
}

func withoutStarted(obs []observed) []observed {
	var out []observed
	for _, o := range obs {
		if o.typ != EventTypeStepStarted {
			out = append(out, o)
		}
	}
	return out
}

func TestOrchestrator_FourStepRunEmitsStepsAndEvaluations(t *testing.T) {
	backend := &scriptedBackend{
		steps:       []reply{ok("A"), ok("B"), ok("C"), ok("Z")},
		evaluations: []reply{ok("8/10, good"), ok("7/10"), ok("9/10")},
	}
	orch, err := NewOrchestrator(backend, testConfig(4))
	require.NoError(t, err)

	sink := &CaptureSink{}
	res, err := orch.Run(context.Background(), "run-1", "alice", "plan a trip", sink)
	require.NoError(t, err)
	require.Equal(t, RunStatusCompleted, res.Status)
	assert.Equal(t, "Z", res.Answer())

	got := withoutStarted(summarize(t, sink.Events()))
	want := []observed{
		{typ: EventTypeStepCompleted, step: 1, text: "A"},
		{typ: EventTypeEvaluationCompleted, step: 1, text: "8/10, good"},
		{typ: EventTypeStepCompleted, step: 2, text: "B"},
		{typ: EventTypeEvaluationCompleted, step: 2, text: "7/10"},
		{typ: EventTypeStepCompleted, step: 3, text: "C"},
		{typ: EventTypeEvaluationCompleted, step: 3, text: "9/10"},
		{typ: EventTypeStepCompleted, step: 4, text: "Z", isFinal: true},
	}
	assert.Equal(t, want, got)

	for _, e := range sink.Events() {
		md := e.Metadata()
		assert.Equal(t, "run-1", md.RunID)
		assert.Equal(t, "alice", md.RequesterID)
	}
}

func TestOrchestrator_StepCountsForEveryN(t *testing.T) {
	for n := 1; n <= 6; n++ {
		backend := &scriptedBackend{}
		orch, err := NewOrchestrator(backend, testConfig(n))
		require.NoError(t, err)

		sink := &CaptureSink{}
		res, err := orch.Run(context.Background(), "", "bob", "question", sink)
		require.NoError(t, err)
		require.Equal(t, RunStatusCompleted, res.Status)

		var steps, evals, started []int
		var last *EventStepCompleted
		for _, e := range sink.Events() {
			switch ev := e.(type) {
			case *EventStepStarted:
				started = append(started, ev.StepIndex)
				assert.Equal(t, n, ev.TotalSteps)
			case *EventStepCompleted:
				steps = append(steps, ev.StepIndex)
				last = ev
			case *EventEvaluationCompleted:
				evals = append(evals, ev.StepIndex)
			}
		}
		assert.Len(t, steps, n, "N=%d", n)
		assert.Len(t, evals, n-1, "N=%d", n)
		assert.Len(t, started, n, "N=%d", n)
		assert.IsIncreasing(t, steps)
		if n > 2 {
			assert.IsIncreasing(t, evals)
		}
		require.NotNil(t, last)
		assert.True(t, last.IsFinal)
		assert.Equal(t, 2*n-1, len(backend.Calls()), "N=%d", n)
		assert.Equal(t, 1+2*n+2*(n-1), res.Conversation.Len(), "N=%d", n)
		assert.NotEmpty(t, res.RunID)
	}
}

func TestOrchestrator_PrimaryFailureStopsRun(t *testing.T) {
	backend := &scriptedBackend{
		steps: []reply{ok("first"), fail("connection refused")},
	}
	orch, err := NewOrchestrator(backend, testConfig(3))
	require.NoError(t, err)

	sink := &CaptureSink{}
	res, err := orch.Run(context.Background(), "run-2", "carol", "task", sink)
	require.Error(t, err)
	assert.Equal(t, RunStatusFailed, res.Status)
	assert.Equal(t, "connection refused", res.Error)
	assert.Empty(t, res.Answer())
	require.Len(t, res.Steps, 1)

	got := withoutStarted(summarize(t, sink.Events()))
	require.Len(t, got, 3)
	assert.Equal(t, EventTypeStepCompleted, got[0].typ)
	assert.Equal(t, 1, got[0].step)
	assert.Equal(t, EventTypeEvaluationCompleted, got[1].typ)
	assert.Equal(t, EventTypeRunFailed, got[2].typ)
	assert.Equal(t, "connection refused", got[2].text)
	assert.Equal(t, 2, got[2].step)

	// step 1, its evaluation and the failed step 2: nothing else was attempted
	assert.Len(t, backend.Calls(), 3)
}

func TestOrchestrator_EvaluationFailureIsNotFatal(t *testing.T) {
	backend := &scriptedBackend{
		steps:       []reply{ok("first"), ok("final")},
		evaluations: []reply{fail("backend timeout")},
	}
	orch, err := NewOrchestrator(backend, testConfig(2))
	require.NoError(t, err)

	sink := &CaptureSink{}
	res, err := orch.Run(context.Background(), "run-3", "dave", "task", sink)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, res.Status)

	got := withoutStarted(summarize(t, sink.Events()))
	require.Len(t, got, 3)
	assert.Equal(t, EventTypeStepCompleted, got[0].typ)
	assert.Equal(t, EventTypeEvaluationCompleted, got[1].typ)
	assert.Contains(t, got[1].text, "backend timeout")
	assert.True(t, got[1].failed)
	assert.Equal(t, observed{typ: EventTypeStepCompleted, step: 2, text: "final", isFinal: true}, got[2])

	// system, step 1, failed evaluation, final step
	assert.Equal(t, 1+2+2+2, res.Conversation.Len())
	turns := res.Conversation.Turns()
	assert.Equal(t, RoleUser, turns[3].Role)
	assert.True(t, strings.HasPrefix(turns[3].Content, "Evaluate the current progress:"))
	assert.Equal(t, Turn{Role: RoleAssistant, Content: "Error: backend timeout"}, turns[4])

	// the final step sees the error reply as context
	calls := backend.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, turns[4], calls[2].Turns[4])
}

func TestOrchestrator_ContextGrowsMonotonically(t *testing.T) {
	backend := &scriptedBackend{}
	orch, err := NewOrchestrator(backend, testConfig(4))
	require.NoError(t, err)

	res, err := orch.Run(context.Background(), "", "erin", "task", nil)
	require.NoError(t, err)

	calls := backend.Calls()
	require.Len(t, calls, 7)
	for i := 1; i < len(calls); i++ {
		prev, cur := calls[i-1].Turns, calls[i].Turns
		require.Greater(t, len(cur), len(prev))
		// the evaluation prompt is committed once answered, so every earlier
		// request is still a prefix of the next one
		assert.Equal(t, prev, cur[:len(prev)])
	}

	turns := res.Conversation.Turns()
	assert.Equal(t, RoleSystem, turns[0].Role)
	for i := 1; i < len(turns); i++ {
		want := RoleUser
		if i%2 == 0 {
			want = RoleAssistant
		}
		assert.Equal(t, want, turns[i].Role, "turn %d", i)
	}
}

func TestOrchestrator_BudgetsAndTemperature(t *testing.T) {
	backend := &scriptedBackend{}
	cfg := testConfig(2)
	cfg.StepMaxTokens = 111
	cfg.EvaluationMaxTokens = 22
	cfg.Temperature = 0.3
	orch, err := NewOrchestrator(backend, cfg)
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), "", "frank", "task", nil)
	require.NoError(t, err)

	calls := backend.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, 111, calls[0].MaxTokens)
	assert.Equal(t, 22, calls[1].MaxTokens)
	assert.Equal(t, 111, calls[2].MaxTokens)
	for _, c := range calls {
		assert.Equal(t, 0.3, c.Temperature)
	}
	assert.Contains(t, calls[1].Turns[len(calls[1].Turns)-1].Content, "If below 8")
}

func TestOrchestrator_TruncatesEventText(t *testing.T) {
	long := strings.Repeat("x", MaxEventTextLength+500)
	backend := &scriptedBackend{
		steps:       []reply{ok(long), ok(long)},
		evaluations: []reply{ok(long)},
	}
	orch, err := NewOrchestrator(backend, testConfig(2))
	require.NoError(t, err)

	sink := &CaptureSink{}
	res, err := orch.Run(context.Background(), "", "gina", "task", sink)
	require.NoError(t, err)

	for _, o := range summarize(t, sink.Events()) {
		assert.LessOrEqual(t, len([]rune(o.text)), MaxEventTextLength)
	}
	// the untruncated text stays in the context and result
	assert.Equal(t, long, res.Steps[0].Text)
}

func TestOrchestrator_CancelledContextFailsRun(t *testing.T) {
	backend := &scriptedBackend{block: make(chan struct{})}
	orch, err := NewOrchestrator(backend, testConfig(3))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sink := &CaptureSink{}
	done := make(chan *RunResult, 1)
	go func() {
		res, _ := orch.Run(ctx, "", "hank", "task", sink)
		done <- res
	}()
	cancel()

	select {
	case res := <-done:
		assert.Equal(t, RunStatusFailed, res.Status)
		evs := sink.Events()
		require.NotEmpty(t, evs)
		assert.Equal(t, EventTypeRunFailed, evs[len(evs)-1].Type())
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}

func TestOrchestrator_SinkErrorsDoNotStopRun(t *testing.T) {
	backend := &scriptedBackend{}
	orch, err := NewOrchestrator(backend, testConfig(2))
	require.NoError(t, err)

	sink := SinkFunc(func(context.Context, Event) error { return assert.AnError })
	res, err := orch.Run(context.Background(), "", "ivy", "task", sink)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, res.Status)
}

func TestNewOrchestrator_RejectsInvalidConfig(t *testing.T) {
	_, err := NewOrchestrator(&scriptedBackend{}, Config{TotalSteps: -1})
	require.Error(t, err)

	_, err = NewOrchestrator(nil, DefaultConfig())
	require.Error(t, err)
}
