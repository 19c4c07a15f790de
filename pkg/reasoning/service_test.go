package reasoning

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type memRecorder struct {
	mu       sync.Mutex
	started  []RunRecord
	finished []RunRecord
}

func (m *memRecorder) RunStarted(_ context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, rec)
	return nil
}

func (m *memRecorder) RunFinished(_ context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, rec)
	return nil
}

func newTestService(t *testing.T, backend Backend, steps int, opts ...ServiceOption) *Service {
	t.Helper()
	orch, err := NewOrchestrator(backend, testConfig(steps))
	require.NoError(t, err)
	svc, err := NewService(context.Background(), orch, opts...)
	require.NoError(t, err)
	return svc
}

func TestService_RejectsSecondRunWhileFirstInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := &scriptedBackend{block: make(chan struct{})}
	svc := newTestService(t, backend, 2)

	h, err := svc.Submit(context.Background(), SubmitRequest{RequesterID: "alice", Prompt: "one"})
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), SubmitRequest{RequesterID: "alice", Prompt: "two"})
	require.ErrorIs(t, err, ErrAlreadyRunning)

	// other requesters are independent
	h2, err := svc.Submit(context.Background(), SubmitRequest{RequesterID: "bob", Prompt: "three"})
	require.NoError(t, err)

	close(backend.block)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, res.Status)
	_, err = h2.Wait(ctx)
	require.NoError(t, err)

	svc.Wait()
	assert.Empty(t, svc.Guard().Active())
}

func TestService_ReadmitsAfterSuccessAndFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := &scriptedBackend{steps: []reply{fail("connection refused")}}
	rec := &memRecorder{}
	svc := newTestService(t, backend, 2, WithRunRecorder(rec))

	res, err := svc.Run(context.Background(), SubmitRequest{RequesterID: "carol", Prompt: "fails"})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, RunStatusFailed, res.Status)
	assert.False(t, svc.Guard().IsActive("carol"))

	res, err = svc.Run(context.Background(), SubmitRequest{RequesterID: "carol", Prompt: "works"})
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, res.Status)

	res, err = svc.Run(context.Background(), SubmitRequest{RequesterID: "carol", Prompt: "again"})
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, res.Status)

	svc.Wait()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.started, 3)
	require.Len(t, rec.finished, 3)
	assert.Equal(t, RunStatusFailed, rec.finished[0].Status)
	assert.Equal(t, "connection refused", rec.finished[0].Error)
	assert.Equal(t, 0, rec.finished[0].StepsDone)
	assert.Equal(t, RunStatusCompleted, rec.finished[1].Status)
	assert.Equal(t, 2, rec.finished[1].StepsDone)
}

func TestService_ReleasesOnPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	backend := BackendFunc(func(context.Context, CompletionRequest) (string, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return "ok", nil
	})
	rec := &memRecorder{}
	svc := newTestService(t, backend, 2, WithRunRecorder(rec))

	sink := &CaptureSink{}
	res, err := svc.Run(context.Background(), SubmitRequest{RequesterID: "dave", Prompt: "p", Sink: sink})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, RunStatusFailed, res.Status)
	assert.Contains(t, res.Error, "boom")
	assert.False(t, res.StartedAt.IsZero())

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeStepStarted, events[0].Type())
	failed, ok := events[1].(*EventRunFailed)
	require.True(t, ok)
	assert.Contains(t, failed.Error, "boom")
	assert.Equal(t, res.RunID, failed.Metadata().RunID)

	rec.mu.Lock()
	require.Len(t, rec.started, 1)
	require.Len(t, rec.finished, 1)
	assert.Equal(t, RunStatusFailed, rec.finished[0].Status)
	assert.Contains(t, rec.finished[0].Error, "boom")
	rec.mu.Unlock()

	res, err = svc.Run(context.Background(), SubmitRequest{RequesterID: "dave", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Answer())
}

func TestService_ConcurrentSubmitAdmitsOne(t *testing.T) {
	defer goleak.VerifyNone(t)

	for round := 0; round < 50; round++ {
		backend := &scriptedBackend{block: make(chan struct{})}
		svc := newTestService(t, backend, 1)

		const callers = 8
		var (
			wg       sync.WaitGroup
			start    = make(chan struct{})
			accepted atomic.Int32
			rejected atomic.Int32
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := svc.Submit(context.Background(), SubmitRequest{RequesterID: "gina", Prompt: "p"})
				switch {
				case err == nil:
					accepted.Add(1)
				case errors.Is(err, ErrAlreadyRunning):
					rejected.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), accepted.Load(), "round %d", round)
		require.Equal(t, int32(callers-1), rejected.Load(), "round %d", round)
		assert.Equal(t, []string{"gina"}, svc.Guard().Active())

		close(backend.block)
		svc.Wait()
		assert.Empty(t, svc.Guard().Active())
	}
}

func TestService_RunWaitsForReleaseWhenCallerGivesUp(t *testing.T) {
	defer goleak.VerifyNone(t)

	base, cancelBase := context.WithCancel(context.Background())
	backend := &scriptedBackend{block: make(chan struct{})}
	orch, err := NewOrchestrator(backend, testConfig(2))
	require.NoError(t, err)
	rec := &memRecorder{}
	svc, err := NewService(base, orch, WithRunRecorder(rec))
	require.NoError(t, err)

	// the same context drives the caller and the runs, as in the CLI
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancelBase()
	}()
	res, err := svc.Run(base, SubmitRequest{RequesterID: "hank", Prompt: "p"})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, RunStatusFailed, res.Status)
	assert.False(t, svc.Guard().IsActive("hank"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.finished, 1)
	assert.Equal(t, RunStatusFailed, rec.finished[0].Status)
}

func TestService_ValidatesInput(t *testing.T) {
	svc := newTestService(t, &scriptedBackend{}, 1)

	_, err := svc.Submit(context.Background(), SubmitRequest{RequesterID: "  ", Prompt: "p"})
	require.ErrorIs(t, err, ErrEmptyRequester)

	_, err = svc.Submit(context.Background(), SubmitRequest{RequesterID: "erin", Prompt: "\n"})
	require.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Empty(t, svc.Guard().Active())
}

func TestService_RunOutlivesSubmitContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := &scriptedBackend{block: make(chan struct{})}
	svc := newTestService(t, backend, 1)

	reqCtx, cancel := context.WithCancel(context.Background())
	h, err := svc.Submit(reqCtx, SubmitRequest{RequesterID: "frank", Prompt: "p"})
	require.NoError(t, err)
	cancel()
	close(backend.block)

	<-h.Done()
	assert.Equal(t, RunStatusCompleted, h.Result().Status)
	svc.Wait()
}
