package runstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/ruminate/pkg/reasoning"
)

func newTestStore(t *testing.T) *SQLiteRunStore {
	t.Helper()
	dsn, err := DSNForFile(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	s, err := NewSQLiteRunStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteRunStore_StartFinishList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, s.RunStarted(ctx, reasoning.RunRecord{RunID: "r1", RequesterID: "alice", TotalSteps: 4, StartedAt: t0}))
	require.NoError(t, s.RunStarted(ctx, reasoning.RunRecord{RunID: "r2", RequesterID: "bob", TotalSteps: 4, StartedAt: t0.Add(time.Second)}))
	require.NoError(t, s.RunFinished(ctx, reasoning.RunRecord{
		RunID: "r1", RequesterID: "alice", Status: reasoning.RunStatusFailed, TotalSteps: 4,
		StepsDone: 1, Error: "connection refused", StartedAt: t0, FinishedAt: t0.Add(2 * time.Second),
	}))

	runs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].RunID)
	assert.Equal(t, reasoning.RunStatusRunning, runs[0].Status)
	assert.True(t, runs[0].FinishedAt.IsZero())

	assert.Equal(t, "r1", runs[1].RunID)
	assert.Equal(t, reasoning.RunStatusFailed, runs[1].Status)
	assert.Equal(t, 1, runs[1].StepsDone)
	assert.Equal(t, "connection refused", runs[1].Error)
	assert.Equal(t, t0.UnixMilli(), runs[1].StartedAt.UnixMilli())

	byRequester, err := s.Query(ctx, RunQuery{RequesterID: "alice"})
	require.NoError(t, err)
	require.Len(t, byRequester, 1)

	failed, err := s.Query(ctx, RunQuery{Status: reasoning.RunStatusFailed, Limit: 1})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "r1", failed[0].RunID)
}

func TestSQLiteRunStore_RecordsServiceRuns(t *testing.T) {
	s := newTestStore(t)
	orch, err := reasoning.NewOrchestrator(reasoning.BackendFunc(func(context.Context, reasoning.CompletionRequest) (string, error) {
		return "ok", nil
	}), reasoning.Config{TotalSteps: 2})
	require.NoError(t, err)
	svc, err := reasoning.NewService(context.Background(), orch, reasoning.WithRunRecorder(s))
	require.NoError(t, err)

	res, err := svc.Run(context.Background(), reasoning.SubmitRequest{RequesterID: "carol", Prompt: "p"})
	require.NoError(t, err)
	svc.Wait()

	runs, err := s.Query(context.Background(), RunQuery{RequesterID: "carol"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].RunID)
	assert.Equal(t, reasoning.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, 2, runs[0].StepsDone)
	assert.False(t, runs[0].FinishedAt.IsZero())
}

func TestSQLiteRunStore_Validation(t *testing.T) {
	_, err := NewSQLiteRunStore(" ")
	require.Error(t, err)
	_, err = DSNForFile("")
	require.Error(t, err)

	s := newTestStore(t)
	require.Error(t, s.RunStarted(context.Background(), reasoning.RunRecord{}))
}
