package webchat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/ruminate/pkg/reasoning"
	"github.com/go-go-golems/ruminate/pkg/redisstream"
)

type testEnv struct {
	srv     *Server
	http    *httptest.Server
	svc     *reasoning.Service
	release chan struct{}
}

func newTestEnv(t *testing.T, steps int) *testEnv {
	t.Helper()
	release := make(chan struct{})
	backend := reasoning.BackendFunc(func(ctx context.Context, req reasoning.CompletionRequest) (string, error) {
		select {
		case <-release:
			return "answer", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	orch, err := reasoning.NewOrchestrator(backend, reasoning.Config{TotalSteps: steps})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	svc, err := reasoning.NewService(ctx, orch)
	require.NoError(t, err)

	ps, err := redisstream.BuildPubSub(ctx, redisstream.Settings{}, zerolog.Nop())
	require.NoError(t, err)

	srv, err := NewServer(Settings{}, svc, ps)
	require.NoError(t, err)
	consumed, err := srv.consumer.Start(ctx)
	require.NoError(t, err)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		cancel()
		svc.Wait()
		<-consumed
		srv.hub.CloseAll()
		_ = ps.Close()
	})
	return &testEnv{srv: srv, http: hs, svc: svc, release: release}
}

func (e *testEnv) think(t *testing.T, body string) (int, thinkResponse) {
	t.Helper()
	resp, err := http.Post(e.http.URL+"/think", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var out thinkResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestThink_AcceptsThenRejectsWhileRunning(t *testing.T) {
	env := newTestEnv(t, 2)

	code, out := env.think(t, `{"requester_id":"alice","prompt":"plan"}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "accepted", out.Status)
	assert.NotEmpty(t, out.RunID)

	code, out = env.think(t, `{"requester_id":"alice","prompt":"again"}`)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "rejected", out.Status)
	assert.Equal(t, "already running", out.Error)

	resp, err := http.Get(env.http.URL + "/api/runs/active")
	require.NoError(t, err)
	var active struct {
		Active []string `json:"active"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&active))
	_ = resp.Body.Close()
	assert.Equal(t, []string{"alice"}, active.Active)

	close(env.release)
	require.Eventually(t, func() bool {
		return !env.svc.Guard().IsActive("alice")
	}, 2*time.Second, 10*time.Millisecond)

	code, _ = env.think(t, `{"requester_id":"alice","prompt":"third"}`)
	assert.Equal(t, http.StatusAccepted, code)
}

func TestThink_BadRequests(t *testing.T) {
	env := newTestEnv(t, 1)
	close(env.release)

	for _, body := range []string{`not json`, `{"requester_id":"bob"}`, `{"prompt":"p"}`} {
		code, out := env.think(t, body)
		assert.Equal(t, http.StatusBadRequest, code, body)
		assert.Equal(t, "rejected", out.Status)
	}

	resp, err := http.Get(env.http.URL + "/think")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebsocketStreamsRequesterEvents(t *testing.T) {
	env := newTestEnv(t, 2)
	close(env.release)

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws?requester_id=carol"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return env.srv.Hub().Count("carol") == 1 }, time.Second, 10*time.Millisecond)

	code, out := env.think(t, `{"requester_id":"carol","prompt":"plan"}`)
	require.Equal(t, http.StatusAccepted, code)

	var types []reasoning.EventType
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		ev, err := reasoning.NewEventFromJSON(data)
		require.NoError(t, err)
		assert.Equal(t, out.RunID, ev.Metadata().RunID)
		types = append(types, ev.Type())
		if sc, ok := ev.(*reasoning.EventStepCompleted); ok && sc.IsFinal {
			break
		}
	}
	assert.Equal(t, []reasoning.EventType{
		reasoning.EventTypeStepStarted,
		reasoning.EventTypeStepCompleted,
		reasoning.EventTypeEvaluationCompleted,
		reasoning.EventTypeStepStarted,
		reasoning.EventTypeStepCompleted,
	}, types)
}

func TestWebsocketRequiresRequester(t *testing.T) {
	env := newTestEnv(t, 1)
	close(env.release)

	resp, err := http.Get(env.http.URL + "/ws")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(env.http.URL + "/api/runs")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(env.http.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
