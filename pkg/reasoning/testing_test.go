package reasoning

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// scriptedBackend answers calls in order. Primary step calls and evaluation calls
// are told apart by the evaluation prompt marker in the last user turn.
type scriptedBackend struct {
	mu          sync.Mutex
	steps       []reply
	evaluations []reply
	calls       []CompletionRequest
	block       chan struct{}
}

type reply struct {
	text string
	err  error
}

func ok(text string) reply { return reply{text: text} }

func fail(msg string) reply { return reply{err: errors.New(msg)} }

func (b *scriptedBackend) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, req)

	last := req.Turns[len(req.Turns)-1].Content
	queue := &b.steps
	if strings.HasPrefix(last, "Evaluate the current progress:") {
		queue = &b.evaluations
	}
	if len(*queue) == 0 {
		return "default", nil
	}
	r := (*queue)[0]
	*queue = (*queue)[1:]
	return r.text, r.err
}

func (b *scriptedBackend) Calls() []CompletionRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]CompletionRequest(nil), b.calls...)
}

func testConfig(steps int) Config {
	cfg := DefaultConfig()
	cfg.TotalSteps = steps
	cfg.InterStepPause = 0
	return cfg
}
