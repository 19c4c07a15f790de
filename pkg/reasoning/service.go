package reasoning

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// RunRecord is the metadata of a run handed to a RunRecorder. It never carries
// prompt or step text.
type RunRecord struct {
	RunID       string    `json:"run_id" yaml:"run_id"`
	RequesterID string    `json:"requester_id" yaml:"requester_id"`
	Status      RunStatus `json:"status" yaml:"status"`
	TotalSteps  int       `json:"total_steps" yaml:"total_steps"`
	StepsDone   int       `json:"steps_done" yaml:"steps_done"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// RunRecorder keeps an audit trail of runs.
type RunRecorder interface {
	RunStarted(ctx context.Context, rec RunRecord) error
	RunFinished(ctx context.Context, rec RunRecord) error
}

type SubmitRequest struct {
	RequesterID string
	Prompt      string
	Sink        Sink
}

// RunHandle tracks a run started by Submit.
type RunHandle struct {
	RunID       string
	RequesterID string

	done   chan struct{}
	result *RunResult
}

func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Result returns the run result once Done is closed, nil before.
func (h *RunHandle) Result() *RunResult {
	select {
	case <-h.done:
		return h.result
	default:
		return nil
	}
}

// Wait blocks until the run ends or ctx is done.
func (h *RunHandle) Wait(ctx context.Context) (*RunResult, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type ServiceOption func(*Service)

func WithRunRecorder(r RunRecorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// Service admits runs through the Guard and executes them off the caller's path.
type Service struct {
	baseCtx  context.Context
	orch     *Orchestrator
	guard    *Guard
	recorder RunRecorder

	wg sync.WaitGroup
}

// NewService builds a service whose runs derive from baseCtx rather than from the
// context of the request that submitted them.
func NewService(baseCtx context.Context, orch *Orchestrator, opts ...ServiceOption) (*Service, error) {
	if baseCtx == nil {
		return nil, errors.New("reasoning service base context is nil")
	}
	if orch == nil {
		return nil, errors.New("reasoning service orchestrator is nil")
	}
	s := &Service{baseCtx: baseCtx, orch: orch, guard: NewGuard()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) Guard() *Guard { return s.guard }

// Submit admits the request and starts the run in the background. It returns
// ErrAlreadyRunning when the requester has a run in flight.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*RunHandle, error) {
	requesterID := strings.TrimSpace(req.RequesterID)
	if requesterID == "" {
		return nil, ErrEmptyRequester
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if !s.guard.TryAdmit(requesterID) {
		log.Debug().Str("component", "reasoning").Str("requester_id", requesterID).Msg("run rejected, already running")
		return nil, ErrAlreadyRunning
	}

	h := &RunHandle{
		RunID:       uuid.NewString(),
		RequesterID: requesterID,
		done:        make(chan struct{}),
	}
	s.wg.Add(1)
	go s.execute(h, prompt, req.Sink)
	return h, nil
}

// Run submits and waits for the run to finish. If ctx ends first, Run still waits
// for the run to release its requester and returns ctx's error with whatever
// result the run produced.
func (s *Service) Run(ctx context.Context, req SubmitRequest) (*RunResult, error) {
	h, err := s.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := h.Wait(ctx)
	if err != nil {
		// the run stops on the service context; let it release the requester and
		// finish recording before the caller tears anything down
		<-h.Done()
		return h.Result(), err
	}
	return res, res.Err
}

// Wait blocks until every submitted run has released its requester.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) execute(h *RunHandle, prompt string, sink Sink) {
	started := time.Now()
	defer s.wg.Done()
	defer close(h.done)
	defer s.guard.Release(h.RequesterID)
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		err := errors.Errorf("reasoning run panicked: %v", p)
		log.Error().Str("component", "reasoning").Str("run_id", h.RunID).Interface("panic", p).Msg("reasoning run panicked")
		if h.result != nil {
			return
		}
		h.result = &RunResult{
			RunID:       h.RunID,
			RequesterID: h.RequesterID,
			Prompt:      prompt,
			Status:      RunStatusFailed,
			Err:         err,
			Error:       err.Error(),
			StartedAt:   started,
			FinishedAt:  time.Now(),
		}
		if sink != nil {
			ev := NewRunFailed(newMetadata(h.RunID, h.RequesterID), 0, Truncate(err.Error(), MaxEventTextLength))
			if perr := sink.PublishEvent(context.WithoutCancel(s.baseCtx), ev); perr != nil {
				log.Warn().Err(perr).Str("component", "reasoning").Str("run_id", h.RunID).Msg("sink publish failed")
			}
		}
		s.recordFinished(h.result)
	}()

	s.record(func(ctx context.Context, r RunRecorder) error {
		return r.RunStarted(ctx, RunRecord{
			RunID:       h.RunID,
			RequesterID: h.RequesterID,
			Status:      RunStatusRunning,
			TotalSteps:  s.orch.Config().TotalSteps,
			StartedAt:   started,
		})
	})

	res, _ := s.orch.Run(s.baseCtx, h.RunID, h.RequesterID, prompt, sink)
	h.result = res
	s.recordFinished(res)
}

func (s *Service) recordFinished(res *RunResult) {
	s.record(func(ctx context.Context, r RunRecorder) error {
		return r.RunFinished(ctx, RunRecord{
			RunID:       res.RunID,
			RequesterID: res.RequesterID,
			Status:      res.Status,
			TotalSteps:  s.orch.Config().TotalSteps,
			StepsDone:   len(res.Steps),
			Error:       res.Error,
			StartedAt:   res.StartedAt,
			FinishedAt:  res.FinishedAt,
		})
	})
}

func (s *Service) record(fn func(ctx context.Context, r RunRecorder) error) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.baseCtx), 5*time.Second)
	defer cancel()
	if err := fn(ctx, s.recorder); err != nil {
		log.Warn().Err(err).Str("component", "reasoning").Msg("run recorder failed")
	}
}
