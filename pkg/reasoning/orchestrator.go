package reasoning

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CompletionRequest is a single request/response call against the backend.
type CompletionRequest struct {
	Turns       []Turn
	MaxTokens   int
	Temperature float64
}

// Backend generates text from a conversation. Any failure is surfaced through its
// error text; see TransportError and BackendContentError.
type Backend interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type BackendFunc func(ctx context.Context, req CompletionRequest) (string, error)

func (f BackendFunc) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}

// TokenCounter estimates the token size of text. Used for logging only.
type TokenCounter interface {
	Count(text string) int
}

type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// StepResult is the output of one reasoning step. Index is 1-based.
type StepResult struct {
	Index int    `json:"index" yaml:"index"`
	Text  string `json:"text" yaml:"text"`
}

// RunResult is what is left of a run once it ends. Nothing of it is persisted.
type RunResult struct {
	RunID        string        `json:"run_id" yaml:"run_id"`
	RequesterID  string        `json:"requester_id" yaml:"requester_id"`
	Prompt       string        `json:"prompt" yaml:"prompt"`
	Status       RunStatus     `json:"status" yaml:"status"`
	Steps        []StepResult  `json:"steps" yaml:"steps"`
	Conversation *Conversation `json:"-" yaml:"-"`
	Err          error         `json:"-" yaml:"-"`
	Error        string        `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time     `json:"finished_at" yaml:"finished_at"`
}

// Answer returns the final step text, or "" when the run did not complete.
func (r *RunResult) Answer() string {
	if r == nil || r.Status != RunStatusCompleted || len(r.Steps) == 0 {
		return ""
	}
	return r.Steps[len(r.Steps)-1].Text
}

type OrchestratorOption func(*Orchestrator)

func WithTokenCounter(tc TokenCounter) OrchestratorOption {
	return func(o *Orchestrator) { o.tokens = tc }
}

func WithLogger(l zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator runs the fixed-length step sequence of a reasoning run.
type Orchestrator struct {
	backend Backend
	cfg     Config
	tokens  TokenCounter
	logger  zerolog.Logger
}

func NewOrchestrator(backend Backend, cfg Config, opts ...OrchestratorOption) (*Orchestrator, error) {
	if backend == nil {
		return nil, errors.New("reasoning orchestrator needs a backend")
	}
	cfg = cfg.Sanitized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		backend: backend,
		cfg:     cfg,
		logger:  log.Logger.With().Str("component", "reasoning").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Orchestrator) Config() Config { return o.cfg }

// run is the mutable state of one execution, owned by the loop.
type run struct {
	id          string
	requesterID string
	prompt      string
	total       int
	step        int
	status      RunStatus
	steps       []StepResult
	conv        *Conversation
	sink        Sink
	logger      zerolog.Logger
}

// Run executes one reasoning run and blocks until it completes or fails. Admission
// and release are the caller's business (see Service).
//
// The returned error is the failure that stopped the run; it is also reported to the
// sink as a RunFailed event.
func (o *Orchestrator) Run(ctx context.Context, runID, requesterID, prompt string, sink Sink) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if sink == nil {
		sink = discardSink{}
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	r := &run{
		id:          runID,
		requesterID: requesterID,
		prompt:      prompt,
		total:       o.cfg.TotalSteps,
		status:      RunStatusIdle,
		conv:        NewConversation(o.cfg.SystemPrompt),
		sink:        sink,
		logger:      o.logger.With().Str("run_id", runID).Str("requester_id", requesterID).Logger(),
	}
	startedAt := time.Now()

	ctx, span := tracer.Start(ctx, "reasoning.run", runAttributes(runID, requesterID, r.total))
	err := o.loop(ctx, r)
	endSpan(span, err)

	res := &RunResult{
		RunID:        r.id,
		RequesterID:  r.requesterID,
		Prompt:       r.prompt,
		Status:       r.status,
		Steps:        append([]StepResult(nil), r.steps...),
		Conversation: r.conv,
		Err:          err,
		StartedAt:    startedAt,
		FinishedAt:   time.Now(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	r.logger.Info().
		Str("status", string(r.status)).
		Int("steps", len(r.steps)).
		Int("turns", r.conv.Len()).
		Dur("duration", res.FinishedAt.Sub(startedAt)).
		Msg("reasoning run finished")
	return res, err
}

func (o *Orchestrator) loop(ctx context.Context, r *run) error {
	r.status = RunStatusRunning
	r.logger.Info().Int("total_steps", r.total).Msg("reasoning run started")

	for r.step = 1; r.step <= r.total; r.step++ {
		isFinal := r.step == r.total
		o.emit(ctx, r, NewStepStarted(r.meta(), r.step, r.total))

		text, err := o.primaryStep(ctx, r)
		if err != nil {
			return o.fail(ctx, r, err)
		}
		o.emit(ctx, r, NewStepCompleted(r.meta(), r.step, r.total, Truncate(text, MaxEventTextLength), isFinal))

		if isFinal {
			break
		}
		o.evaluate(ctx, r, text)

		if err := o.pause(ctx); err != nil {
			return o.fail(ctx, r, err)
		}
	}

	r.status = RunStatusCompleted
	return nil
}

func (o *Orchestrator) primaryStep(ctx context.Context, r *run) (string, error) {
	ctx, span := tracer.Start(ctx, "reasoning.step", trace.WithAttributes(attribute.Int("step", r.step)))
	started := time.Now()

	previous := FormatPreviousSteps(r.steps)
	r.conv.AppendUser(BuildStepPrompt(r.step, r.total, previous, r.prompt))

	text, err := o.backend.Complete(ctx, CompletionRequest{
		Turns:       r.conv.Turns(),
		MaxTokens:   o.cfg.StepMaxTokens,
		Temperature: o.cfg.Temperature,
	})
	if err != nil {
		endSpan(span, err)
		return "", err
	}

	r.conv.AppendAssistant(text)
	r.steps = append(r.steps, StepResult{Index: r.step, Text: text})

	ev := r.logger.Debug().
		Int("step", r.step).
		Int("turns", r.conv.Len()).
		Int("response_chars", len(text)).
		Dur("duration", time.Since(started))
	if o.tokens != nil {
		n := o.tokens.Count(r.conv.Text())
		ev = ev.Int("context_tokens", n)
		span.SetAttributes(attribute.Int("context_tokens", n))
	}
	ev.Msg("reasoning step completed")

	span.SetAttributes(attribute.Int("turns", r.conv.Len()))
	endSpan(span, nil)
	return text, nil
}

// evaluate runs the advisory self-evaluation of the step that just completed.
// A failure is recorded in place of the critique and never stops the run.
func (o *Orchestrator) evaluate(ctx context.Context, r *run, stepText string) {
	ctx, span := tracer.Start(ctx, "reasoning.evaluation", trace.WithAttributes(attribute.Int("step", r.step)))

	previous := FormatPreviousSteps(r.steps[:len(r.steps)-1])
	prompt := BuildEvaluationPrompt(previous, stepText, o.cfg.SatisfactionThreshold)

	text, err := o.backend.Complete(ctx, CompletionRequest{
		Turns:       r.conv.With(Turn{Role: RoleUser, Content: prompt}),
		MaxTokens:   o.cfg.EvaluationMaxTokens,
		Temperature: o.cfg.Temperature,
	})
	if err != nil {
		r.logger.Warn().Err(err).Int("step", r.step).Msg("evaluation failed, continuing")
		endSpan(span, err)
		// the error reply stands in for the critique in the next step's context
		errText := "Error: " + err.Error()
		r.conv.AppendUser(prompt)
		r.conv.AppendAssistant(errText)
		o.emit(ctx, r, NewEvaluationCompleted(r.meta(), r.step, Truncate(errText, MaxEventTextLength), true))
		return
	}

	r.conv.AppendUser(prompt)
	r.conv.AppendAssistant(text)
	endSpan(span, nil)
	o.emit(ctx, r, NewEvaluationCompleted(r.meta(), r.step, Truncate(text, MaxEventTextLength), false))
}

func (o *Orchestrator) pause(ctx context.Context) error {
	if o.cfg.InterStepPause <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(o.cfg.InterStepPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o *Orchestrator) fail(ctx context.Context, r *run, err error) error {
	r.status = RunStatusFailed
	msg := strings.TrimSpace(err.Error())
	r.logger.Error().Err(err).Int("step", r.step).Msg("reasoning run failed")
	// the run context may already be cancelled; the failure still has to reach the sink
	o.emit(context.WithoutCancel(ctx), r, NewRunFailed(r.meta(), r.step, Truncate(msg, MaxEventTextLength)))
	return err
}

func (o *Orchestrator) emit(ctx context.Context, r *run, e Event) {
	if err := r.sink.PublishEvent(ctx, e); err != nil {
		r.logger.Warn().Err(err).Str("event_type", string(e.Type())).Msg("sink publish failed")
	}
}

func (r *run) meta() EventMetadata {
	return newMetadata(r.id, r.requesterID)
}
