package reasoning

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultTotalSteps            = 4
	DefaultStepMaxTokens         = 500
	DefaultEvaluationMaxTokens   = 300
	DefaultSatisfactionThreshold = 8
	DefaultInterStepPause        = time.Second
	DefaultTemperature           = 0.2
)

// Config holds the fixed knobs of a reasoning run. It is read once at startup and
// never negotiated per request.
type Config struct {
	TotalSteps          int           `mapstructure:"total-steps" json:"total_steps" yaml:"total-steps"`
	StepMaxTokens       int           `mapstructure:"step-max-tokens" json:"step_max_tokens" yaml:"step-max-tokens"`
	EvaluationMaxTokens int           `mapstructure:"evaluation-max-tokens" json:"evaluation_max_tokens" yaml:"evaluation-max-tokens"`
	InterStepPause      time.Duration `mapstructure:"inter-step-pause" json:"inter_step_pause" yaml:"inter-step-pause"`
	Temperature         float64       `mapstructure:"temperature" json:"temperature" yaml:"temperature"`
	SystemPrompt        string        `mapstructure:"system-prompt" json:"system_prompt" yaml:"system-prompt"`

	// SatisfactionThreshold only shows up in the evaluation prompt text.
	// No step is gated, retried or rewritten on the score.
	SatisfactionThreshold int `mapstructure:"satisfaction-threshold" json:"satisfaction_threshold" yaml:"satisfaction-threshold"`
}

// DefaultConfig returns the default reasoning configuration.
func DefaultConfig() Config {
	return Config{
		TotalSteps:            DefaultTotalSteps,
		StepMaxTokens:         DefaultStepMaxTokens,
		EvaluationMaxTokens:   DefaultEvaluationMaxTokens,
		SatisfactionThreshold: DefaultSatisfactionThreshold,
		InterStepPause:        DefaultInterStepPause,
		Temperature:           DefaultTemperature,
		SystemPrompt:          defaultSystemPrompt(),
	}
}

// Sanitized returns a copy with zero values replaced by defaults.
// TotalSteps is left alone so Validate can reject explicit negatives.
func (c Config) Sanitized() Config {
	out := c
	def := DefaultConfig()
	if out.TotalSteps == 0 {
		out.TotalSteps = def.TotalSteps
	}
	if out.StepMaxTokens <= 0 {
		out.StepMaxTokens = def.StepMaxTokens
	}
	if out.EvaluationMaxTokens <= 0 {
		out.EvaluationMaxTokens = def.EvaluationMaxTokens
	}
	if out.SatisfactionThreshold <= 0 {
		out.SatisfactionThreshold = def.SatisfactionThreshold
	}
	if out.InterStepPause < 0 {
		out.InterStepPause = 0
	}
	if out.Temperature < 0 {
		out.Temperature = def.Temperature
	}
	out.SystemPrompt = strings.TrimSpace(out.SystemPrompt)
	if out.SystemPrompt == "" {
		out.SystemPrompt = def.SystemPrompt
	}
	return out
}

func (c Config) Validate() error {
	if c.TotalSteps < 1 {
		return errors.Errorf("total steps must be >= 1, got %d", c.TotalSteps)
	}
	if c.StepMaxTokens < 1 {
		return errors.Errorf("step max tokens must be >= 1, got %d", c.StepMaxTokens)
	}
	if c.EvaluationMaxTokens < 1 {
		return errors.Errorf("evaluation max tokens must be >= 1, got %d", c.EvaluationMaxTokens)
	}
	return nil
}

func defaultSystemPrompt() string {
	return strings.TrimSpace(`
You are an expert AI assistant who provides detailed, thoughtful responses. Each response should be thorough yet focused on the specific step requested. Do not forget the task asked. Do not reiterate things too often.
`)
}
