package reasoning

import (
	"fmt"
	"strings"
)

// BuildStepPrompt returns the instruction text for a 1-based step.
//
// The first step of a multi-step run asks for an initial analysis of the task, the
// intermediate steps critique and advance the prior steps, and the last step
// synthesizes everything into a final answer. A single-step run goes straight to the
// synthesis template, seeded with the task itself.
func BuildStepPrompt(stepIndex, totalSteps int, previousSteps, originalPrompt string) string {
	switch {
	case stepIndex >= totalSteps:
		material := previousSteps
		if strings.TrimSpace(material) == "" {
			material = originalPrompt
		}
		return fmt.Sprintf(finalStepTemplate, material)
	case stepIndex <= 1:
		return fmt.Sprintf(firstStepTemplate, originalPrompt)
	default:
		return fmt.Sprintf(intermediateStepTemplate, stepIndex, previousSteps)
	}
}

// FormatPreviousSteps renders accumulated step outputs as "Step i: text" blocks.
func FormatPreviousSteps(steps []StepResult) string {
	parts := make([]string, 0, len(steps))
	for _, s := range steps {
		parts = append(parts, fmt.Sprintf("Step %d: %s", s.Index, s.Text))
	}
	return strings.Join(parts, "\n\n")
}

// BuildEvaluationPrompt asks the backend to grade the step it just produced.
func BuildEvaluationPrompt(previousSteps, currentStep string, threshold int) string {
	return fmt.Sprintf(evaluationTemplate, previousSteps, currentStep, threshold)
}

const firstStepTemplate = `Step 1: Analyze the following prompt and outline your initial approach:

%s

Provide a solution and why that solution will work`

const intermediateStepTemplate = `Step %d: Review your previous steps:

%s

Now, critically evaluate these steps:
1. What aspects were well-addressed?
2. What aspects need improvement?
3. What new insights can you add?

Based on this evaluation, provide the next step in your reasoning.`

const finalStepTemplate = `Final Step: Based on all previous steps:

%s

Synthesize everything into a comprehensive final answer. Ensure you:
1. Address any remaining gaps
2. Provide concrete conclusions
3. Offer practical next steps or recommendations if applicable`

const evaluationTemplate = `Evaluate the current progress:

%s

%s

Rate the quality of this reasoning on a scale of 1-10 and explain why.
If below %d, what specific improvements are needed?`
