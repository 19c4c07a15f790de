package reasoning

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildStepPrompt(t *testing.T) {
	first := BuildStepPrompt(1, 4, "", "plan a trip")
	assert.True(t, strings.HasPrefix(first, "Step 1: Analyze the following prompt"))
	assert.Contains(t, first, "plan a trip")

	mid := BuildStepPrompt(3, 4, "Step 1: A\n\nStep 2: B", "plan a trip")
	assert.True(t, strings.HasPrefix(mid, "Step 3: Review your previous steps:"))
	assert.Contains(t, mid, "Step 2: B")
	assert.NotContains(t, mid, "plan a trip")

	final := BuildStepPrompt(4, 4, "Step 1: A", "plan a trip")
	assert.True(t, strings.HasPrefix(final, "Final Step: Based on all previous steps:"))
	assert.Contains(t, final, "Step 1: A")

	single := BuildStepPrompt(1, 1, "", "plan a trip")
	assert.True(t, strings.HasPrefix(single, "Final Step:"))
	assert.Contains(t, single, "plan a trip")
}

func TestFormatPreviousSteps(t *testing.T) {
	assert.Equal(t, "", FormatPreviousSteps(nil))
	got := FormatPreviousSteps([]StepResult{{Index: 1, Text: "A"}, {Index: 2, Text: "B"}})
	assert.Equal(t, "Step 1: A\n\nStep 2: B", got)
}

func TestBuildEvaluationPrompt(t *testing.T) {
	got := BuildEvaluationPrompt("Step 1: A", "B", 7)
	assert.True(t, strings.HasPrefix(got, "Evaluate the current progress:"))
	assert.Contains(t, got, "Step 1: A")
	assert.True(t, strings.HasSuffix(got, "If below 7, what specific improvements are needed?"))
}
