package render

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/duoexplain/pkg/models"
)

func assistant(progress models.RevealProgress) models.Message {
	patch := "for i in range(len(xs)):"
	return models.Message{
		ID:   "m1",
		Role: models.RoleAssistant,
		Analysis: &models.AnalysisResult{
			Rule: models.AnalysisChannel{
				Icon: "R", Title: "Rules",
				ReasoningSteps: []string{"rule one", "rule two"},
				FixSteps:       []string{"shrink the range"},
				SuggestedPatch: &patch,
				HighlightLines: []int{3},
			},
			LLM: models.AnalysisChannel{
				Icon: "L", Title: "Model",
				ReasoningSteps: []string{"llm one"},
				FixSteps:       []string{"iterate values"},
				HighlightLines: []int{3, 4},
			},
		},
		Progress: &progress,
	}
}

func TestPrinter_PrintsOnlyNewSteps(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Update(assistant(models.RevealProgress{ActiveChannel: models.ChannelRule}))
	assert.Equal(t, "Suspicious lines: 3, 4\n", buf.String())

	buf.Reset()
	p.Update(assistant(models.RevealProgress{RuleRevealed: 1, ActiveChannel: models.ChannelLLM}))
	assert.Equal(t, "R Rules [1/2] rule one\n", buf.String())

	buf.Reset()
	p.Update(assistant(models.RevealProgress{RuleRevealed: 1, LLMRevealed: 1, ActiveChannel: models.ChannelRule}))
	out := buf.String()
	assert.Contains(t, out, "L Model [1/1] llm one\n")
	assert.Contains(t, out, "L Model fix:\n  1. iterate values\n")
	assert.NotContains(t, out, "rule one")

	buf.Reset()
	p.Update(assistant(models.RevealProgress{RuleRevealed: 2, LLMRevealed: 1, ActiveChannel: models.ChannelNone}))
	out = buf.String()
	assert.Contains(t, out, "R Rules [2/2] rule two\n")
	assert.Contains(t, out, "  1. shrink the range\n")
	assert.Contains(t, out, "patch: for i in range(len(xs)):")
	assert.Equal(t, 1, strings.Count(out, "fix:"), "llm fixes are not repeated")

	buf.Reset()
	p.Update(assistant(models.RevealProgress{RuleRevealed: 2, LLMRevealed: 1, ActiveChannel: models.ChannelNone}))
	assert.Empty(t, buf.String())
}

func TestPrinter_EmptyChannelFixesAtTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	msg := assistant(models.RevealProgress{RuleRevealed: 2, ActiveChannel: models.ChannelNone})
	msg.Analysis.LLM.ReasoningSteps = []string{}
	p.Update(msg)

	assert.Contains(t, buf.String(), "L Model fix:\n  1. iterate values\n")
}

func TestPrinter_IgnoresUserMessages(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Update(models.NewUserMessage("u1", "print(x)"))
	assert.Empty(t, buf.String())
}

func TestPrinter_Code(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Code("a = 1\nb = 2\nc = 3\n", []int{2})

	assert.Equal(t, "1 │ a = 1\n2 ▶ b = 2\n3 │ c = 3\n\n", buf.String())
}

func TestPrinter_Error(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).Error(errors.New("request timeout after 15s"))
	assert.Equal(t, "✗ request timeout after 15s\n", buf.String())
}
