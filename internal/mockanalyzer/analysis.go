package mockanalyzer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/duoexplain/pkg/models"
)

// candidateVars are tried in order when naming the loop variable
var candidateVars = []string{"arr", "xs", "x", "lst", "values"}

var offByOneLoop = regexp.MustCompile(`range\(len\([a-zA-Z_]+\)\+1\)`)

// InferVar returns the first candidate used as len(<v>)+1, or "xs"
func InferVar(code string) string {
	for _, v := range candidateVars {
		if strings.Contains(code, fmt.Sprintf("len(%s)+1", v)) {
			return v
		}
	}
	return "xs"
}

// HighlightLine returns the 1-based line holding an off-by-one range loop,
// or 0 when there is none
func HighlightLine(code string) int {
	for i, line := range strings.Split(strings.ReplaceAll(code, "\r\n", "\n"), "\n") {
		if offByOneLoop.MatchString(line) {
			return i + 1
		}
	}
	return 0
}

// BuildAnalysis returns the canned two-channel analysis for code
func BuildAnalysis(code string) *models.AnalysisResult {
	v := InferVar(code)
	patch := fmt.Sprintf("for i in range(len(%s)):", v)

	highlight := []int{}
	if line := HighlightLine(code); line > 0 {
		highlight = []int{line}
	}

	return &models.AnalysisResult{
		Rule: models.AnalysisChannel{
			Icon:  "⚙️",
			Title: "Rule engine",
			ReasoningSteps: []string{
				"Read the loop structure to check its bounds.",
				fmt.Sprintf("range(len(%s)+1) can run past the last index.", v),
				fmt.Sprintf("Valid indices are 0..len(%s)-1.", v),
			},
			FixSteps: []string{
				fmt.Sprintf("Change range(len(%s)+1) to range(len(%s)).", v, v),
				"Re-test with small inputs such as [] and [1].",
			},
			SuggestedPatch: &patch,
			HighlightLines: highlight,
		},
		LLM: models.AnalysisChannel{
			Icon:  "🤖",
			Title: "LLM",
			ReasoningSteps: []string{
				"Check the comparison and element access logic.",
				fmt.Sprintf("Index len(%s) raises IndexError.", v),
				fmt.Sprintf("Iterate up to len(%s)-1 or loop over the values directly.", v),
			},
			FixSteps: []string{
				fmt.Sprintf("Replace it with range(len(%s)).", v),
				fmt.Sprintf("Or write: for item in %s: if item > m: m = item.", v),
			},
			SuggestedPatch: &patch,
			HighlightLines: highlight,
		},
	}
}
