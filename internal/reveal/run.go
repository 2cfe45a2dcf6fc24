package reveal

import (
	"github.com/duoexplain/pkg/models"
)

// Run is the tick state machine for one assistant message. Odd ticks belong
// to the rule channel and even ticks to the llm channel; a tick whose channel
// is already fully revealed advances nothing.
type Run struct {
	ruleTotal int
	llmTotal  int
	ticks     int
	progress  models.RevealProgress
}

// NewRun creates a run in its Init state
func NewRun(result *models.AnalysisResult) *Run {
	return &Run{
		ruleTotal: len(result.Rule.ReasoningSteps),
		llmTotal:  len(result.LLM.ReasoningSteps),
		progress:  models.InitialProgress(result),
	}
}

// TotalTicks is the number of ticks a complete run schedules
func (r *Run) TotalTicks() int {
	return 2 * max(r.ruleTotal, r.llmTotal)
}

// Ticks returns how many ticks have fired so far
func (r *Run) Ticks() int {
	return r.ticks
}

// Done reports whether the tick budget is spent
func (r *Run) Done() bool {
	return r.ticks >= r.TotalTicks()
}

// Progress returns the current cursors
func (r *Run) Progress() models.RevealProgress {
	return r.progress
}

// Tick fires the next tick and returns the new progress. It reports whether
// the tick advanced a cursor. Ticking a finished run changes nothing.
func (r *Run) Tick() (models.RevealProgress, bool) {
	if r.Done() {
		return r.progress, false
	}
	r.ticks++

	advanced := false
	switch channelForTick(r.ticks) {
	case models.ChannelRule:
		if r.progress.RuleRevealed < r.ruleTotal {
			r.progress.RuleRevealed++
			advanced = true
		}
	case models.ChannelLLM:
		if r.progress.LLMRevealed < r.llmTotal {
			r.progress.LLMRevealed++
			advanced = true
		}
	}
	r.progress.ActiveChannel = r.nextActive()
	return r.progress, advanced
}

// nextActive names the channel the next advancing tick belongs to, scanning
// forward in alternation order. A channel with nothing left is skipped, so an
// empty channel never becomes active.
func (r *Run) nextActive() models.ChannelName {
	ruleLeft := r.progress.RuleRevealed < r.ruleTotal
	llmLeft := r.progress.LLMRevealed < r.llmTotal
	switch {
	case !ruleLeft && !llmLeft:
		return models.ChannelNone
	case !ruleLeft:
		return models.ChannelLLM
	case !llmLeft:
		return models.ChannelRule
	default:
		return channelForTick(r.ticks + 1)
	}
}

func channelForTick(tick int) models.ChannelName {
	if tick%2 == 1 {
		return models.ChannelRule
	}
	return models.ChannelLLM
}
