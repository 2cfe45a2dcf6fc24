package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Analysis models

// ChannelName identifies one of the two analysis sources
type ChannelName string

const (
	ChannelRule ChannelName = "rule"
	ChannelLLM  ChannelName = "llm"
	// ChannelNone marks the terminal reveal state
	ChannelNone ChannelName = ""
)

// MarshalJSON encodes ChannelNone as null so the terminal state is always on
// the wire
func (c ChannelName) MarshalJSON() ([]byte, error) {
	if c == ChannelNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(c))
}

// UnmarshalJSON accepts "rule", "llm" or null
func (c *ChannelName) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = ChannelNone
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("channel name: %w", err)
	}
	switch ChannelName(name) {
	case ChannelRule, ChannelLLM, ChannelNone:
		*c = ChannelName(name)
		return nil
	}
	return fmt.Errorf("unknown channel %q", name)
}

// AnalysisChannel is one source's explanation of a snippet
type AnalysisChannel struct {
	Icon           string   `json:"icon"`
	Title          string   `json:"title"`
	ReasoningSteps []string `json:"reasoning_steps"`
	FixSteps       []string `json:"fix_steps"`
	SuggestedPatch *string  `json:"suggested_patch,omitempty"`
	HighlightLines []int    `json:"highlightLines,omitempty"` // 1-based lines into the submitted code
}

// AnalysisResult holds both channels of one analysis
type AnalysisResult struct {
	Rule AnalysisChannel `json:"rule"`
	LLM  AnalysisChannel `json:"llm"`
}

// Channel returns the channel with the given name, or nil
func (r *AnalysisResult) Channel(name ChannelName) *AnalysisChannel {
	switch name {
	case ChannelRule:
		return &r.Rule
	case ChannelLLM:
		return &r.LLM
	default:
		return nil
	}
}

// Clone returns a deep copy of the result
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	return &AnalysisResult{
		Rule: r.Rule.clone(),
		LLM:  r.LLM.clone(),
	}
}

func (c AnalysisChannel) clone() AnalysisChannel {
	out := c
	out.ReasoningSteps = append([]string(nil), c.ReasoningSteps...)
	out.FixSteps = append([]string(nil), c.FixSteps...)
	if c.SuggestedPatch != nil {
		patch := *c.SuggestedPatch
		out.SuggestedPatch = &patch
	}
	if c.HighlightLines != nil {
		out.HighlightLines = append([]int(nil), c.HighlightLines...)
	}
	return out
}

// RevealProgress is the live cursor pair of one assistant message
type RevealProgress struct {
	RuleRevealed  int         `json:"rule"`
	LLMRevealed   int         `json:"llm"`
	ActiveChannel ChannelName `json:"active"`
}

// Terminal reports whether no channel is active any more
func (p RevealProgress) Terminal() bool {
	return p.ActiveChannel == ChannelNone
}

// Revealed returns the cursor for the given channel
func (p RevealProgress) Revealed(name ChannelName) int {
	if name == ChannelLLM {
		return p.LLMRevealed
	}
	return p.RuleRevealed
}

// InitialProgress returns the Init state for a freshly received result.
// A result with two empty channels starts (and stays) terminal.
func InitialProgress(result *AnalysisResult) RevealProgress {
	if len(result.Rule.ReasoningSteps) == 0 && len(result.LLM.ReasoningSteps) == 0 {
		return RevealProgress{ActiveChannel: ChannelNone}
	}
	return RevealProgress{ActiveChannel: ChannelRule}
}

// Transcript models

// Role discriminates the message variants
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is either a user submission (Text set) or an assistant response
// (Analysis and Progress set)
type Message struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	Text      string          `json:"text,omitempty"`
	Analysis  *AnalysisResult `json:"analysis,omitempty"`
	Progress  *RevealProgress `json:"progress,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewUserMessage creates the user variant
func NewUserMessage(id, text string) Message {
	return Message{
		ID:        id,
		Role:      RoleUser,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// NewAssistantMessage creates the assistant variant in its Init state
func NewAssistantMessage(id string, analysis *AnalysisResult) Message {
	progress := InitialProgress(analysis)
	return Message{
		ID:        id,
		Role:      RoleAssistant,
		Analysis:  analysis,
		Progress:  &progress,
		CreatedAt: time.Now(),
	}
}

// IsAssistant reports whether the message is the assistant variant
func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

// Clone returns a deep copy of the message
func (m Message) Clone() Message {
	out := m
	out.Analysis = m.Analysis.Clone()
	if m.Progress != nil {
		p := *m.Progress
		out.Progress = &p
	}
	return out
}
