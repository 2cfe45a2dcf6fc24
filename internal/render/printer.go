package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/duoexplain/pkg/models"
)

type styles struct {
	Code      lipgloss.Style
	Highlight lipgloss.Style
	Dim       lipgloss.Style
	Rule      lipgloss.Style
	LLM       lipgloss.Style
	Fix       lipgloss.Style
	Patch     lipgloss.Style
	Error     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		Code:      r.NewStyle().Foreground(lipgloss.Color("252")),
		Highlight: r.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11")),
		Dim:       r.NewStyle().Foreground(lipgloss.Color("8")),
		Rule:      r.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		LLM:       r.NewStyle().Foreground(lipgloss.Color("13")).Bold(true),
		Fix:       r.NewStyle().Foreground(lipgloss.Color("10")),
		Patch:     r.NewStyle().Foreground(lipgloss.Color("14")).Italic(true),
		Error:     r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
}

// messageState remembers what has already been printed for one message
type messageState struct {
	shown       map[models.ChannelName]int
	fixesShown  map[models.ChannelName]bool
	headerShown bool
}

// Printer writes assistant messages incrementally: each Update prints only
// the reasoning steps revealed since the previous call, and a channel's fixes
// once it is fully revealed
type Printer struct {
	w      io.Writer
	styles styles
	state  map[string]*messageState
}

// NewPrinter creates a printer; colors are dropped when w is not a terminal
func NewPrinter(w io.Writer) *Printer {
	return &Printer{
		w:      w,
		styles: newStyles(lipgloss.NewRenderer(w)),
		state:  make(map[string]*messageState),
	}
}

// Code prints the submitted snippet with line numbers, marking highlighted
// lines
func (p *Printer) Code(code string, highlight []int) {
	marked := make(map[int]bool, len(highlight))
	for _, line := range highlight {
		marked[line] = true
	}

	lines := strings.Split(strings.TrimRight(code, "\n"), "\n")
	width := len(fmt.Sprint(len(lines)))
	for i, line := range lines {
		n := i + 1
		gutter := p.styles.Dim.Render(fmt.Sprintf("%*d │", width, n))
		text := p.styles.Code.Render(line)
		if marked[n] {
			gutter = p.styles.Highlight.Render(fmt.Sprintf("%*d ▶", width, n))
			text = p.styles.Highlight.Render(line)
		}
		fmt.Fprintf(p.w, "%s %s\n", gutter, text)
	}
	fmt.Fprintln(p.w)
}

// Update prints whatever msg reveals beyond the last call for the same id.
// User messages are ignored.
func (p *Printer) Update(msg models.Message) {
	if !msg.IsAssistant() || msg.Analysis == nil || msg.Progress == nil {
		return
	}

	st, ok := p.state[msg.ID]
	if !ok {
		st = &messageState{
			shown:      make(map[models.ChannelName]int),
			fixesShown: make(map[models.ChannelName]bool),
		}
		p.state[msg.ID] = st
	}

	if !st.headerShown {
		st.headerShown = true
		if lines := HighlightedLines(msg.Analysis); len(lines) > 0 {
			fmt.Fprintln(p.w, p.styles.Dim.Render("Suspicious lines: "+joinInts(lines)))
		}
	}

	for _, name := range []models.ChannelName{models.ChannelRule, models.ChannelLLM} {
		ch := msg.Analysis.Channel(name)
		revealed := msg.Progress.Revealed(name)
		if revealed > len(ch.ReasoningSteps) {
			revealed = len(ch.ReasoningSteps)
		}

		label := p.label(name, ch)
		for st.shown[name] < revealed {
			i := st.shown[name]
			fmt.Fprintf(p.w, "%s %s %s\n", label,
				p.styles.Dim.Render(fmt.Sprintf("[%d/%d]", i+1, len(ch.ReasoningSteps))),
				ch.ReasoningSteps[i])
			st.shown[name]++
		}

		if revealed == len(ch.ReasoningSteps) && !st.fixesShown[name] && len(ch.ReasoningSteps) > 0 {
			st.fixesShown[name] = true
			p.fixes(label, ch)
		}
	}

	// channels without reasoning show their fixes once the whole reveal ends
	if msg.Progress.Terminal() {
		for _, name := range []models.ChannelName{models.ChannelRule, models.ChannelLLM} {
			ch := msg.Analysis.Channel(name)
			if !st.fixesShown[name] {
				st.fixesShown[name] = true
				p.fixes(p.label(name, ch), ch)
			}
		}
	}
}

// Error prints a failure line
func (p *Printer) Error(err error) {
	fmt.Fprintln(p.w, p.styles.Error.Render("✗ "+err.Error()))
}

func (p *Printer) label(name models.ChannelName, ch *models.AnalysisChannel) string {
	style := p.styles.Rule
	if name == models.ChannelLLM {
		style = p.styles.LLM
	}
	return style.Render(strings.TrimSpace(ch.Icon + " " + ch.Title))
}

func (p *Printer) fixes(label string, ch *models.AnalysisChannel) {
	if len(ch.FixSteps) == 0 && ch.SuggestedPatch == nil {
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", label, p.styles.Fix.Render("fix:"))
	for i, step := range ch.FixSteps {
		fmt.Fprintf(p.w, "  %s %s\n", p.styles.Fix.Render(fmt.Sprintf("%d.", i+1)), step)
	}
	if ch.SuggestedPatch != nil && *ch.SuggestedPatch != "" {
		fmt.Fprintf(p.w, "  %s %s\n", p.styles.Dim.Render("patch:"), p.styles.Patch.Render(*ch.SuggestedPatch))
	}
}

// HighlightedLines merges the highlighted lines of both channels in order
func HighlightedLines(result *models.AnalysisResult) []int {
	seen := make(map[int]bool)
	var lines []int
	for _, ch := range []models.AnalysisChannel{result.Rule, result.LLM} {
		for _, n := range ch.HighlightLines {
			if !seen[n] {
				seen[n] = true
				lines = append(lines, n)
			}
		}
	}
	return lines
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
