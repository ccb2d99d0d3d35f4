// internal/render/terminal.go
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/user/memorial/internal/citation"
	"github.com/user/memorial/internal/types"
)

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("#234776")).
			Padding(0, 1)

	pendingStyle = userStyle.
			Faint(true).
			Italic(true)

	boldStyle   = lipgloss.NewStyle().Bold(true)
	markerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9333ea")).
			Bold(true)

	typingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#234776"))

	lineNumberStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Width(5).
			Align(lipgloss.Right)

	highlightStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#eadef9")).
			Foreground(lipgloss.Color("0")).
			Border(lipgloss.ThickBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("#9333ea"))

	calloutStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#a855f7")).
			Foreground(lipgloss.Color("#6b21a8")).
			Padding(0, 1)

	guideStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#234776")).
			Padding(0, 1)
)

// Terminal renders for a terminal of a fixed width.
type Terminal struct {
	width int
}

func NewTerminal(width int) *Terminal {
	if width <= 20 {
		width = 80
	}
	return &Terminal{width: width}
}

// Message renders one message: questions as a right-aligned bubble,
// answers as wrapped paragraphs with citation markers.
func (t *Terminal) Message(m types.NormalizedMessage) string {
	if m.IsUser() {
		return t.bubble(userStyle, plainParagraphs(Paragraphs(m.Message)))
	}

	var blocks []string
	for _, p := range Paragraphs(m.Message) {
		var lines []string
		for _, line := range p.Lines {
			lines = append(lines, styledSpans(line))
		}
		text := strings.Join(lines, "\n")
		if p.Citation != nil {
			text += " " + markerStyle.Render("["+MarkerLabel(*p.Citation)+"]")
		}
		blocks = append(blocks, lipgloss.NewStyle().Width(t.width-2).Render(text))
	}
	return strings.Join(blocks, "\n\n")
}

// Pending renders the optimistic echo of a question in flight.
func (t *Terminal) Pending(text string) string {
	return t.bubble(pendingStyle, text)
}

func (t *Terminal) Typing() string {
	return typingStyle.Render("…")
}

func (t *Terminal) Error(err error) string {
	return errorStyle.Render("! " + err.Error())
}

func (t *Terminal) bubble(style lipgloss.Style, text string) string {
	maxWidth := t.width * 3 / 4
	if lipgloss.Width(text) > maxWidth-2 {
		style = style.Width(maxWidth)
	}
	return lipgloss.PlaceHorizontal(t.width, lipgloss.Right, style.Render(text))
}

// Source renders a citation view showing at most height content lines.
func (t *Terminal) Source(v *citation.View, height int) string {
	var parts []string
	parts = append(parts, titleStyle.Render(fmt.Sprintf("%s (%s)", v.Title, v.Type)))

	if v.Guide != nil && v.GuideOpen {
		guide := "Summary: " + v.Guide.Summary
		if v.Guide.URL != "" {
			guide += "\nURL: " + v.Guide.URL
		}
		parts = append(parts, guideStyle.Width(t.width-2).Render(guide))
	}
	if v.OutOfRange {
		parts = append(parts, calloutStyle.Width(t.width-4).Render(v.Callout+"\n"+v.RangeNote))
	}

	var lines []string
	for _, l := range citation.Window(v, height) {
		num := lineNumberStyle.Render(fmt.Sprint(l.Number))
		if l.Highlighted {
			lines = append(lines, num+" "+highlightStyle.Render(l.Text))
		} else {
			lines = append(lines, num+"  "+l.Text)
		}
	}
	parts = append(parts, strings.Join(lines, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func styledSpans(spans []Span) string {
	var b strings.Builder
	for _, s := range spans {
		if s.Bold {
			b.WriteString(boldStyle.Render(s.Text))
		} else {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

func plainParagraphs(paras []Paragraph) string {
	var out []string
	for _, p := range paras {
		var lines []string
		for _, line := range p.Lines {
			var b strings.Builder
			for _, s := range line {
				b.WriteString(s.Text)
			}
			lines = append(lines, b.String())
		}
		out = append(out, strings.Join(lines, "\n"))
	}
	return strings.Join(out, "\n\n")
}
