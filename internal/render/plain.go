// internal/render/plain.go
package render

import (
	"fmt"
	"strings"

	"github.com/user/memorial/internal/citation"
	"github.com/user/memorial/internal/types"
)

// Plain renders an answer as unformatted text followed by a footnote list
// of its citations.
func Plain(msg types.Message) string {
	var b strings.Builder
	paras := Paragraphs(msg)
	for i, p := range paras {
		if i > 0 {
			b.WriteString("\n\n")
		}
		for j, line := range p.Lines {
			if j > 0 {
				b.WriteString("\n")
			}
			for _, s := range line {
				b.WriteString(s.Text)
			}
		}
		if p.Citation != nil {
			fmt.Fprintf(&b, " [%s]", MarkerLabel(*p.Citation))
		}
	}

	cits := Citations(msg)
	if len(cits) == 0 {
		return b.String()
	}
	b.WriteString("\n\nSources:")
	for _, c := range cits {
		fmt.Fprintf(&b, "\n[%s] %s", MarkerLabel(c), Footnote(c))
	}
	return b.String()
}

// Footnote describes a citation in one line.
func Footnote(c types.Citation) string {
	var parts []string
	parts = append(parts, c.SourceTitle)
	if c.ChunkLinesFrom != nil && c.ChunkLinesTo != nil {
		parts = append(parts, fmt.Sprintf("lines %d-%d", *c.ChunkLinesFrom, *c.ChunkLinesTo))
	}
	s := strings.Join(parts, ", ")
	if c.Excerpt != "" && !strings.HasPrefix(c.Excerpt, "Lines ") {
		s += ": " + Truncate(c.Excerpt, 160)
	}
	return s
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// PlainSource renders a citation view as text, marking highlighted lines
// with "> ". At most height lines are shown.
func PlainSource(v *citation.View, height int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", v.Title, v.Type)
	if v.Guide != nil && v.GuideOpen {
		b.WriteString("\nSummary: " + v.Guide.Summary)
		if v.Guide.URL != "" {
			b.WriteString("\nURL: " + v.Guide.URL)
		}
	}
	if v.OutOfRange {
		b.WriteString("\n\n" + v.Callout + "\n" + v.RangeNote)
	}
	b.WriteString("\n")
	for _, l := range citation.Window(v, height) {
		marker := "  "
		if l.Highlighted {
			marker = "> "
		}
		fmt.Fprintf(&b, "\n%s%d  %s", marker, l.Number, l.Text)
	}
	return b.String()
}
