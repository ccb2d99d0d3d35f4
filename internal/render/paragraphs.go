// Package render lays out normalized messages and cited sources for the
// text surfaces: the terminal chat and the Telegram bridge.
package render

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/user/memorial/internal/types"
)

// Span is a run of text with uniform emphasis.
type Span struct {
	Text string
	Bold bool
}

// Paragraph is one rendered block. Lines keep the single line breaks of
// the source text. Citation is set on the last paragraph of a cited segment.
type Paragraph struct {
	Lines    [][]Span
	Citation *types.Citation
}

var boldPattern = regexp.MustCompile(`\*\*.*?\*\*|__.*?__`)

// Spans splits text into plain and bold runs. Both **x** and __x__ mark bold.
func Spans(text string) []Span {
	var spans []Span
	last := 0
	for _, loc := range boldPattern.FindAllStringIndex(text, -1) {
		if loc[0] > last {
			spans = append(spans, Span{Text: text[last:loc[0]]})
		}
		inner := text[loc[0]+2 : loc[1]-2]
		spans = append(spans, Span{Text: inner, Bold: true})
		last = loc[1]
	}
	if last < len(text) {
		spans = append(spans, Span{Text: text[last:]})
	}
	return spans
}

// Paragraphs lays out a message. Questions render as one inline paragraph;
// answers split every segment on blank lines.
func Paragraphs(msg types.Message) []Paragraph {
	segments := segmentsOf(msg.Content)
	if msg.Type == types.MessageHuman {
		var text strings.Builder
		for _, s := range segments {
			text.WriteString(s.Text)
		}
		inline := strings.ReplaceAll(text.String(), "\n", " ")
		return []Paragraph{{Lines: [][]Span{Spans(inline)}}}
	}

	var out []Paragraph
	for _, seg := range segments {
		var cit *types.Citation
		if seg.CitationID != nil && msg.Content.Structured != nil {
			if c, ok := msg.Content.Structured.Citation(*seg.CitationID); ok {
				cit = &c
			}
		}
		var texts []string
		for _, p := range strings.Split(seg.Text, "\n\n") {
			if strings.TrimSpace(p) != "" {
				texts = append(texts, strings.TrimSpace(p))
			}
		}
		for i, p := range texts {
			para := Paragraph{}
			for _, line := range strings.Split(p, "\n") {
				para.Lines = append(para.Lines, Spans(line))
			}
			if i == len(texts)-1 {
				para.Citation = cit
			}
			out = append(out, para)
		}
	}
	return out
}

func segmentsOf(c types.MessageContent) []types.Segment {
	switch {
	case c.Structured != nil:
		return c.Structured.Segments
	case len(c.Raw) > 0:
		return []types.Segment{{Text: string(c.Raw)}}
	default:
		return []types.Segment{{Text: c.Text}}
	}
}

// MarkerLabel is the label of a citation marker: the chunk index, 1-based.
func MarkerLabel(c types.Citation) string {
	n := 0
	if c.ChunkIndex != nil {
		n = *c.ChunkIndex
	}
	return strconv.Itoa(n + 1)
}

// Citations returns the citations of msg in the order their markers appear.
func Citations(msg types.Message) []types.Citation {
	var out []types.Citation
	for _, p := range Paragraphs(msg) {
		if p.Citation != nil {
			out = append(out, *p.Citation)
		}
	}
	return out
}

// FindByLabel returns the first citation of msg whose marker reads label.
func FindByLabel(msg types.Message, label string) (types.Citation, bool) {
	for _, c := range Citations(msg) {
		if MarkerLabel(c) == label {
			return c, true
		}
	}
	return types.Citation{}, false
}

// LastAnswer returns the newest AI message of msgs.
func LastAnswer(msgs []types.NormalizedMessage) (types.NormalizedMessage, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].IsUser() {
			return msgs[i], true
		}
	}
	return types.NormalizedMessage{}, false
}
