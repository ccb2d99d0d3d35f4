// Package citation maps a clicked citation onto the text of its source,
// highlighting the referenced line range when it can be located.
package citation

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/memorial/internal/types"
)

// EmptyState is shown when there is no citation or no source text.
const EmptyState = "Select a citation to view source content"

// OutOfRangeCallout replaces the highlight when the cited lines do not
// exist in the source as currently stored.
const OutOfRangeCallout = "This content is referenced from the original document but cannot be precisely located in the current view."

// ScrollDelay lets the layout settle before scrolling to the highlight.
const ScrollDelay = 300 * time.Millisecond

var ErrNothingToShow = errors.New("nothing to show: no citation or empty source")

type Line struct {
	Number      int    `json:"number"`
	Text        string `json:"text"`
	Highlighted bool   `json:"highlighted,omitempty"`
}

// Guide is the collapsible source summary.
type Guide struct {
	Summary string `json:"summary"`
	URL     string `json:"url,omitempty"`
}

type View struct {
	Title string           `json:"title"`
	Type  types.SourceType `json:"type"`
	Lines []Line           `json:"lines"`

	OutOfRange bool   `json:"out_of_range"`
	Callout    string `json:"callout,omitempty"`
	RangeNote  string `json:"range_note,omitempty"`

	// FocusLine is the first highlighted line, 0 when nothing is highlighted.
	FocusLine int `json:"focus_line"`

	Guide     *Guide `json:"guide,omitempty"`
	GuideOpen bool   `json:"guide_open"`
}

// HasValidLines reports whether c carries a usable line range: both
// bounds present and a positive start.
func HasValidLines(c *types.Citation) bool {
	return c != nil && c.ChunkLinesFrom != nil && c.ChunkLinesTo != nil && *c.ChunkLinesFrom > 0
}

// SplitLines splits content on any line break convention.
func SplitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	return strings.Split(content, "\n")
}

// Open builds the view of src for citation c.
func Open(c *types.Citation, src *types.Source) (*View, error) {
	if c == nil || src == nil || src.Content == nil || *src.Content == "" {
		return nil, ErrNothingToShow
	}

	raw := SplitLines(*src.Content)
	v := &View{
		Title: c.SourceTitle,
		Type:  c.SourceType,
		Lines: make([]Line, len(raw)),
	}

	valid := HasValidLines(c)
	start, end := -1, -1
	if valid {
		from, to := *c.ChunkLinesFrom, *c.ChunkLinesTo
		if from > len(raw) || to > len(raw) {
			slog.Debug("citation lines out of range", "from", from, "to", to, "lines", len(raw))
			v.OutOfRange = true
			v.Callout = OutOfRangeCallout
			v.RangeNote = fmt.Sprintf("The answer referenced lines %d-%d of the original document. You can browse the full source content below.", from, to)
		} else {
			start, end = from, to
		}
	}

	for i, text := range raw {
		n := i + 1
		hl := start > 0 && n >= start && n <= end
		v.Lines[i] = Line{Number: n, Text: text, Highlighted: hl}
		if hl && v.FocusLine == 0 {
			v.FocusLine = n
		}
	}

	if src.Summary != nil && *src.Summary != "" {
		v.Guide = &Guide{Summary: *src.Summary}
		if c.SourceType == types.SourceTypeWebsite && src.URL != nil {
			v.Guide.URL = *src.URL
		}
		v.GuideOpen = !valid
	}
	return v, nil
}

// SourceCitation returns a citation without line data, as used when a
// source is opened from the source list.
func SourceCitation(src types.Source) *types.Citation {
	typ := src.Type
	if typ == "" {
		typ = types.SourceTypePDF
	}
	return &types.Citation{SourceID: src.ID, SourceTitle: src.Title, SourceType: typ}
}

// ScrollTop returns the scroll offset that centers a line of lineHeight at
// offsetTop within a viewport of viewportHeight.
func ScrollTop(offsetTop, lineHeight, viewportHeight float64) float64 {
	top := offsetTop - viewportHeight/2 + lineHeight/2
	if top < 0 {
		return 0
	}
	return top
}

// Window returns at most height lines of v centered on the focus line, or
// from the top when nothing is highlighted.
func Window(v *View, height int) []Line {
	if height <= 0 || len(v.Lines) <= height {
		return v.Lines
	}
	start := 0
	if v.FocusLine > 0 {
		start = v.FocusLine - 1 - height/2
	}
	if start > len(v.Lines)-height {
		start = len(v.Lines) - height
	}
	if start < 0 {
		start = 0
	}
	return v.Lines[start : start+height]
}
