package tribute

import (
	"strings"
	"time"

	"github.com/user/memorial/internal/types"
)

// Kind selects the card layout.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindStory Kind = "story"
)

// Card is a tribute prepared for display.
type Card struct {
	ID           types.TributeID `json:"id"`
	Kind         Kind            `json:"type"`
	AuthorName   string          `json:"authorName"`
	Organization string          `json:"organization"`
	Date         string          `json:"date"`
	Content      string          `json:"content,omitempty"`
	Image        string          `json:"image,omitempty"`
	Caption      string          `json:"caption,omitempty"`
	AspectRatio  string          `json:"aspectRatio"`
}

// vietnam is fixed at UTC+7; the country observes no daylight saving.
var vietnam = time.FixedZone("ICT", 7*60*60)

func KindOf(t types.Tribute) Kind {
	hasImage := t.ImageURL != nil && *t.ImageURL != ""
	hasContent := t.Contents != nil && strings.TrimSpace(*t.Contents) != ""
	switch {
	case hasImage && hasContent:
		return KindStory
	case hasImage:
		return KindImage
	default:
		return KindText
	}
}

func NewCard(t types.Tribute) Card {
	c := Card{
		ID:          t.ID,
		Kind:        KindOf(t),
		AuthorName:  t.Name,
		Caption:     t.Name,
		Date:        VietnamDate(t.CreatedAt),
		AspectRatio: "square",
	}
	if c.AuthorName == "" {
		c.AuthorName = DefaultName
	}
	if t.Position != nil {
		c.Organization = *t.Position
	}
	if t.Contents != nil {
		c.Content = *t.Contents
	}
	if t.ImageURL != nil {
		c.Image = *t.ImageURL
	}
	return c
}

func Cards(ts []types.Tribute) []Card {
	out := make([]Card, len(ts))
	for i, t := range ts {
		out[i] = NewCard(t)
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts the stored timestamp forms. Values without a zone
// are UTC.
func parseTimestamp(ts string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// VietnamDate formats a stored UTC timestamp as YYYY-MM-DD in Vietnam
// time. Unparseable input is returned unchanged.
func VietnamDate(ts string) string {
	t, ok := parseTimestamp(ts)
	if !ok {
		return ts
	}
	return t.In(vietnam).Format("2006-01-02")
}

// VietnamDateTime is VietnamDate with hours and minutes.
func VietnamDateTime(ts string) string {
	t, ok := parseTimestamp(ts)
	if !ok {
		return ts
	}
	return t.In(vietnam).Format("2006-01-02 15:04")
}
