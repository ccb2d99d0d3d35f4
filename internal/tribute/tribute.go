// Package tribute holds the guestbook rules shared by the HTTP API and the
// CLI: input normalization, paging and card presentation.
package tribute

import (
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/memorial/internal/types"
)

const (
	DefaultName  = "Tưởng nhớ"
	DefaultLimit = 50
	MaxLimit     = 200
)

// ErrContentRequired rejects tributes carrying neither text nor an image.
var ErrContentRequired = errors.New("Nội dung hoặc ảnh là bắt buộc")

var tagPattern = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9]*(\s[^<>]*)?/?>`)

// Validate normalizes an incoming tribute into the row to insert.
func Validate(in types.NewTribute) (*types.Tribute, error) {
	contents := normalizeContents(in.Contents)
	image := strings.TrimSpace(in.ImageURL)
	if contents == "" && image == "" {
		return nil, ErrContentRequired
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = DefaultName
	}
	return &types.Tribute{
		Name:     name,
		Position: optional(strings.TrimSpace(in.Position)),
		Contents: optional(contents),
		ImageURL: optional(image),
	}, nil
}

// normalizeContents trims the text and converts rich-text editor HTML to
// markdown so every surface stores the same plain form.
func normalizeContents(s string) string {
	s = strings.TrimSpace(s)
	if !tagPattern.MatchString(s) {
		return s
	}
	md, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		slog.Debug("tribute contents kept as html", "error", err)
		return s
	}
	return strings.TrimSpace(md)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Page parses limit and offset query values. Missing or invalid values fall
// back to DefaultLimit and 0; limit is capped at MaxLimit.
func Page(limit, offset string) (int, int) {
	l, err := strconv.Atoi(strings.TrimSpace(limit))
	if err != nil || l <= 0 {
		l = DefaultLimit
	}
	if l > MaxLimit {
		l = MaxLimit
	}
	o, err := strconv.Atoi(strings.TrimSpace(offset))
	if err != nil || o < 0 {
		o = 0
	}
	return l, o
}

// Pagination describes one page of a listing of total rows.
func Pagination(total, limit, offset int) types.Pagination {
	return types.Pagination{
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: total > offset+limit,
	}
}
