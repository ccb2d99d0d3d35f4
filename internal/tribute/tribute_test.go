package tribute

import (
	"errors"
	"strings"
	"testing"

	"github.com/user/memorial/internal/types"
)

func TestValidateDefaults(t *testing.T) {
	got, err := Validate(types.NewTribute{Name: "  ", Position: "  ", Contents: "  Mãi nhớ thầy.  "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != DefaultName {
		t.Errorf("expected default name, got %q", got.Name)
	}
	if got.Position != nil {
		t.Errorf("expected nil position, got %q", *got.Position)
	}
	if got.Contents == nil || *got.Contents != "Mãi nhớ thầy." {
		t.Errorf("expected trimmed contents, got %v", got.Contents)
	}
	if got.ImageURL != nil {
		t.Errorf("expected nil image, got %q", *got.ImageURL)
	}
}

func TestValidateImageOnly(t *testing.T) {
	got, err := Validate(types.NewTribute{Name: " Lan ", Position: " Lớp 12A ", ImageURL: "https://img.example/1.jpg"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "Lan" || got.Position == nil || *got.Position != "Lớp 12A" {
		t.Errorf("unexpected name/position: %q %v", got.Name, got.Position)
	}
	if got.Contents != nil {
		t.Errorf("expected nil contents, got %q", *got.Contents)
	}
}

func TestValidateRequiresContent(t *testing.T) {
	for _, in := range []types.NewTribute{
		{},
		{Name: "Lan"},
		{Contents: "   ", ImageURL: " "},
	} {
		if _, err := Validate(in); !errors.Is(err, ErrContentRequired) {
			t.Errorf("Validate(%+v) = %v, want ErrContentRequired", in, err)
		}
	}
}

func TestValidateConvertsHTML(t *testing.T) {
	got, err := Validate(types.NewTribute{Contents: "<p>Cảm ơn <strong>thầy</strong></p>"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(*got.Contents, "<p>") {
		t.Errorf("expected html to be converted, got %q", *got.Contents)
	}
	if !strings.Contains(*got.Contents, "**thầy**") {
		t.Errorf("expected bold markdown, got %q", *got.Contents)
	}
}

func TestValidateKeepsPlainAngleBrackets(t *testing.T) {
	got, err := Validate(types.NewTribute{Contents: "1 < 2 and 3 > 2"})
	if err != nil {
		t.Fatal(err)
	}
	if *got.Contents != "1 < 2 and 3 > 2" {
		t.Errorf("plain text altered: %q", *got.Contents)
	}
}

func TestPage(t *testing.T) {
	cases := []struct {
		limit, offset string
		wantL, wantO  int
	}{
		{"", "", 50, 0},
		{"10", "20", 10, 20},
		{"abc", "-5", 50, 0},
		{"0", "3", 50, 3},
		{"1000", "0", MaxLimit, 0},
	}
	for _, tc := range cases {
		l, o := Page(tc.limit, tc.offset)
		if l != tc.wantL || o != tc.wantO {
			t.Errorf("Page(%q, %q) = %d, %d; want %d, %d", tc.limit, tc.offset, l, o, tc.wantL, tc.wantO)
		}
	}
}

func TestPagination(t *testing.T) {
	if p := Pagination(120, 50, 50); !p.HasMore {
		t.Errorf("expected more rows after 100 of 120: %+v", p)
	}
	if p := Pagination(100, 50, 50); p.HasMore {
		t.Errorf("expected no more rows at 100 of 100: %+v", p)
	}
}
