package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFlatten(t *testing.T) {
	in := map[string]any{
		"log_level": "info",
		"backend": map[string]any{
			"driver":   "supabase",
			"supabase": map[string]any{"url": "https://x"},
		},
		"chat":  map[string]any{"refetch_delays": []any{"2s", "5s"}},
		"empty": map[string]any{},
	}
	want := map[string]any{
		"log_level":            "info",
		"backend.driver":       "supabase",
		"backend.supabase.url": "https://x",
		"chat.refetch_delays":  []any{"2s", "5s"},
	}
	if diff := cmp.Diff(want, Flatten(in)); diff != "" {
		t.Errorf("Flatten mismatch (-want +got):\n%s", diff)
	}
}

func TestUnflatten(t *testing.T) {
	flat := map[string]any{
		"log_level":            "debug",
		"backend.driver":       "sqlite",
		"backend.supabase.url": "https://x",
	}
	want := map[string]any{
		"log_level": "debug",
		"backend": map[string]any{
			"driver":   "sqlite",
			"supabase": map[string]any{"url": "https://x"},
		},
	}
	if diff := cmp.Diff(want, Unflatten(flat)); diff != "" {
		t.Errorf("Unflatten mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTrip(t *testing.T) {
	m, err := ToMap(Default())
	if err != nil {
		t.Fatalf("ToMap: %v", err)
	}
	if diff := cmp.Diff(m, Unflatten(Flatten(m))); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMaskSecrets(t *testing.T) {
	in := map[string]any{
		"telegram.token":               "123456:ABCDEF",
		"backend.supabase.anon_key":    "abc",
		"backend.supabase.service_key": "",
		"http.ingest_key":              "wxyz",
		"backend.supabase.url":         "https://x",
	}
	want := map[string]any{
		"telegram.token":               "***CDEF",
		"backend.supabase.anon_key":    "***abc",
		"backend.supabase.service_key": "",
		"http.ingest_key":              "***wxyz",
		"backend.supabase.url":         "https://x",
	}
	if diff := cmp.Diff(want, MaskSecrets(in)); diff != "" {
		t.Errorf("MaskSecrets mismatch (-want +got):\n%s", diff)
	}
	if !IsSecretKey("http.ingest_key") || IsSecretKey("http.listen") {
		t.Error("IsSecretKey misclassified keys")
	}
}
