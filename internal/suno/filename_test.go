package suno

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeTitle(t *testing.T) {
	tests := map[string]string{
		"Deep Flow":           "Deep Flow",
		`a/b\c:d*e?f"g<h>i|j`: "a_b_c_d_e_f_g_h_i_j",
		"  padded  ":          "padded",
		"ｆｕｌｌｗｉｄｔｈ":           "fullwidth",
		"..":                  "",
		"tab\tname":           "tabname",
	}
	for in, want := range tests {
		if got := SanitizeTitle(in); got != want {
			t.Errorf("SanitizeTitle(%q) = %q, want %q", in, got, want)
		}
	}

	long := strings.Repeat("é", 200)
	if got := SanitizeTitle(long); utf8.RuneCountInString(got) != maxTitleRunes {
		t.Errorf("expected %d runes, got %d", maxTitleRunes, utf8.RuneCountInString(got))
	}
}

func TestTrackFilename(t *testing.T) {
	if got := TrackFilename("Night Drive", "abc-123"); got != "Night Drive_abc-123.wav" {
		t.Errorf("TrackFilename() = %q", got)
	}

	if got := TrackFilename("a/b", "id"); got != "a_b_id.wav" {
		t.Errorf("TrackFilename() = %q", got)
	}

	got := TrackFilename("", "id")
	stem := strings.TrimSuffix(got, "_id.wav")
	words := strings.Fields(stem)
	if len(words) != 2 {
		t.Fatalf("fallback title %q should be two words", stem)
	}
	if !contains(titleAdjectives, words[0]) || !contains(titleNouns, words[1]) {
		t.Errorf("fallback title %q not drawn from the word lists", stem)
	}
}

func TestDeriveWAVURL(t *testing.T) {
	tests := map[string]string{
		"":                                "",
		"https://cdn1.suno.ai/abc.mp3":    "https://cdn1.suno.ai/abc.wav",
		"https://cdn1.suno.ai/abc":        "https://cdn1.suno.ai/abc?format=wav",
		"https://cdn1.suno.ai/abc?sig=xy": "https://cdn1.suno.ai/abc?sig=xy&format=wav",
	}
	for in, want := range tests {
		if got := DeriveWAVURL(in); got != want {
			t.Errorf("DeriveWAVURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
