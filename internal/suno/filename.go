package suno

import (
	"math/rand/v2"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const maxTitleRunes = 120

var (
	titleAdjectives = []string{
		"Liquid", "Deep", "Velvet", "Cosmic", "Astral", "Crystal",
		"Neon", "Ethereal", "Midnight", "Solar", "Lunar", "Silent",
	}
	titleNouns = []string{
		"Flow", "Ether", "Pulse", "Drift", "Wave", "Haze",
		"Echo", "Vapor", "Horizon", "Current", "Storm", "Rain",
	}

	unsafeChars = strings.NewReplacer(
		`\`, "_", "/", "_", ":", "_", "*", "_", "?", "_",
		`"`, "_", "<", "_", ">", "_", "|", "_",
	)
)

// FallbackTitle returns a random "<adjective> <noun>" title.
func FallbackTitle() string {
	return titleAdjectives[rand.IntN(len(titleAdjectives))] + " " + titleNouns[rand.IntN(len(titleNouns))]
}

// SanitizeTitle makes a title safe to use as a file name stem.
func SanitizeTitle(title string) string {
	s := norm.NFKC.String(title)
	s = unsafeChars.Replace(s)
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxTitleRunes {
		s = strings.TrimSpace(string(r[:maxTitleRunes]))
	}
	// A bare dot stem would produce a hidden or relative name.
	if strings.Trim(s, ".") == "" {
		return ""
	}
	return s
}

// TrackFilename returns "<title>_<clip id>.wav", falling back to a generated
// title when the sanitized title is empty.
func TrackFilename(title, clipID string) string {
	stem := SanitizeTitle(title)
	if stem == "" {
		stem = FallbackTitle()
	}
	return stem + "_" + SanitizeTitle(clipID) + ".wav"
}
