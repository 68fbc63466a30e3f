package util

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var reSpaces = regexp.MustCompile(`\s+`)

func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}

// ContainsFold reports whether needle occurs in haystack ignoring case.
func ContainsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// FirstMatch returns the first phrase contained in the already lower-cased text.
func FirstMatch(lowerText string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if strings.Contains(lowerText, p) {
			return p, true
		}
	}
	return "", false
}

func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func Title(input string) string {
	// A Caser keeps state between calls, so build one per call.
	return cases.Title(language.AmericanEnglish).String(strings.ToLower(strings.TrimSpace(input)))
}

// Truncate cuts input to at most maxRunes runes, appending "..." when cut.
func Truncate(input string, maxRunes int) string {
	r := []rune(input)
	if maxRunes <= 0 || len(r) <= maxRunes {
		return input
	}
	return string(r[:maxRunes]) + "..."
}

func StringPtr(v string) *string { return &v }
