package util

import "testing"

func TestTextHelpers(t *testing.T) {
	if got := NormalizeSpaces("  Senior \n Engineer\t II "); got != "Senior Engineer II" {
		t.Fatalf("NormalizeSpaces=%q", got)
	}
	if !ContainsFold("We REGRET to inform you", "we regret") {
		t.Fatal("ContainsFold missed")
	}
	if p, ok := FirstMatch("sadly we are not moving forward", []string{"unfortunately", "not moving forward"}); !ok || p != "not moving forward" {
		t.Fatalf("FirstMatch=%q %v", p, ok)
	}
	if got := FirstNonEmpty("", "  ", "b", "c"); got != "b" {
		t.Fatalf("FirstNonEmpty=%q", got)
	}
	if got := Title("greenhouse"); got != "Greenhouse" {
		t.Fatalf("Title=%q", got)
	}
	if got := Truncate("abcdef", 3); got != "abc..." {
		t.Fatalf("Truncate=%q", got)
	}
}
