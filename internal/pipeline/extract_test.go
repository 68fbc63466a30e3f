package pipeline

import (
	"strings"
	"testing"
)

func TestExtractCompanyAndTitle(t *testing.T) {
	cases := []struct {
		subject, from  string
		company, title string
	}{
		{"Your application to Globex for Backend Engineer", "no-reply@greenhouse.io", "Globex", "Backend Engineer"},
		{"Thank you for applying to Acme Corp!", "Acme <talent@acme.com>", "Acme Corp", ""},
		{"Thanks for applying for the position of Data Analyst at Umbrella", "hr@umbrella.com", "Umbrella", "Data Analyst"},
		{"Update on your candidacy", "Jobs <careers@mail.hooli.com>", "Hooli", ""},
		{"Hello", "friend@gmail.com", "", ""},
	}
	for _, tc := range cases {
		if got := ExtractCompany(tc.subject, tc.from); got != tc.company {
			t.Fatalf("ExtractCompany(%q)=%q want %q", tc.subject, got, tc.company)
		}
		if got := ExtractTitle(tc.subject); got != tc.title {
			t.Fatalf("ExtractTitle(%q)=%q want %q", tc.subject, got, tc.title)
		}
	}
}

func TestParseRawMessageHTMLOnly(t *testing.T) {
	raw := strings.Join([]string{
		"From: Globex Careers <no-reply@greenhouse.io>",
		"To: me@example.com",
		"Subject: Your application to Globex for Backend Engineer",
		"Date: Tue, 5 Mar 2024 10:11:12 +0000",
		"Message-ID: <abc123@greenhouse.io>",
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<html><body><p>Thanks for applying to Globex.</p><p>We will be in touch.</p></body></html>",
		"",
	}, "\r\n")

	msg, err := ParseRawMessage([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if msg.MessageID != "abc123@greenhouse.io" {
		t.Fatalf("MessageID=%q", msg.MessageID)
	}
	if msg.Subject != "Your application to Globex for Backend Engineer" {
		t.Fatalf("Subject=%q", msg.Subject)
	}
	if msg.Date.IsZero() || msg.Date.UTC().Day() != 5 {
		t.Fatalf("Date=%v", msg.Date)
	}
	if !strings.Contains(msg.Snippet(), "Thanks for applying to Globex") {
		t.Fatalf("Snippet=%q", msg.Snippet())
	}
}

func TestHTMLToTextDropsScripts(t *testing.T) {
	got := htmlToText(`<html><head><title>x</title><style>p{color:red}</style></head><body><p>Interview   invitation</p><script>track()</script></body></html>`)
	if got != "Interview invitation" {
		t.Fatalf("got %q", got)
	}
}

func TestSnippetTruncates(t *testing.T) {
	msg := ParsedMessage{Text: strings.Repeat("a", 250)}
	if got := msg.Snippet(); len([]rune(got)) != snippetMaxRunes+3 {
		t.Fatalf("len=%d", len([]rune(got)))
	}
}
