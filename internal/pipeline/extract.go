package pipeline

import (
	"bytes"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
	pdf "github.com/ledongthuc/pdf"

	"jobtrack/internal/util"
)

const snippetMaxRunes = 200

var (
	companyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)your application to ([\w.\-&' ]+?)(?:\s+for\s+|\s*[-–:|!,.]|$)`),
		regexp.MustCompile(`(?i)application received (?:at|from) ([\w.\-&' ]+?)(?:\s+for\s+|\s*[-–:|!,.]|$)`),
		regexp.MustCompile(`(?i)thanks? (?:you )?for applying (?:to|at) ([\w.\-&' ]+?)(?:\s+for\s+|\s*[-–:|!,.]|$)`),
		regexp.MustCompile(`(?i)\bat\s+([\w&.\-' ]+?)(?:\s*[-–:|!,.]|$)`),
	}
	titlePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bposition of (?:the )?([\w .\-/&']+?)(?:\s+(?:at|with)\b|\s*[-–:|!,]|$)`),
		regexp.MustCompile(`(?i)\bapplication (?:for|to) (?:the )?([\w .\-/&']+?)\s+(?:at|with)\b`),
		regexp.MustCompile(`(?i)\bapplication to .+? for (?:the )?([\w .\-/&']+?)(?:\s+(?:at|with)\b|\s*[-–:|!,]|$)`),
		regexp.MustCompile(`[“"]([^”"]+)[”"]`),
		regexp.MustCompile(`(?i)^(?:(?:re|fwd?):\s*)*([\w .\-/&']+?)\s+at\s+\S`),
	}
	genericMailDomains = map[string]struct{}{
		"gmail": {}, "googlemail": {}, "outlook": {}, "hotmail": {}, "yahoo": {}, "icloud": {},
	}
)

// ExtractCompany guesses the employer from the subject line, falling back to
// the first label of the sender domain.
func ExtractCompany(subject, from string) string {
	s := strings.TrimSpace(subject)
	for _, re := range companyPatterns {
		if m := re.FindStringSubmatch(s); len(m) > 1 {
			if company := strings.TrimSpace(m[1]); company != "" {
				return company
			}
		}
	}
	return companyFromSender(from)
}

func companyFromSender(from string) string {
	i := strings.LastIndex(from, "@")
	if i == -1 {
		return ""
	}
	domain := strings.ToLower(strings.TrimSpace(from[i+1:]))
	if j := strings.IndexAny(domain, "> "); j != -1 {
		domain = domain[:j]
	}
	for _, ats := range ATSDomains {
		if domain == ats || strings.HasSuffix(domain, "."+ats) {
			return ""
		}
	}
	for _, prefix := range []string{"mail.", "email.", "jobs.", "careers.", "hr."} {
		domain = strings.TrimPrefix(domain, prefix)
	}
	k := strings.Index(domain, ".")
	if k <= 0 {
		return ""
	}
	label := domain[:k]
	if _, generic := genericMailDomains[label]; generic {
		return ""
	}
	return util.Title(label)
}

func ExtractTitle(subject string) string {
	s := strings.TrimSpace(subject)
	for _, re := range titlePatterns {
		if m := re.FindStringSubmatch(s); len(m) > 1 {
			if title := strings.TrimSpace(m[1]); title != "" {
				return title
			}
		}
	}
	return ""
}

type ParsedMessage struct {
	MessageID   string
	Subject     string
	From        string
	Date        time.Time
	Text        string
	Attachments []string
}

// Snippet is the preview text shown during review.
func (m ParsedMessage) Snippet() string {
	return util.Truncate(util.NormalizeSpaces(m.Text), snippetMaxRunes)
}

// ParseRawMessage reads an RFC 5322 message. The body text falls back to the
// HTML part and then to the first readable PDF attachment.
func ParseRawMessage(raw []byte) (ParsedMessage, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return ParsedMessage{}, err
	}

	msg := ParsedMessage{
		MessageID: strings.Trim(strings.TrimSpace(env.GetHeader("Message-ID")), "<>"),
		Subject:   env.GetHeader("Subject"),
		From:      env.GetHeader("From"),
		Text:      env.Text,
	}
	if t, ok := util.ParseDateLoose(env.GetHeader("Date")); ok {
		msg.Date = t
	}
	if strings.TrimSpace(msg.Text) == "" && env.HTML != "" {
		msg.Text = htmlToText(env.HTML)
	}

	for _, att := range env.Attachments {
		name := strings.TrimSpace(att.FileName)
		if name == "" {
			name = "attachment"
		}
		msg.Attachments = append(msg.Attachments, name)
		if strings.TrimSpace(msg.Text) == "" && strings.HasSuffix(strings.ToLower(name), ".pdf") {
			if text, err := pdfText(att.Content); err == nil {
				msg.Text = text
			}
		}
	}

	return msg, nil
}

func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script,style,head").Remove()
	return util.NormalizeSpaces(doc.Text())
}

func pdfText(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString(" ")
		if b.Len() > 4*snippetMaxRunes {
			break
		}
	}
	return util.NormalizeSpaces(b.String()), nil
}
