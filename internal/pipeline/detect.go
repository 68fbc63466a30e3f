package pipeline

import (
	"strings"

	"jobtrack/internal"
	"jobtrack/internal/util"
)

// RejectionPhrases are matched as lower-case substrings of subject and snippet.
var RejectionPhrases = []string{
	"not moving forward",
	"unfortunately",
	"decided to move forward with other",
	"no longer being considered",
	"not selected",
	"pursue other candidates",
	"we regret",
}

func IsRejection(subject, snippet string) bool {
	if _, ok := util.FirstMatch(strings.ToLower(subject), RejectionPhrases); ok {
		return true
	}
	_, ok := util.FirstMatch(strings.ToLower(snippet), RejectionPhrases)
	return ok
}

// ClassifyRejection overrides the status with rejected when the text reads
// like a rejection. It reports whether the event was changed to rejected.
func ClassifyRejection(ev *internal.JobEvent) bool {
	if !IsRejection(ev.Subject, ev.Snippet) {
		return false
	}
	ev.Status = internal.StatusRejected
	return true
}

// ClassifyRejections runs ClassifyRejection over events in place and returns
// how many matched.
func ClassifyRejections(events []internal.JobEvent) int {
	n := 0
	for i := range events {
		if ClassifyRejection(&events[i]) {
			n++
		}
	}
	return n
}

type DetectResult struct {
	IsJob  bool
	Score  float64
	Reason string
}

var (
	applicationKeywords = []string{
		"application received",
		"thanks for applying",
		"thank you for applying",
		"we received your application",
		"your application to",
		"applied for",
		"interview",
		"offer letter",
		"position",
		"candidacy",
		"recruit",
	}

	// ATSDomains are sender domains of applicant tracking systems.
	ATSDomains = []string{
		"greenhouse.io",
		"lever.co",
		"workday.com",
		"myworkday.com",
		"smartrecruiters.com",
		"ashbyhq.com",
		"workable.com",
		"indeed.com",
		"linkedin.com",
	}
)

// DetectJobEmail scores a message for providers that cannot filter
// server side. Sender domain, subject and body keywords all contribute.
func DetectJobEmail(subject, from, text string) DetectResult {
	subject = strings.ToLower(subject)
	from = strings.ToLower(from)
	text = strings.ToLower(text)

	score := 0.0
	for _, kw := range applicationKeywords {
		if strings.Contains(subject, kw) {
			score += 0.35
		}
		if strings.Contains(text, kw) {
			score += 0.1
		}
	}
	for _, domain := range ATSDomains {
		if strings.Contains(from, domain) {
			score += 0.5
			break
		}
	}
	if IsRejection(subject, text) {
		score += 0.3
	}
	if score > 1 {
		score = 1
	}

	isJob := score >= 0.45
	reason := "rules_negative"
	if isJob {
		reason = "rules_positive"
	}

	return DetectResult{IsJob: isJob, Score: score, Reason: reason}
}
