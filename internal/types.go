package internal

import (
	"strings"
	"time"
)

type Status string

const (
	StatusWishlist     Status = "wishlist"
	StatusApplied      Status = "applied"
	StatusInterviewing Status = "interviewing"
	StatusOffer        Status = "offer"
	StatusRejected     Status = "rejected"
	StatusWithdrawn    Status = "withdrawn"
)

// StatusAll is the filter value that disables status filtering.
const StatusAll = "all"

var AllStatuses = []Status{
	StatusWishlist,
	StatusApplied,
	StatusInterviewing,
	StatusOffer,
	StatusRejected,
	StatusWithdrawn,
}

func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStatus accepts any casing of a known status.
func ParseStatus(value string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	if !s.Valid() {
		return "", false
	}
	return s, true
}

// RawScanEvent is one provider record as returned by a mailbox scan. Key
// naming differs between providers; pipeline.NormalizeEvent reconciles it.
type RawScanEvent map[string]any

type JobEvent struct {
	MessageID   string    `json:"messageId"`
	Company     string    `json:"company"`
	Title       string    `json:"title"`
	Status      Status    `json:"status"`
	AppliedDate time.Time `json:"appliedDate"`
	Subject     string    `json:"subject"`
	Snippet     string    `json:"snippet"`
	Link        string    `json:"link,omitempty"`
}

// Raw renders the event with canonical key names.
func (e JobEvent) Raw() RawScanEvent {
	raw := RawScanEvent{
		"messageId": e.MessageID,
		"company":   e.Company,
		"title":     e.Title,
		"status":    string(e.Status),
		"subject":   e.Subject,
		"snippet":   e.Snippet,
		"link":      e.Link,
	}
	if !e.AppliedDate.IsZero() {
		raw["appliedDate"] = e.AppliedDate.Format(DateLayout)
	}
	return raw
}

const DateLayout = "2006-01-02"

type StagingRow struct {
	JobEvent
	Selected bool `json:"selected"`
	Expanded bool `json:"expanded"`
}

type Application struct {
	ID             int64      `json:"id"`
	Company        string     `json:"company"`
	Position       string     `json:"position"`
	Location       string     `json:"location,omitempty"`
	Status         Status     `json:"status"`
	URL            string     `json:"url,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	AppliedDate    *time.Time `json:"applied_date,omitempty"`
	GmailMessageID string     `json:"gmail_message_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type ListFilter struct {
	Status  string
	Company string
	Search  string
	Limit   int
}

type ListResult struct {
	Items  []Application
	Counts map[Status]int
}

type ImportRequest struct {
	Company        string     `json:"company"`
	Position       string     `json:"position"`
	Status         Status     `json:"status"`
	AppliedDate    *time.Time `json:"applied_date,omitempty"`
	URL            string     `json:"url,omitempty"`
	Notes          string     `json:"notes"`
	Location       string     `json:"location"`
	GmailMessageID string     `json:"gmail_message_id,omitempty"`
}

// StoredApplication is the store's answer to a create call. Duplicate is set
// when a record with the same gmail message id already existed.
type StoredApplication struct {
	Application
	Duplicate bool `json:"duplicate,omitempty"`
}

type CommitFailure struct {
	GmailMessageID string `json:"gmail_message_id"`
	Company        string `json:"company"`
	Position       string `json:"position"`
	Error          string `json:"error"`
}

type CommitResult struct {
	Attempted  int             `json:"attempted"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Duplicates int             `json:"duplicates"`
	Failures   []CommitFailure `json:"failures,omitempty"`
}

type ScanQuery struct {
	Since      time.Time
	Until      time.Time
	MaxResults int
}

type ConnectionStatus struct {
	Connected    bool   `json:"connected"`
	AccountLabel string `json:"accountLabel,omitempty"`
}
