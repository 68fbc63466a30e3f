package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"jobtrack/internal"
	"jobtrack/internal/util"
)

// Candidate keys per canonical field, in priority order.
var (
	messageIDKeys   = []string{"messageId", "MessageID", "MessageId", "message_id"}
	companyKeys     = []string{"company", "Company"}
	titleKeys       = []string{"title", "Title", "position", "Position"}
	statusKeys      = []string{"status", "Status"}
	appliedDateKeys = []string{"appliedDate", "AppliedDate", "applied_date"}
	subjectKeys     = []string{"subject", "Subject"}
	snippetKeys     = []string{"snippet", "Snippet"}
	linkKeys        = []string{"link", "Link"}
)

var statusSynonyms = map[string]internal.Status{
	"application":       internal.StatusApplied,
	"submitted":         internal.StatusApplied,
	"oa":                internal.StatusInterviewing,
	"assessment":        internal.StatusInterviewing,
	"online_assessment": internal.StatusInterviewing,
	"interview":         internal.StatusInterviewing,
	"phone_screen":      internal.StatusInterviewing,
	"accepted":          internal.StatusOffer,
	"declined":          internal.StatusRejected,
	"rejection":         internal.StatusRejected,
	"withdraw":          internal.StatusWithdrawn,
	"saved":             internal.StatusWishlist,
	"interested":        internal.StatusWishlist,
}

// NormalizeEvents maps provider records to canonical events, keeping order
// and length. now supplies the default applied date.
func NormalizeEvents(raws []internal.RawScanEvent, now time.Time) []internal.JobEvent {
	out := make([]internal.JobEvent, 0, len(raws))
	for _, raw := range raws {
		out = append(out, NormalizeEvent(raw, now))
	}
	return out
}

func NormalizeEvent(raw internal.RawScanEvent, now time.Time) internal.JobEvent {
	return internal.JobEvent{
		MessageID:   lookupText(raw, messageIDKeys),
		Company:     lookupText(raw, companyKeys),
		Title:       lookupText(raw, titleKeys),
		Status:      normalizeStatus(lookupText(raw, statusKeys)),
		AppliedDate: lookupDate(raw, appliedDateKeys, now),
		Subject:     lookupText(raw, subjectKeys),
		Snippet:     lookupText(raw, snippetKeys),
		Link:        lookupText(raw, linkKeys),
	}
}

func lookupText(raw internal.RawScanEvent, keys []string) string {
	for _, key := range keys {
		if s := textValue(raw[key]); s != "" {
			return s
		}
	}
	return ""
}

func lookupDate(raw internal.RawScanEvent, keys []string, now time.Time) time.Time {
	for _, key := range keys {
		if t, ok := dateValue(raw[key]); ok {
			return util.Day(t)
		}
	}
	return util.Day(now)
}

func textValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return ""
	}
}

func dateValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return *t, true
	case string:
		return util.ParseDateLoose(t)
	case json.Number:
		return util.ParseDateLoose(t.String())
	case float64:
		if t != float64(int64(t)) {
			return time.Time{}, false
		}
		return numericDate(int64(t))
	case int64:
		return numericDate(t)
	case int:
		return numericDate(int64(t))
	default:
		return time.Time{}, false
	}
}

// numericDate reads n the way a numeric string is read: a bare year or,
// with enough digits, epoch milliseconds.
func numericDate(n int64) (time.Time, bool) {
	if n <= 0 {
		return time.Time{}, false
	}
	return util.ParseDateLoose(strconv.FormatInt(n, 10))
}

func normalizeStatus(value string) internal.Status {
	if s, ok := internal.ParseStatus(value); ok {
		return s
	}
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), " ", "_")
	if s, ok := statusSynonyms[key]; ok {
		return s
	}
	return internal.StatusApplied
}
