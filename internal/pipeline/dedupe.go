package pipeline

import (
	"strings"

	"jobtrack/internal"
)

// FilterDuplicates drops candidates whose message id is already recorded on
// an existing application. Applications without a gmail message id never
// match anything.
func FilterDuplicates(candidates []internal.JobEvent, existing []internal.Application) ([]internal.JobEvent, int) {
	known := make(map[string]struct{}, len(existing))
	for _, app := range existing {
		id := strings.TrimSpace(app.GmailMessageID)
		if id == "" {
			continue
		}
		known[id] = struct{}{}
	}

	kept := make([]internal.JobEvent, 0, len(candidates))
	for _, ev := range candidates {
		if _, dup := known[ev.MessageID]; dup {
			continue
		}
		kept = append(kept, ev)
	}
	return kept, len(candidates) - len(kept)
}
