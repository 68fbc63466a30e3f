package gmail

import (
	"strings"
	"time"
)

var applicationQueries = []string{
	`subject:"application received"`,
	`subject:"thanks for applying"`,
	`subject:"thank you for applying"`,
	`subject:"we received your application"`,
	`subject:"your application to"`,
	`subject:"applied for"`,
	`from:jobs-lever.co`,
	`from:greenhouse.io`,
	`from:workday.com`,
	`from:smartrecruiters.com`,
	`from:ashbyhq.com`,
	`from:workable.com`,
	`from:indeed.com`,
	`from:linkedin.com`,
}

var rejectionQueries = []string{
	`subject:"we regret"`,
	`subject:"unfortunately"`,
	`subject:"not moving forward"`,
	`subject:"no longer being considered"`,
	`subject:"pursue other candidates"`,
	`subject:"not selected"`,
}

const queryDateLayout = "2006/01/02"

// BuildQuery returns the Gmail search for application and rejection mail
// between since and until. Both days are included.
func BuildQuery(since, until time.Time) string {
	q := "(" + joined(applicationQueries) + " OR " + joined(rejectionQueries) + ")"
	if !since.IsZero() {
		q += " after:" + since.UTC().Format(queryDateLayout)
	}
	if !until.IsZero() {
		q += " before:" + until.UTC().AddDate(0, 0, 1).Format(queryDateLayout)
	}
	return q
}

func joined(qs []string) string { return "(" + strings.Join(qs, " OR ") + ")" }
