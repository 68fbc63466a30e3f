package importer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"jobtrack/internal"
	"jobtrack/internal/errs"
)

const (
	unknownCompany  = "Unknown Company"
	unknownPosition = "Unknown Position"
	notesPrefix     = "[Imported from Gmail] "

	defaultConcurrency = 4
)

// Store is the application store seen by the import flow. Create must
// tolerate a gmail message id that is already stored.
type Store interface {
	List(ctx context.Context, filter internal.ListFilter) (internal.ListResult, error)
	Create(ctx context.Context, req internal.ImportRequest) (internal.StoredApplication, error)
}

// EligibleRows keeps selected rows that carry a company or a title.
func EligibleRows(rows []internal.StagingRow) []internal.StagingRow {
	out := make([]internal.StagingRow, 0, len(rows))
	for _, row := range rows {
		if !row.Selected {
			continue
		}
		if strings.TrimSpace(row.Company) == "" && strings.TrimSpace(row.Title) == "" {
			continue
		}
		out = append(out, row)
	}
	return out
}

func BuildRequests(rows []internal.StagingRow) []internal.ImportRequest {
	eligible := EligibleRows(rows)
	out := make([]internal.ImportRequest, 0, len(eligible))
	for _, row := range eligible {
		out = append(out, BuildRequest(row))
	}
	return out
}

func BuildRequest(row internal.StagingRow) internal.ImportRequest {
	req := internal.ImportRequest{
		Company:        strings.TrimSpace(row.Company),
		Position:       strings.TrimSpace(row.Title),
		Status:         row.Status,
		URL:            strings.TrimSpace(row.Link),
		Notes:          notesPrefix + row.Subject,
		GmailMessageID: strings.TrimSpace(row.MessageID),
	}
	if req.Company == "" {
		req.Company = unknownCompany
	}
	if req.Position == "" {
		req.Position = unknownPosition
	}
	if !req.Status.Valid() {
		req.Status = internal.StatusApplied
	}
	if !row.AppliedDate.IsZero() {
		u := row.AppliedDate.UTC()
		day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
		req.AppliedDate = &day
	}
	return req
}

type Committer struct {
	store       Store
	concurrency int
	timeout     time.Duration
	log         logrus.FieldLogger
}

func NewCommitter(store Store, concurrency int, timeout time.Duration, log logrus.FieldLogger) *Committer {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Committer{store: store, concurrency: concurrency, timeout: timeout, log: log}
}

// Commit creates one application per eligible row. Individual failures are
// counted in the result; only an empty batch is reported as an error.
func (c *Committer) Commit(ctx context.Context, rows []internal.StagingRow) (internal.CommitResult, error) {
	requests := BuildRequests(rows)
	if len(requests) == 0 {
		return internal.CommitResult{}, errs.NewValidation("no rows selected for import: select at least one row with a company or position")
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		sem    = make(chan struct{}, c.concurrency)
		result = internal.CommitResult{Attempted: len(requests)}
	)

	for _, req := range requests {
		wg.Add(1)
		go func(req internal.ImportRequest) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				c.record(&mu, &result, req, internal.StoredApplication{}, ctx.Err())
				return
			}

			stored, err := c.create(ctx, req)
			c.record(&mu, &result, req, stored, err)
		}(req)
	}
	wg.Wait()

	c.log.WithFields(logrus.Fields{
		"attempted":  result.Attempted,
		"succeeded":  result.Succeeded,
		"failed":     result.Failed,
		"duplicates": result.Duplicates,
	}).Info("import committed")

	return result, nil
}

func (c *Committer) create(ctx context.Context, req internal.ImportRequest) (internal.StoredApplication, error) {
	if err := ctx.Err(); err != nil {
		return internal.StoredApplication{}, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.store.Create(ctx, req)
}

func (c *Committer) record(mu *sync.Mutex, result *internal.CommitResult, req internal.ImportRequest, stored internal.StoredApplication, err error) {
	mu.Lock()
	defer mu.Unlock()

	if err != nil {
		result.Failed++
		result.Failures = append(result.Failures, internal.CommitFailure{
			GmailMessageID: req.GmailMessageID,
			Company:        req.Company,
			Position:       req.Position,
			Error:          err.Error(),
		})
		c.log.WithError(err).WithFields(logrus.Fields{
			"gmail_message_id": req.GmailMessageID,
			"company":          req.Company,
		}).Warn("create application failed")
		return
	}

	result.Succeeded++
	if stored.Duplicate {
		result.Duplicates++
	}
}
