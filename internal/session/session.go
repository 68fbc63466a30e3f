package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"jobtrack/internal"
	"jobtrack/internal/errs"
	"jobtrack/internal/importer"
	"jobtrack/internal/pipeline"
	"jobtrack/internal/staging"
)

// Scanner is a mailbox behind connectors.ScanService.
type Scanner interface {
	Provider() string
	Scan(ctx context.Context, q internal.ScanQuery) ([]internal.RawScanEvent, error)
	Status(ctx context.Context) (internal.ConnectionStatus, error)
	Disconnect(ctx context.Context) error
}

// RunRecorder keeps a log of scans and commits. storage.DB implements it.
type RunRecorder interface {
	InsertRun(ctx context.Context, traceID, kind string, timings map[string]float64, counts map[string]int) error
}

type Options struct {
	Concurrency int
	Timeout     time.Duration
	Runs        RunRecorder
	Logger      logrus.FieldLogger
	Now         func() time.Time
}

// Session is one scan, review and import flow. Close cancels whatever is
// still running.
type Session struct {
	ID string

	scanner   Scanner
	store     importer.Store
	committer *importer.Committer
	staging   *staging.Set
	runs      RunRecorder
	log       logrus.FieldLogger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	scanGen uint64
	apps    internal.ListResult
}

func New(parent context.Context, scanner Scanner, store importer.Store, opts Options) *Session {
	id := uuid.NewString()
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("session", id)
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ID:        id,
		scanner:   scanner,
		store:     store,
		committer: importer.NewCommitter(store, opts.Concurrency, opts.Timeout, log),
		staging:   staging.New(nil),
		runs:      opts.Runs,
		log:       log,
		now:       now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Staging is the review set filled by the last scan.
func (s *Session) Staging() *staging.Set { return s.staging }

// bind ties ctx to the session lifetime.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

type ScanReport struct {
	Fetched    int
	Duplicates int
	New        int
	Rejected   int
}

func (r ScanReport) Message() string {
	switch {
	case r.New > 0 && r.Duplicates > 0:
		return fmt.Sprintf("Found %d new emails (%d already imported)", r.New, r.Duplicates)
	case r.New > 0:
		return fmt.Sprintf("Found %d job-related emails", r.New)
	case r.Duplicates > 0:
		return fmt.Sprintf("All %d emails were already imported", r.Duplicates)
	default:
		return "No job-related emails found in this date range"
	}
}

// Scan fetches job mail, drops messages already tracked, marks rejections
// and replaces the staging set. On error the staging set is left alone.
func (s *Session) Scan(ctx context.Context, q internal.ScanQuery) (ScanReport, error) {
	ctx, done := s.bind(ctx)
	defer done()

	s.mu.Lock()
	s.scanGen++
	gen := s.scanGen
	s.mu.Unlock()

	started := time.Now()
	raws, err := s.scanner.Scan(ctx, q)
	if err != nil {
		return ScanReport{}, err
	}
	scanned := time.Since(started)

	events := pipeline.NormalizeEvents(raws, s.now())

	existing, err := s.store.List(ctx, internal.ListFilter{})
	if err != nil {
		return ScanReport{}, errs.Wrap(err, "load existing applications")
	}
	kept, duplicates := pipeline.FilterDuplicates(events, existing.Items)
	rejected := pipeline.ClassifyRejections(kept)

	s.mu.Lock()
	if gen == s.scanGen {
		s.staging.Replace(kept)
		s.apps = existing
	}
	s.mu.Unlock()

	report := ScanReport{Fetched: len(events), Duplicates: duplicates, New: len(kept), Rejected: rejected}
	s.log.WithFields(logrus.Fields{
		"provider":   s.scanner.Provider(),
		"fetched":    report.Fetched,
		"duplicates": report.Duplicates,
		"new":        report.New,
		"rejected":   report.Rejected,
	}).Info("scan staged")
	s.recordRun(ctx, "scan", map[string]float64{
		"scan_ms":  float64(scanned.Milliseconds()),
		"total_ms": float64(time.Since(started).Milliseconds()),
	}, map[string]int{
		"fetched":    report.Fetched,
		"duplicates": report.Duplicates,
		"new":        report.New,
		"rejected":   report.Rejected,
	})
	return report, nil
}

// Commit imports the eligible staged rows. When nothing is eligible the
// ValidationError is returned and the staging set is kept. Otherwise the set
// is cleared and the application list refreshed, even after partial failure,
// unless a newer scan replaced the set while the commit ran.
func (s *Session) Commit(ctx context.Context) (internal.CommitResult, error) {
	ctx, done := s.bind(ctx)
	defer done()

	s.mu.Lock()
	gen := s.scanGen
	s.mu.Unlock()

	started := time.Now()
	result, err := s.committer.Commit(ctx, s.staging.Rows())
	if err != nil {
		return result, err
	}

	// A scan that finished meanwhile owns the staging set now.
	s.mu.Lock()
	if gen == s.scanGen {
		s.staging.Clear()
	}
	s.mu.Unlock()
	s.recordRun(ctx, "commit", map[string]float64{
		"commit_ms": float64(time.Since(started).Milliseconds()),
	}, map[string]int{
		"attempted":  result.Attempted,
		"succeeded":  result.Succeeded,
		"failed":     result.Failed,
		"duplicates": result.Duplicates,
	})

	if _, err := s.Refresh(ctx); err != nil {
		s.log.WithError(err).Warn("refresh applications after commit")
	}
	return result, nil
}

// CommitMessage is the summary shown once an import finished.
func CommitMessage(r internal.CommitResult) string {
	return fmt.Sprintf("Import complete! %d job(s) processed. %d failed.", r.Succeeded, r.Failed)
}

// Refresh reloads the application list from the store.
func (s *Session) Refresh(ctx context.Context) (internal.ListResult, error) {
	res, err := s.store.List(ctx, internal.ListFilter{})
	if err != nil {
		return internal.ListResult{}, err
	}
	s.mu.Lock()
	s.apps = res
	s.mu.Unlock()
	return res, nil
}

// Applications is the last list loaded by Scan or Refresh.
func (s *Session) Applications() internal.ListResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apps
}

// Discard drops the staged rows without importing.
func (s *Session) Discard() {
	s.staging.Clear()
}

func (s *Session) Status(ctx context.Context) (internal.ConnectionStatus, error) {
	ctx, done := s.bind(ctx)
	defer done()
	return s.scanner.Status(ctx)
}

func (s *Session) Disconnect(ctx context.Context) error {
	ctx, done := s.bind(ctx)
	defer done()
	if err := s.scanner.Disconnect(ctx); err != nil {
		return err
	}
	s.staging.Clear()
	return nil
}

// Close cancels in-flight calls and drops the staging set. Creates that
// already succeeded stay in the store.
func (s *Session) Close() {
	s.cancel()
	s.staging.Clear()
}

func (s *Session) recordRun(ctx context.Context, kind string, timings map[string]float64, counts map[string]int) {
	if s.runs == nil {
		return
	}
	if err := s.runs.InsertRun(context.WithoutCancel(ctx), s.ID, kind, timings, counts); err != nil {
		s.log.WithError(err).Warn("record run")
	}
}
