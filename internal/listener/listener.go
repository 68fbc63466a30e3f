package listener

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"jobtrack/internal"
	"jobtrack/internal/config"
	"jobtrack/internal/importer"
	"jobtrack/internal/pipeline"
	"jobtrack/internal/session"
	"jobtrack/internal/storage"
)

const lastCycleKey = "watch.last_cycle"

// Service scans the mailbox on an interval and writes the new candidates to
// a review workbook. Nothing is imported; that stays a reviewed step.
type Service struct {
	scanner session.Scanner
	store   importer.Store
	db      *storage.DB
	cfg     config.Config
	log     logrus.FieldLogger
	now     func() time.Time
}

type CycleResult struct {
	Report     session.ScanReport
	ExportPath string
}

// NewService checks candidates against store. db keeps the run log and the
// last cycle timestamp, whichever store is configured.
func NewService(scanner session.Scanner, store importer.Store, db *storage.DB, cfg config.Config, log logrus.FieldLogger) *Service {
	return &Service{scanner: scanner, store: store, db: db, cfg: cfg, log: log, now: time.Now}
}

func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.WatchIntervalSec) * time.Second
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	for {
		if _, err := s.RunCycle(ctx); err != nil {
			s.log.WithError(err).Error("watch cycle failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func (s *Service) RunCycle(ctx context.Context) (CycleResult, error) {
	sess := session.New(ctx, s.scanner, s.store, session.Options{
		Concurrency: s.cfg.ImportConcurrency,
		Timeout:     time.Duration(s.cfg.ImportTimeoutMs) * time.Millisecond,
		Runs:        s.db,
		Logger:      s.log,
		Now:         s.now,
	})
	defer sess.Close()

	now := s.now().UTC()
	q := internal.ScanQuery{
		Since:      now.AddDate(0, 0, -s.cfg.ScanLookbackDays),
		Until:      now,
		MaxResults: s.cfg.ScanMaxResults,
	}
	if timeout := time.Duration(s.cfg.ScanTimeoutMs) * time.Millisecond; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	report, err := sess.Scan(ctx, q)
	if err != nil {
		return CycleResult{}, err
	}
	result := CycleResult{Report: report}

	if s.cfg.WatchExport && report.New > 0 {
		filename := fmt.Sprintf("review_%s_%s.xlsx", now.Format("20060102_150405"), sess.ID[:8])
		result.ExportPath = filepath.Join(s.cfg.OutputDir, "review", filename)
		if err := pipeline.ExportReviewXLSX(sess.Staging().Rows(), result.ExportPath); err != nil {
			return result, err
		}
	}
	_ = s.db.SetMetadata(lastCycleKey, now.Format(time.RFC3339))

	s.log.WithFields(logrus.Fields{
		"provider": s.scanner.Provider(),
		"fetched":  report.Fetched,
		"new":      report.New,
		"export":   result.ExportPath,
	}).Info(report.Message())
	return result, nil
}
