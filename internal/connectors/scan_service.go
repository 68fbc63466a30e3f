package connectors

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"jobtrack/internal"
	"jobtrack/internal/errs"
)

// ScanService puts the error taxonomy in front of a provider: a mailbox that
// is not connected yields a ConnectionError, any other provider failure a
// ScanError.
type ScanService struct {
	scanner MailScanner
	log     logrus.FieldLogger
}

func NewScanService(scanner MailScanner, log logrus.FieldLogger) *ScanService {
	return &ScanService{scanner: scanner, log: log}
}

func (s *ScanService) Provider() string { return s.scanner.Name() }

func (s *ScanService) Scan(ctx context.Context, q internal.ScanQuery) ([]internal.RawScanEvent, error) {
	status, err := s.scanner.Status(ctx)
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	if !status.Connected {
		return nil, &errs.ConnectionError{Provider: s.scanner.Name()}
	}

	started := time.Now()
	events, err := s.scanner.Scan(ctx, q)
	if err != nil {
		return nil, s.classify(ctx, err)
	}

	s.log.WithFields(logrus.Fields{
		"provider": s.scanner.Name(),
		"since":    q.Since.Format(internal.DateLayout),
		"until":    q.Until.Format(internal.DateLayout),
		"events":   len(events),
		"took_ms":  time.Since(started).Milliseconds(),
	}).Info("mailbox scanned")
	return events, nil
}

func (s *ScanService) Status(ctx context.Context) (internal.ConnectionStatus, error) {
	status, err := s.scanner.Status(ctx)
	if err != nil {
		return internal.ConnectionStatus{}, s.classify(ctx, err)
	}
	return status, nil
}

func (s *ScanService) Disconnect(ctx context.Context) error {
	if err := s.scanner.Disconnect(ctx); err != nil {
		return errs.Wrapf(err, "disconnect %s", s.scanner.Name())
	}
	s.log.WithField("provider", s.scanner.Name()).Info("mailbox disconnected")
	return nil
}

func (s *ScanService) classify(ctx context.Context, err error) error {
	switch {
	case errs.IsConnection(err), errs.IsScan(err):
		return err
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return err
	default:
		return &errs.ScanError{Provider: s.scanner.Name(), Err: err}
	}
}
