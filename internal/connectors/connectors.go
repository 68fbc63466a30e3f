package connectors

import (
	"context"

	"jobtrack/internal"
)

// MailScanner is a connected mailbox that can be searched for job mail.
// Scan dates are inclusive calendar days.
type MailScanner interface {
	Name() string
	Scan(ctx context.Context, q internal.ScanQuery) ([]internal.RawScanEvent, error)
	Status(ctx context.Context) (internal.ConnectionStatus, error)
	Disconnect(ctx context.Context) error
}
