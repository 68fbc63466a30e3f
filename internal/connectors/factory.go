package connectors

import (
	"fmt"

	"jobtrack/internal/config"
	"jobtrack/internal/connectors/gmail"
	"jobtrack/internal/connectors/imap"
	"jobtrack/internal/connectors/remote"
)

// New builds the scanner selected by MAIL_PROVIDER. creds keeps the Gmail
// refresh token between runs.
func New(cfg config.Config, creds gmail.TokenStore) (MailScanner, error) {
	switch cfg.MailProvider {
	case "", "gmail":
		return gmail.NewConnector(cfg, creds)
	case "imap":
		return imap.NewConnector(cfg)
	case "remote":
		return remote.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported MAIL_PROVIDER: %s", cfg.MailProvider)
	}
}
