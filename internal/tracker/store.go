package tracker

import (
	"jobtrack/internal/config"
	"jobtrack/internal/importer"
	"jobtrack/internal/storage"
)

// NewStore picks the application store from STORE_BACKEND: the remote
// tracker for "remote", the local database otherwise.
func NewStore(cfg config.Config, db *storage.DB) importer.Store {
	if cfg.StoreBackend == "remote" {
		return NewClient(cfg)
	}
	return db
}
