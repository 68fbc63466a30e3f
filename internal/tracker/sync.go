package tracker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"jobtrack/internal"
	"jobtrack/internal/config"
	"jobtrack/internal/storage"
)

const lastPullKey = "tracker.last_pull"

// SyncService mirrors the remote tracker into the local database so that
// duplicate filtering and exports work offline.
type SyncService struct {
	db     *storage.DB
	client *Client
	log    logrus.FieldLogger
}

func NewSyncService(db *storage.DB, cfg config.Config, log logrus.FieldLogger) *SyncService {
	return &SyncService{db: db, client: NewClient(cfg), log: log}
}

func (s *SyncService) Pull(ctx context.Context) (int, error) {
	res, err := s.client.List(ctx, internal.ListFilter{})
	if err != nil {
		return 0, err
	}
	if len(res.Items) > 0 {
		if err := s.db.UpsertApplications(ctx, res.Items); err != nil {
			return 0, err
		}
	}
	_ = s.db.SetMetadata(lastPullKey, time.Now().UTC().Format(time.RFC3339))
	s.log.WithField("applications", len(res.Items)).Info("tracker pull finished")
	return len(res.Items), nil
}

// LastPull reports when Pull last succeeded.
func (s *SyncService) LastPull() (time.Time, bool) {
	v, err := s.db.GetMetadata(lastPullKey)
	if err != nil || v == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, *v)
	return t, err == nil
}
